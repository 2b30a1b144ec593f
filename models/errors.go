package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrJobActive         = errors.New("a video job is already active for this story")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrBusy              = errors.New("another operation is running on this story")
)
