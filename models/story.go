package models

import (
	"strings"

	"gorm.io/gorm"
)

// StoryStatus tracks how far a story has progressed through the pipeline.
type StoryStatus string

const (
	StoryDraft       StoryStatus = "draft"
	StoryScripted    StoryStatus = "scripted"
	StoryNarrated    StoryStatus = "narrated"
	StoryIllustrated StoryStatus = "illustrated"
	StoryRendered    StoryStatus = "rendered"
)

type Story struct {
	gorm.Model
	UserID         uint             `json:"user_id" gorm:"index"`
	Title          string           `json:"title"`
	Prompt         string           `json:"prompt" gorm:"type:text"`
	AgeGroup       string           `json:"age_group"`
	Script         string           `json:"script" gorm:"type:text"`
	Status         StoryStatus      `json:"status" gorm:"default:draft"`
	NarrationVoice string           `json:"narration_voice"`
	ImageStyle     string           `json:"image_style"`
	VideoURL       string           `json:"video_url"`
	Chunks         []NarrationChunk `json:"chunks,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Images         []GeneratedImage `json:"images,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// HasScript reports whether the LLM script step has produced output.
func (s *Story) HasScript() bool {
	return strings.TrimSpace(s.Script) != ""
}
