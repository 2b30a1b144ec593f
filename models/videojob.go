package models

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Active reports whether a job still occupies its story's render slot.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

type VideoJob struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID    uint       `json:"story_id" gorm:"index"`
	UserID     uint       `json:"user_id" gorm:"index"`
	Status     JobStatus  `json:"status" gorm:"index"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	VideoKey   string     `json:"video_key,omitempty"`
	VideoURL   string     `json:"video_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
