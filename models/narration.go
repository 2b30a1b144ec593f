package models

import (
	"time"

	"gorm.io/gorm"
)

// NarrationChunk is a contiguous piece of the script narrated as a single audio file.
type NarrationChunk struct {
	gorm.Model
	StoryID    uint   `json:"story_id" gorm:"uniqueIndex:idx_chunk_story_index"`
	Index      int    `json:"index" gorm:"column:position;uniqueIndex:idx_chunk_story_index"`
	Text       string `json:"text" gorm:"type:text"`
	AudioKey   string `json:"audio_key"`
	AudioURL   string `json:"audio_url"`
	DurationMS int64  `json:"duration_ms"`
	ImageCount int    `json:"image_count"`
}

func (c *NarrationChunk) Duration() time.Duration {
	return time.Duration(c.DurationMS) * time.Millisecond
}
