package models

import "gorm.io/gorm"

// GeneratedImage is one illustration shown during [StartMS, EndMS) of a chunk's narration.
type GeneratedImage struct {
	gorm.Model
	StoryID    uint   `json:"story_id" gorm:"index"`
	ChunkIndex int    `json:"chunk_index"`
	Index      int    `json:"index" gorm:"column:position"`
	Prompt     string `json:"prompt" gorm:"type:text"`
	ImageKey   string `json:"image_key"`
	ImageURL   string `json:"image_url"`
	StartMS    int64  `json:"start_ms"`
	EndMS      int64  `json:"end_ms"`
}
