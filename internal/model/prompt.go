package model

import "time"

// PromptRecord is keyed by a unique string (spec §3). All planner/assistant
// prompt consumption routes through the Prompt Registry, never a literal at
// the call site.
type PromptRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Title     string    `gorm:"size:255" json:"title"`
	Role      string    `gorm:"size:16" json:"role"` // system|user
	Content   string    `gorm:"type:text;not null" json:"content"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	Tags      JSONMap   `gorm:"type:json" json:"tags,omitempty"`
	IsActive  bool      `gorm:"not null;default:true" json:"isActive"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
	UpdatedBy string    `gorm:"size:64" json:"updatedBy,omitempty"`
}

func (PromptRecord) TableName() string { return "ai_prompts" }
