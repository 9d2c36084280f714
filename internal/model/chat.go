package model

import "time"

// ChatSession is identified by (id, user_id); ownership is strict (spec §3).
type ChatSession struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"userId"`
	TripID    *uint      `json:"tripId,omitempty"`
	OpenedAt  time.Time  `gorm:"autoCreateTime" json:"openedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	Meta      JSONMap    `gorm:"type:json" json:"meta,omitempty"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

// MessageRole enumerates the three roles a persisted message may carry.
type MessageRole string

const (
	RoleUserMsg      MessageRole = "user"
	RoleAssistantMsg MessageRole = "assistant"
	RoleSystemMsg    MessageRole = "system"
)

// Message is owned by ChatSession (spec §3). Streamed chunks are never
// persisted individually — only the final composed content.
type Message struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	SessionID string      `gorm:"index:idx_session_created;size:64;not null" json:"sessionId"`
	Role      MessageRole `gorm:"size:16;not null" json:"role"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Tokens    *int        `json:"tokens,omitempty"`
	Meta      JSONMap     `gorm:"type:json" json:"meta,omitempty"`
	CreatedAt time.Time   `gorm:"index:idx_session_created;autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }
