package model

import "time"

// DefaultSessionTitle 是新会话的标题，首条消息后会被替换。
const DefaultSessionTitle = "New Chat"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 对应 chat_sessions 表。
type ChatSession struct {
	ID        string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   string        `gorm:"type:varchar(36);index;not null" json:"owner_id"`
	Title     string        `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	Messages  []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 是会话中的单条消息。
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID string    `gorm:"type:varchar(36);index;not null" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content   string    `gorm:"type:text;not null" json:"content"`
	Sources   Sources   `gorm:"type:json" json:"sources"`
	CreatedAt time.Time `gorm:"type:datetime(3);autoCreateTime" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
