package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultConversationTitle = "New conversation"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;index;not null"`
	Title        string    `gorm:"size:200"`
	SystemPrompt *string   `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool      `gorm:"index;default:true"`
	Messages     []Message `gorm:"foreignKey:ConversationID"`
}

// HasSystemPrompt reports whether the conversation was created as a custom assistant.
func (c *Conversation) HasSystemPrompt() bool {
	return c.SystemPrompt != nil && *c.SystemPrompt != ""
}

type Message struct {
	ID             uint    `gorm:"primaryKey"`
	ConversationID uint    `gorm:"index;not null"`
	Role           string  `gorm:"size:20;not null"`
	Content        string  `gorm:"type:text;not null"`
	Model          *string `gorm:"size:50"`
	TokensUsed     *int
	CreatedAt      time.Time
}

func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
