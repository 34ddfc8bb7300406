package models

import "time"

// SystemConfig is an operator-editable key/value setting.
type SystemConfig struct {
	ID          uint   `gorm:"primaryKey"`
	Key         string `gorm:"size:100;uniqueIndex;not null"`
	Value       string `gorm:"type:text"`
	Description string `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultSystemConfigs are seeded on startup when their key is missing.
func DefaultSystemConfigs() []SystemConfig {
	return []SystemConfig{
		{Key: "app_name", Value: "keychat", Description: "Application name"},
		{Key: "version", Value: "1.0.0", Description: "Application version"},
		{Key: "max_conversations", Value: "50", Description: "Maximum conversations per user"},
		{Key: "max_messages_per_conversation", Value: "100", Description: "Maximum messages per conversation"},
	}
}
