package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	APITypeChat       = "chat"
	APITypeCompletion = "completion"

	UsageStatusSuccess = "success"
	UsageStatusError   = "error"
)

// UsageRecord is one row of the append-only API call ledger.
type UsageRecord struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;index;not null"`
	APIType      string    `gorm:"size:20;not null"`
	Model        string    `gorm:"size:50;not null"`
	TokensUsed   int       `gorm:"not null"`
	Cost         *float64
	// ResponseTime is the upstream round trip in seconds.
	ResponseTime *float64
	Status       string `gorm:"size:20;default:success"`
	CreatedAt    time.Time
}

type Completion struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null"`
	Prompt      string    `gorm:"type:text;not null"`
	Completion  string    `gorm:"type:text;not null"`
	Model       string    `gorm:"size:50;not null"`
	MaxTokens   *int
	Temperature *float64
	TokensUsed  *int
	CreatedAt   time.Time
}
