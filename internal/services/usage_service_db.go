package services

import (
	"context"
	"errors"
	"fmt"

	"keychat_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNegativeCost = errors.New("cost must not be negative")

type UsageEntry struct {
	UserID       uuid.UUID
	APIType      string
	Model        string
	TokensUsed   int
	Cost         *float64
	ResponseTime *float64
	Status       string
}

// UsageLedger is write only; reporting reads the tables directly.
type UsageLedger interface {
	Record(ctx context.Context, entry UsageEntry) error
	SaveCompletion(ctx context.Context, completion *models.Completion) error
}

type DefaultUsageLedger struct {
	db *gorm.DB
}

func NewUsageLedger(db *gorm.DB) UsageLedger {
	return &DefaultUsageLedger{db: db}
}

func (l *DefaultUsageLedger) Record(ctx context.Context, entry UsageEntry) error {
	if entry.TokensUsed < 0 {
		return ErrNegativeTokens
	}
	if entry.Cost != nil && *entry.Cost < 0 {
		return ErrNegativeCost
	}
	if entry.Status == "" {
		entry.Status = models.UsageStatusSuccess
	}

	record := &models.UsageRecord{
		UserID:       entry.UserID,
		APIType:      entry.APIType,
		Model:        entry.Model,
		TokensUsed:   entry.TokensUsed,
		Cost:         entry.Cost,
		ResponseTime: entry.ResponseTime,
		Status:       entry.Status,
	}
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("save usage record: %w", err)
	}
	return nil
}

func (l *DefaultUsageLedger) SaveCompletion(ctx context.Context, completion *models.Completion) error {
	if completion.TokensUsed != nil && *completion.TokensUsed < 0 {
		return ErrNegativeTokens
	}
	if err := l.db.WithContext(ctx).Create(completion).Error; err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	return nil
}
