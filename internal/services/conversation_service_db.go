package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keychat_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrNegativeTokens       = errors.New("token count must not be negative")
)

const DefaultConversationListLimit = 10

// ConversationServiceDB owns conversations and their messages. Every read path
// goes through activeConversations, so cleared conversations never resurface.
//
// GetOrCreateActive is not serialized: two concurrent first messages from the
// same user can each create a conversation.
type ConversationServiceDB interface {
	GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Conversation, error)
	GetActive(ctx context.Context, userID uuid.UUID, conversationID uint) (*models.Conversation, error)
	CreateWithSystemPrompt(ctx context.Context, userID uuid.UUID, title, systemPrompt string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uint, role, content string, model *string, tokens *int) (*models.Message, error)
	ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationIDs []uint) (map[uint]int64, error)
	SoftDeleteAll(ctx context.Context, userID uuid.UUID) (bool, error)
}

type DefaultConversationService struct {
	db *gorm.DB
}

func NewConversationServiceDB(db *gorm.DB) ConversationServiceDB {
	return &DefaultConversationService{db: db}
}

func activeConversations(userID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND is_active = ?", userID, true)
	}
}

func (s *DefaultConversationService) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Scopes(activeConversations(userID)).
		Order("updated_at DESC, id DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find active conversation: %w", err)
	}

	conv = models.Conversation{
		UserID:   userID,
		Title:    models.DefaultConversationTitle,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

func (s *DefaultConversationService) GetActive(ctx context.Context, userID uuid.UUID, conversationID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Scopes(activeConversations(userID)).
		Where("id = ?", conversationID).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// CreateWithSystemPrompt stores the prompt on the conversation and as its first message.
func (s *DefaultConversationService) CreateWithSystemPrompt(ctx context.Context, userID uuid.UUID, title, systemPrompt string) (*models.Conversation, error) {
	if title == "" {
		title = models.DefaultConversationTitle
	}
	conv := &models.Conversation{
		UserID:   userID,
		Title:    title,
		IsActive: true,
	}
	if systemPrompt != "" {
		conv.SystemPrompt = &systemPrompt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		if systemPrompt == "" {
			return nil
		}
		return tx.Create(&models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleSystem,
			Content:        systemPrompt,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage inserts the message and bumps the conversation's updated_at in
// one transaction.
func (s *DefaultConversationService) AppendMessage(ctx context.Context, conversationID uint, role, content string, model *string, tokens *int) (*models.Message, error) {
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if tokens != nil && *tokens < 0 {
		return nil, ErrNegativeTokens
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          model,
		TokensUsed:     tokens,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Conversation{}).
			Where("id = ? AND is_active = ?", conversationID, true).
			Update("updated_at", time.Now())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *DefaultConversationService) ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = DefaultConversationListLimit
	}
	var conversations []models.Conversation
	err := s.db.WithContext(ctx).
		Scopes(activeConversations(userID)).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&conversations).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

func (s *DefaultConversationService) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *DefaultConversationService) CountMessages(ctx context.Context, conversationIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ConversationID uint
		Count          int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("conversation_id IN ?", conversationIDs).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	for _, row := range rows {
		counts[row.ConversationID] = row.Count
	}
	return counts, nil
}

// SoftDeleteAll flips every active conversation of the user to inactive.
// Rows are kept.
func (s *DefaultConversationService) SoftDeleteAll(ctx context.Context, userID uuid.UUID) (bool, error) {
	err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Scopes(activeConversations(userID)).
		Update("is_active", false).Error
	if err != nil {
		return false, fmt.Errorf("clear conversations: %w", err)
	}
	return true, nil
}
