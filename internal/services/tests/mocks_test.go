package services_test

import (
	"context"

	"keychat_go_backend/internal/models"
	"keychat_go_backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLLMClient) CreateChatCompletion(ctx context.Context, apiKey string, req services.ChatRequest) (*services.ChatResult, error) {
	args := m.Called(ctx, apiKey, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ChatResult), args.Error(1)
}

func (m *MockLLMClient) CreateCompletion(ctx context.Context, apiKey string, req services.CompletionRequest) (*services.CompletionResult, error) {
	args := m.Called(ctx, apiKey, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CompletionResult), args.Error(1)
}

type MockConversationServiceDB struct {
	mock.Mock
}

func (m *MockConversationServiceDB) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationServiceDB) GetActive(ctx context.Context, userID uuid.UUID, conversationID uint) (*models.Conversation, error) {
	args := m.Called(ctx, userID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationServiceDB) CreateWithSystemPrompt(ctx context.Context, userID uuid.UUID, title, systemPrompt string) (*models.Conversation, error) {
	args := m.Called(ctx, userID, title, systemPrompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationServiceDB) AppendMessage(ctx context.Context, conversationID uint, role, content string, model *string, tokens *int) (*models.Message, error) {
	args := m.Called(ctx, conversationID, role, content, model, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockConversationServiceDB) ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockConversationServiceDB) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockConversationServiceDB) CountMessages(ctx context.Context, conversationIDs []uint) (map[uint]int64, error) {
	args := m.Called(ctx, conversationIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint]int64), args.Error(1)
}

func (m *MockConversationServiceDB) SoftDeleteAll(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockUsageLedger struct {
	mock.Mock
}

func (m *MockUsageLedger) Record(ctx context.Context, entry services.UsageEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockUsageLedger) SaveCompletion(ctx context.Context, completion *models.Completion) error {
	args := m.Called(ctx, completion)
	return args.Error(0)
}
