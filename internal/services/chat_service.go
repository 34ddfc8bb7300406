package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keychat_go_backend/internal/models"
	"keychat_go_backend/internal/utils/textutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultChatModel       = "gpt-3.5-turbo"
	DefaultCompletionModel = "gpt-3.5-turbo-instruct"
	DefaultAssistantModel  = "gpt-4"
	DefaultMaxTokens       = 1000
	DefaultTemperature     = 0.7

	assistantPromptMaxTokens = 500
	assistantTitleMaxTokens  = 50
	titlePromptPreviewLen    = 100
)

var (
	ErrEmptyMessage     = errors.New("message must not be empty")
	ErrEmptyPrompt      = errors.New("prompt must not be empty")
	ErrEmptyRequirement = errors.New("assistant requirement must not be empty")
)

type ChatInput struct {
	UserID         uuid.UUID
	APIKey         string
	Message        string
	Model          string
	MaxTokens      int
	Temperature    float64
	ImageURLs      []string
	ConversationID *uint
}

type ChatOutput struct {
	Reply        string
	Model        string
	Conversation *models.Conversation
	Usage        TokenUsage
}

type CompletionInput struct {
	UserID      uuid.UUID
	APIKey      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type CompletionOutput struct {
	Text  string
	Model string
	Usage TokenUsage
}

type ChatService struct {
	conversations ConversationServiceDB
	ledger        UsageLedger
	llm           LLMClient
	catalog       *models.ModelCatalog
}

func NewChatService(conversations ConversationServiceDB, ledger UsageLedger, llm LLMClient, catalog *models.ModelCatalog) *ChatService {
	return &ChatService{
		conversations: conversations,
		ledger:        ledger,
		llm:           llm,
		catalog:       catalog,
	}
}

// Chat runs one chat turn. The user message is persisted before the upstream
// call and stays persisted if the call fails. Any failure after the
// conversation is resolved is ledgered with zero tokens.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	log := zerolog.Ctx(ctx)

	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return nil, ErrEmptyMessage
	}
	applyDefaults(&in.Model, &in.MaxTokens, &in.Temperature, DefaultChatModel)

	var conv *models.Conversation
	var err error
	// id 0 means no explicit conversation
	if in.ConversationID != nil && *in.ConversationID != 0 {
		conv, err = s.conversations.GetActive(ctx, in.UserID, *in.ConversationID)
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
	} else {
		conv, err = s.conversations.GetOrCreateActive(ctx, in.UserID)
	}
	if err != nil {
		s.recordFailure(ctx, in.UserID, models.APITypeChat, in.Model)
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	out, err := s.chatTurn(ctx, conv, in)
	if err != nil {
		log.Error().Err(err).Uint("conversation_id", conv.ID).Str("model", in.Model).Msg("Chat failed")
		s.recordFailure(ctx, in.UserID, models.APITypeChat, in.Model)
		return nil, err
	}

	log.Info().
		Uint("conversation_id", conv.ID).
		Str("model", in.Model).
		Int("tokens", out.Usage.TotalTokens).
		Int("images", len(in.ImageURLs)).
		Msg("Chat succeeded")
	return out, nil
}

func (s *ChatService) chatTurn(ctx context.Context, conv *models.Conversation, in ChatInput) (*ChatOutput, error) {
	if _, err := s.conversations.AppendMessage(ctx, conv.ID, models.RoleUser, in.Message, nil, nil); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	history, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	var images []string
	if s.catalog.SupportsVision(in.Model) {
		images = in.ImageURLs
	}

	start := time.Now()
	result, err := s.llm.CreateChatCompletion(ctx, in.APIKey, ChatRequest{
		Model:       in.Model,
		Messages:    BuildPromptMessages(conv, history, images),
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Seconds()

	model := in.Model
	tokens := result.Usage.TotalTokens
	if _, err := s.conversations.AppendMessage(ctx, conv.ID, models.RoleAssistant, result.Content, &model, &tokens); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	s.record(ctx, UsageEntry{
		UserID:       in.UserID,
		APIType:      models.APITypeChat,
		Model:        in.Model,
		TokensUsed:   tokens,
		Cost:         s.catalog.EstimateCost(in.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens),
		ResponseTime: &elapsed,
		Status:       models.UsageStatusSuccess,
	})

	return &ChatOutput{
		Reply:        result.Content,
		Model:        in.Model,
		Conversation: conv,
		Usage:        result.Usage,
	}, nil
}

// BuildPromptMessages lays out the upstream message list: the conversation's
// system prompt, then the stored history without its system rows. When images
// is non-empty they are attached to the final user turn.
func BuildPromptMessages(conv *models.Conversation, history []models.Message, images []string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+1)
	if conv.HasSystemPrompt() {
		messages = append(messages, ChatMessage{Role: models.RoleSystem, Content: *conv.SystemPrompt})
	}
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	if len(images) > 0 && len(messages) > 0 && messages[len(messages)-1].Role == models.RoleUser {
		messages[len(messages)-1].ImageURLs = images
	}
	return messages
}

func (s *ChatService) Complete(ctx context.Context, in CompletionInput) (*CompletionOutput, error) {
	log := zerolog.Ctx(ctx)

	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	applyDefaults(&in.Model, &in.MaxTokens, &in.Temperature, DefaultCompletionModel)

	start := time.Now()
	result, err := s.llm.CreateCompletion(ctx, in.APIKey, CompletionRequest{
		Model:       in.Model,
		Prompt:      in.Prompt,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		log.Error().Err(err).Str("model", in.Model).Msg("Completion failed")
		s.recordFailure(ctx, in.UserID, models.APITypeCompletion, in.Model)
		return nil, err
	}
	elapsed := time.Since(start).Seconds()

	tokens := result.Usage.TotalTokens
	maxTokens := in.MaxTokens
	temperature := in.Temperature
	err = s.ledger.SaveCompletion(ctx, &models.Completion{
		UserID:      in.UserID,
		Prompt:      in.Prompt,
		Completion:  result.Text,
		Model:       in.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TokensUsed:  &tokens,
	})
	if err != nil {
		log.Error().Err(err).Str("model", in.Model).Msg("Saving completion failed")
		s.recordFailure(ctx, in.UserID, models.APITypeCompletion, in.Model)
		return nil, err
	}

	s.record(ctx, UsageEntry{
		UserID:       in.UserID,
		APIType:      models.APITypeCompletion,
		Model:        in.Model,
		TokensUsed:   tokens,
		Cost:         s.catalog.EstimateCost(in.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens),
		ResponseTime: &elapsed,
		Status:       models.UsageStatusSuccess,
	})

	log.Info().Str("model", in.Model).Int("tokens", tokens).Msg("Completion succeeded")
	return &CompletionOutput{Text: result.Text, Model: in.Model, Usage: result.Usage}, nil
}

// CreateAssistant asks the upstream model for a system prompt matching the
// requirement, then for a short title, and stores both as a new conversation.
func (s *ChatService) CreateAssistant(ctx context.Context, userID uuid.UUID, apiKey, requirement, model string) (*models.Conversation, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, ErrEmptyRequirement
	}
	if model == "" {
		model = DefaultAssistantModel
	}

	promptResult, err := s.llm.CreateChatCompletion(ctx, apiKey, ChatRequest{
		Model:       model,
		Messages:    []ChatMessage{{Role: models.RoleUser, Content: systemPromptRequest(requirement)}},
		MaxTokens:   assistantPromptMaxTokens,
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate system prompt: %w", err)
	}
	systemPrompt := strings.TrimSpace(promptResult.Content)

	titleResult, err := s.llm.CreateChatCompletion(ctx, apiKey, ChatRequest{
		Model:       model,
		Messages:    []ChatMessage{{Role: models.RoleUser, Content: titleRequest(requirement, systemPrompt)}},
		MaxTokens:   assistantTitleMaxTokens,
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate title: %w", err)
	}
	title := strings.Trim(strings.TrimSpace(titleResult.Content), `"`)

	conv, err := s.conversations.CreateWithSystemPrompt(ctx, userID, title, systemPrompt)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Uint("conversation_id", conv.ID).Str("title", conv.Title).Msg("Custom assistant created")
	return conv, nil
}

func systemPromptRequest(requirement string) string {
	return fmt.Sprintf(`Write a professional system prompt that turns an AI model into a dedicated assistant for the need below.

User need: %s

Requirements:
1. The prompt must be clear, professional and practical.
2. Describe the assistant's role, capabilities and rules of conduct.
3. Make sure the assistant can effectively carry out the described task.
4. Keep it concise.

Return only the system prompt text.`, requirement)
}

func titleRequest(requirement, systemPrompt string) string {
	preview := textutil.Truncate(systemPrompt, titlePromptPreviewLen)
	return fmt.Sprintf(`Write a short conversation title (at most 20 words) for the following assistant.

User need: %s
System prompt: %s...

Return only the title.`, requirement, preview)
}

func applyDefaults(model *string, maxTokens *int, temperature *float64, defaultModel string) {
	if *model == "" {
		*model = defaultModel
	}
	if *maxTokens <= 0 {
		*maxTokens = DefaultMaxTokens
	}
	if *temperature < 0 {
		*temperature = DefaultTemperature
	}
}

func (s *ChatService) recordFailure(ctx context.Context, userID uuid.UUID, apiType, model string) {
	s.record(ctx, UsageEntry{
		UserID:     userID,
		APIType:    apiType,
		Model:      model,
		TokensUsed: 0,
		Status:     models.UsageStatusError,
	})
}

// record never fails the request; a lost ledger row is only logged.
func (s *ChatService) record(ctx context.Context, entry UsageEntry) {
	if err := s.ledger.Record(ctx, entry); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("api_type", entry.APIType).Str("status", entry.Status).Msg("Failed to save usage record")
	}
}
