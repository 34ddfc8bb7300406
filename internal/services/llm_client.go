package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"keychat_go_backend/internal/models"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var ErrEmptyUpstreamResponse = errors.New("upstream returned no choices")

type ChatMessage struct {
	Role      string
	Content   string
	ImageURLs []string
}

type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResult struct {
	Content string
	Usage   TokenUsage
}

type CompletionResult struct {
	Text  string
	Usage TokenUsage
}

// LLMClient is the upstream completion provider. Every call authenticates with
// the caller's own key.
type LLMClient interface {
	ListModels(ctx context.Context, apiKey string) ([]string, error)
	CreateChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*ChatResult, error)
	CreateCompletion(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResult, error)
}

type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) client(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return openai.NewClient(opts...)
}

// ListModels doubles as key verification: an error or an empty list means the
// key is not usable.
func (c *OpenAIClient) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	client := c.client(apiKey)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, apiKey string, req ChatRequest) (*ChatResult, error) {
	client := c.client(apiKey)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyUpstreamResponse
	}
	return &ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage:   usageFrom(resp.Usage),
	}, nil
}

func (c *OpenAIClient) CreateCompletion(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResult, error) {
	client := c.client(apiKey)
	resp, err := client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(req.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("text completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyUpstreamResponse
	}
	return &CompletionResult{
		Text:  resp.Choices[0].Text,
		Usage: usageFrom(resp.Usage),
	}, nil
}

func usageFrom(u openai.CompletionUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.ImageURLs) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(m.Content)}
			for _, url := range m.ImageURLs {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}
