package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keychat_go_backend/internal/api"
	"keychat_go_backend/internal/auth"
	"keychat_go_backend/internal/database"
	"keychat_go_backend/internal/models"
	"keychat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAPIKey = "sk-test-0123456789"

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

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	llm    *MockLLMClient
	cookie *http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.InitDB("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	llm := new(MockLLMClient)
	userService := services.NewUserService(db)
	conversations := services.NewConversationServiceDB(db)
	chatService := services.NewChatService(conversations, services.NewUsageLedger(db), llm, models.DefaultModelCatalog())
	sessions := auth.NewSessionManager([]byte("test-secret"), time.Hour, false)

	r := gin.New()
	r.Use(api.RequestLogger())
	auth.SetupRoutes(r, sessions, userService, llm)
	api.SetupRoutes(r, sessions, userService, conversations, chatService)

	return &testServer{router: r, db: db, llm: llm}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) {
	t.Helper()
	s.llm.On("ListModels", mock.Anything, testAPIKey).Return([]string{"gpt-3.5-turbo", "gpt-4o"}, nil).Once()

	w := s.do(t, http.MethodPost, "/login", gin.H{"api_key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			s.cookie = c
		}
	}
	require.NotNil(t, s.cookie)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	return body["error"].(map[string]interface{})["message"].(string)
}

func TestLoginChatAndListConversations(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.MatchedBy(func(req services.ChatRequest) bool {
		return len(req.Messages) == 1 && req.Messages[0].Content == "hi"
	})).Return(&services.ChatResult{
		Content: "Hello! How can I help?",
		Usage:   services.TokenUsage{PromptTokens: 8, CompletionTokens: 6, TotalTokens: 14},
	}, nil).Once()

	w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "hi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	chat := decode(t, w)
	assert.Equal(t, "Hello! How can I help?", chat["response"])
	assert.Equal(t, services.DefaultChatModel, chat["model"])
	conversationID, ok := chat["conversation_id"].(float64)
	require.True(t, ok)
	usage := chat["usage"].(map[string]interface{})
	assert.EqualValues(t, 14, usage["total_tokens"])
	assert.EqualValues(t, 8, usage["prompt_tokens"])

	w = s.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decode(t, w)["conversations"].([]interface{})
	require.Len(t, list, 1)
	conv := list[0].(map[string]interface{})
	assert.Equal(t, conversationID, conv["id"])
	assert.EqualValues(t, 2, conv["message_count"])
	assert.Equal(t, false, conv["is_custom_assistant"])
	_, hasPreview := conv["system_prompt_preview"]
	assert.False(t, hasPreview)

	var record models.UsageRecord
	require.NoError(t, s.db.Where("status = ?", models.UsageStatusSuccess).First(&record).Error)
	assert.Equal(t, 14, record.TokensUsed)
	assert.Equal(t, models.APITypeChat, record.APIType)

	s.llm.AssertExpectations(t)
}

func TestChatUpstreamFailure(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.Anything).
		Return(nil, fmt.Errorf("dial tcp: connection refused")).Once()

	w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "are you there?"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	msg := errorMessage(t, w)
	assert.Equal(t, "Chat failed, please try again", msg)
	assert.NotContains(t, msg, "connection refused")

	var records []models.UsageRecord
	require.NoError(t, s.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].TokensUsed)
	assert.Equal(t, models.UsageStatusError, records[0].Status)

	var messages []models.Message
	require.NoError(t, s.db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "are you there?", messages[0].Content)
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	t.Run("empty message", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("temperature out of range", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "hi", "temperature": 5})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("zero conversation id falls back to active conversation", func(t *testing.T) {
		s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.Anything).
			Return(&services.ChatResult{Content: "ok", Usage: services.TokenUsage{TotalTokens: 3}}, nil).Once()

		w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "hi", "conversation_id": 0})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotZero(t, decode(t, w)["conversation_id"])
	})

	t.Run("unknown conversation", func(t *testing.T) {
		var before int64
		require.NoError(t, s.db.Model(&models.Message{}).Count(&before).Error)

		w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "hi", "conversation_id": 4242})
		assert.Equal(t, http.StatusNotFound, w.Code)

		var after int64
		require.NoError(t, s.db.Model(&models.Message{}).Count(&after).Error)
		assert.Equal(t, before, after)
	})
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing key", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/login", gin.H{"api_key": ""})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/login", gin.H{"api_key": "pk-123456789"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		s.llm.AssertNotCalled(t, "ListModels", mock.Anything, mock.Anything)
	})

	t.Run("upstream rejects key", func(t *testing.T) {
		s.llm.On("ListModels", mock.Anything, "sk-revoked-key-000").Return(nil, fmt.Errorf("401 invalid_api_key")).Once()

		w := s.do(t, http.MethodPost, "/login", gin.H{"api_key": "sk-revoked-key-000"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var count int64
		require.NoError(t, s.db.Model(&models.User{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestStatusAndLogout(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["logged_in"])

	s.login(t)
	w = s.do(t, http.MethodGet, "/api/status", nil)
	status := decode(t, w)
	assert.Equal(t, true, status["logged_in"])
	assert.Equal(t, "running", status["status"])
	assert.NotEmpty(t, status["last_login"])

	w = s.do(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s.cookie = nil

	w = s.do(t, http.MethodGet, "/api/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClearHistory(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.Anything).
		Return(&services.ChatResult{Content: "ok", Usage: services.TokenUsage{TotalTokens: 2}}, nil).Once()
	w := s.do(t, http.MethodPost, "/api/chat", gin.H{"message": "remember this"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/clear_history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["conversations"])

	var count int64
	require.NoError(t, s.db.Model(&models.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateAssistant(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	longPrompt := "You are a meticulous Go code reviewer. " + strings.Repeat("Point out every race. ", 10)
	s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.MatchedBy(func(req services.ChatRequest) bool {
		return req.MaxTokens == 500
	})).Return(&services.ChatResult{Content: longPrompt}, nil).Once()
	s.llm.On("CreateChatCompletion", mock.Anything, testAPIKey, mock.MatchedBy(func(req services.ChatRequest) bool {
		return req.MaxTokens == 50
	})).Return(&services.ChatResult{Content: "Go Reviewer"}, nil).Once()

	w := s.do(t, http.MethodPost, "/api/create_assistant", gin.H{"request": "review my Go code"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	created := decode(t, w)["conversation"].(map[string]interface{})
	assert.Equal(t, "Go Reviewer", created["title"])
	assert.Equal(t, strings.TrimSpace(longPrompt), created["system_prompt"])

	w = s.do(t, http.MethodGet, "/api/conversations", nil)
	list := decode(t, w)["conversations"].([]interface{})
	require.Len(t, list, 1)
	conv := list[0].(map[string]interface{})
	assert.Equal(t, true, conv["is_custom_assistant"])
	assert.EqualValues(t, 1, conv["message_count"])
	preview := conv["system_prompt_preview"].(string)
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Len(t, []rune(preview), 103)

	t.Run("empty request", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/create_assistant", gin.H{"request": ""})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompletion(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	s.llm.On("CreateCompletion", mock.Anything, testAPIKey, services.CompletionRequest{
		Model:       services.DefaultCompletionModel,
		Prompt:      "Say hi",
		MaxTokens:   services.DefaultMaxTokens,
		Temperature: services.DefaultTemperature,
	}).Return(&services.CompletionResult{Text: " hi", Usage: services.TokenUsage{TotalTokens: 4}}, nil).Once()

	w := s.do(t, http.MethodPost, "/api/completion", gin.H{"prompt": "Say hi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, " hi", decode(t, w)["completion"])

	var stored models.Completion
	require.NoError(t, s.db.First(&stored).Error)
	assert.Equal(t, "Say hi", stored.Prompt)

	var record models.UsageRecord
	require.NoError(t, s.db.First(&record).Error)
	assert.Equal(t, models.APITypeCompletion, record.APIType)
	assert.Equal(t, 4, record.TokensUsed)
}
