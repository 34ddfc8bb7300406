package api

import (
	"errors"
	"net/http"
	"time"

	"keychat_go_backend/internal/auth"
	apperrors "keychat_go_backend/internal/errors"
	"keychat_go_backend/internal/services"
	"keychat_go_backend/internal/utils/textutil"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const systemPromptPreviewLen = 100

func SetupRoutes(r *gin.Engine, sessions *auth.SessionManager, userService services.CredentialStore, conversations services.ConversationServiceDB, chatService *services.ChatService) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/status", statusHandler(sessions, userService))

		authed := api.Group("", auth.AuthMiddleware(sessions, userService))
		authed.POST("/chat", chatHandler(chatService))
		authed.POST("/completion", completionHandler(chatService))
		authed.POST("/clear_history", clearHistoryHandler(conversations))
		authed.GET("/conversations", listConversationsHandler(conversations))
		authed.POST("/create_assistant", createAssistantHandler(chatService))
	}
}

func statusHandler(sessions *auth.SessionManager, userService services.CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessions.Read(c)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"logged_in": false, "status": "not_logged_in"})
			return
		}

		user, err := userService.GetByID(c.Request.Context(), session.UserID)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				c.JSON(http.StatusOK, gin.H{"logged_in": false, "status": "user_not_found"})
				return
			}
			apperrors.HandleError(c, err)
			return
		}

		var lastLogin *string
		if user.LastLogin != nil {
			formatted := user.LastLogin.Format(time.RFC3339)
			lastLogin = &formatted
		}
		c.JSON(http.StatusOK, gin.H{
			"logged_in":  true,
			"status":     "running",
			"user_id":    user.ID,
			"last_login": lastLogin,
		})
	}
}

type chatImage struct {
	Data string `json:"data" binding:"required"`
}

type chatRequest struct {
	Message        string      `json:"message"`
	Model          string      `json:"model"`
	MaxTokens      *int        `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature    *float64    `json:"temperature" binding:"omitempty,min=0,max=2"`
	Images         []chatImage `json:"images" binding:"omitempty,dive"`
	ConversationID *uint       `json:"conversation_id"`
}

func chatHandler(chatService *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := auth.FromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error(""))
			return
		}

		var request chatRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		imageURLs := make([]string, 0, len(request.Images))
		for _, img := range request.Images {
			imageURLs = append(imageURLs, img.Data)
		}

		out, err := chatService.Chat(c.Request.Context(), services.ChatInput{
			UserID:         rc.User.ID,
			APIKey:         rc.APIKey,
			Message:        request.Message,
			Model:          request.Model,
			MaxTokens:      intOr(request.MaxTokens, services.DefaultMaxTokens),
			Temperature:    floatOr(request.Temperature, services.DefaultTemperature),
			ImageURLs:      imageURLs,
			ConversationID: request.ConversationID,
		})
		if err != nil {
			switch {
			case errors.Is(err, services.ErrEmptyMessage):
				apperrors.HandleError(c, apperrors.New400Error("Message must not be empty"))
			case errors.Is(err, services.ErrConversationNotFound):
				apperrors.HandleError(c, apperrors.New404Error("Conversation not found"))
			default:
				apperrors.HandleError(c, apperrors.New500Error("Chat failed, please try again", err))
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"response":           out.Reply,
			"model":              out.Model,
			"conversation_id":    out.Conversation.ID,
			"conversation_title": out.Conversation.Title,
			"usage":              out.Usage,
		})
	}
}

func completionHandler(chatService *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := auth.FromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error(""))
			return
		}

		var request struct {
			Prompt      string   `json:"prompt"`
			Model       string   `json:"model"`
			MaxTokens   *int     `json:"max_tokens" binding:"omitempty,min=1"`
			Temperature *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		out, err := chatService.Complete(c.Request.Context(), services.CompletionInput{
			UserID:      rc.User.ID,
			APIKey:      rc.APIKey,
			Prompt:      request.Prompt,
			Model:       request.Model,
			MaxTokens:   intOr(request.MaxTokens, services.DefaultMaxTokens),
			Temperature: floatOr(request.Temperature, services.DefaultTemperature),
		})
		if err != nil {
			if errors.Is(err, services.ErrEmptyPrompt) {
				apperrors.HandleError(c, apperrors.New400Error("Prompt must not be empty"))
				return
			}
			apperrors.HandleError(c, apperrors.New500Error("Text completion failed, please try again", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"completion": out.Text,
			"model":      out.Model,
			"usage":      out.Usage,
		})
	}
}

func clearHistoryHandler(conversations services.ConversationServiceDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := auth.FromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error(""))
			return
		}

		cleared, err := conversations.SoftDeleteAll(c.Request.Context(), rc.User.ID)
		if err != nil || !cleared {
			apperrors.HandleError(c, apperrors.New500Error("Failed to clear history", err))
			return
		}

		zerolog.Ctx(c.Request.Context()).Info().Msg("Chat history cleared")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat history cleared"})
	}
}

func listConversationsHandler(conversations services.ConversationServiceDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := auth.FromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error(""))
			return
		}

		convs, err := conversations.ListActive(c.Request.Context(), rc.User.ID, services.DefaultConversationListLimit)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error("Failed to load conversations", err))
			return
		}

		ids := make([]uint, 0, len(convs))
		for _, conv := range convs {
			ids = append(ids, conv.ID)
		}
		counts, err := conversations.CountMessages(c.Request.Context(), ids)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error("Failed to load conversations", err))
			return
		}

		list := make([]gin.H, 0, len(convs))
		for _, conv := range convs {
			item := gin.H{
				"id":                  conv.ID,
				"title":               conv.Title,
				"created_at":          conv.CreatedAt.Format(time.RFC3339),
				"updated_at":          conv.UpdatedAt.Format(time.RFC3339),
				"message_count":       counts[conv.ID],
				"is_custom_assistant": conv.HasSystemPrompt(),
			}
			if conv.HasSystemPrompt() {
				item["system_prompt_preview"] = textutil.Preview(*conv.SystemPrompt, systemPromptPreviewLen)
			}
			list = append(list, item)
		}

		c.JSON(http.StatusOK, gin.H{"conversations": list})
	}
}

func createAssistantHandler(chatService *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := auth.FromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error(""))
			return
		}

		var request struct {
			Request string `json:"request"`
			Model   string `json:"model"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		conv, err := chatService.CreateAssistant(c.Request.Context(), rc.User.ID, rc.APIKey, request.Request, request.Model)
		if err != nil {
			if errors.Is(err, services.ErrEmptyRequirement) {
				apperrors.HandleError(c, apperrors.New400Error("Please describe the assistant you need"))
				return
			}
			apperrors.HandleError(c, apperrors.New500Error("Failed to create assistant, please try again", err))
			return
		}

		var systemPrompt string
		if conv.SystemPrompt != nil {
			systemPrompt = *conv.SystemPrompt
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"conversation": gin.H{
				"id":            conv.ID,
				"title":         conv.Title,
				"system_prompt": systemPrompt,
				"created_at":    conv.CreatedAt.Format(time.RFC3339),
			},
			"message": "Created assistant \"" + conv.Title + "\"",
		})
	}
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
