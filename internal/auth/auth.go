package auth

import (
	"errors"
	"net/http"
	"strings"

	apperrors "keychat_go_backend/internal/errors"
	"keychat_go_backend/internal/models"
	"keychat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const requestContextKey = "request_context"

// RequestContext is the authenticated caller, set by AuthMiddleware.
type RequestContext struct {
	User   *models.User
	APIKey string
}

func FromContext(c *gin.Context) (*RequestContext, bool) {
	value, exists := c.Get(requestContextKey)
	if !exists {
		return nil, false
	}
	rc, ok := value.(*RequestContext)
	return rc, ok
}

func SetupRoutes(r *gin.Engine, sessions *SessionManager, userService services.CredentialStore, llm services.LLMClient) {
	r.POST("/login", loginHandler(sessions, userService, llm))
	r.POST("/logout", logoutHandler(sessions))
}

func AuthMiddleware(sessions *SessionManager, userService services.CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessions.Read(c)
		if err != nil {
			apperrors.HandleError(c, apperrors.New401Error("Not logged in"))
			return
		}

		user, err := userService.GetByID(c.Request.Context(), session.UserID)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				apperrors.HandleError(c, apperrors.New401Error("User not found"))
				return
			}
			apperrors.HandleError(c, err)
			return
		}

		logger := zerolog.Ctx(c.Request.Context()).With().Str("user_id", user.ID.String()).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Set(requestContextKey, &RequestContext{User: user, APIKey: session.APIKey})
		c.Next()
	}
}

func loginHandler(sessions *SessionManager, userService services.CredentialStore, llm services.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := zerolog.Ctx(c.Request.Context())

		var request struct {
			APIKey string `json:"api_key"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Invalid request body"))
			return
		}

		apiKey := strings.TrimSpace(request.APIKey)
		if apiKey == "" {
			apperrors.HandleError(c, apperrors.New400Error("Please enter an API key"))
			return
		}
		if !strings.HasPrefix(apiKey, "sk-") {
			apperrors.HandleError(c, apperrors.New400Error("API key format is invalid"))
			return
		}

		modelIDs, err := llm.ListModels(c.Request.Context(), apiKey)
		if err != nil || len(modelIDs) == 0 {
			log.Warn().Err(err).Str("key", services.MaskAPIKey(apiKey)).Msg("API key verification failed")
			apperrors.HandleError(c, apperrors.New401Error("API key is invalid or expired"))
			return
		}

		user, created, err := userService.RegisterOrTouch(c.Request.Context(), apiKey)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error("Login failed, please try again", err))
			return
		}

		if err := sessions.Issue(c, Session{UserID: user.ID.String(), APIKey: apiKey}); err != nil {
			apperrors.HandleError(c, apperrors.New500Error("Login failed, please try again", err))
			return
		}

		log.Info().Str("user", user.APIKeyMasked).Bool("new_user", created).Int("models", len(modelIDs)).Msg("User logged in")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged in"})
	}
}

func logoutHandler(sessions *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if session, err := sessions.Read(c); err == nil {
			zerolog.Ctx(c.Request.Context()).Info().Str("user_id", session.UserID).Msg("User logged out")
		}
		sessions.Clear(c)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
	}
}
