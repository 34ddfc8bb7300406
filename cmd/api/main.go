package main

import (
	"os"
	"strings"
	"time"

	"keychat_go_backend/cmd/api/config"
	"keychat_go_backend/internal/api"
	"keychat_go_backend/internal/auth"
	"keychat_go_backend/internal/database"
	"keychat_go_backend/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.LogLevel, cfg.AppEnv)

	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	llmClient := services.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.UpstreamTimeout)

	userService := services.NewUserService(db)
	conversationService := services.NewConversationServiceDB(db)
	usageLedger := services.NewUsageLedger(db)
	chatService := services.NewChatService(conversationService, usageLedger, llmClient, cfg.Models)

	sessions := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL, cfg.AppEnv == "production")

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", api.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", api.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	auth.SetupRoutes(r, sessions, userService, llmClient)
	api.SetupRoutes(r, sessions, userService, conversationService, chatService)

	log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("Server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

func setupLogger(level, env string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
