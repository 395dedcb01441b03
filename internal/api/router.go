package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/realtime"
	"github.com/drleavio/chatapp/internal/storage"
)

// RouterConfig collects everything the HTTP layer depends on.
type RouterConfig struct {
	DB       database.DBInterface
	Chats    *chat.Service
	Storage  storage.Storage
	Sessions *Sessions
	// Hub is optional; without it the websocket route is not mounted.
	Hub *realtime.Hub
	// Redis is optional; without it auth routes are not rate limited.
	Redis *redis.Client

	AllowedOrigins    []string
	MaxUploadBytes    int64
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires every route of the service.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware())

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	authHandler := NewAuthHandler(cfg.DB, cfg.Sessions)
	chatHandler := NewChatHandler(cfg.Chats)
	messageHandler := NewMessageHandler(cfg.Chats)
	userHandler := NewUserHandler(cfg.DB)
	uploadHandler := NewUploadHandler(cfg.Storage, cfg.MaxUploadBytes)

	limit := RateLimit(cfg.Redis, cfg.RateLimitRequests, cfg.RateLimitWindow)

	// Public routes
	public := router.Group("/api/auth")
	{
		public.POST("/register", limit, authHandler.Register)
		public.POST("/login", limit, authHandler.Login)
		public.POST("/logout", authHandler.Logout)
	}

	// Protected routes
	authorized := router.Group("/api")
	authorized.Use(cfg.Sessions.AuthMiddleware(false))
	{
		authorized.GET("/auth/me", authHandler.GetMe)

		authorized.GET("/chats", chatHandler.ListChats)
		authorized.POST("/chats", chatHandler.CreateChat)

		authorized.GET("/messages", messageHandler.GetMessages)
		authorized.POST("/messages", messageHandler.SendMessage)

		authorized.POST("/upload", uploadHandler.Upload)
		authorized.GET("/users/search", userHandler.Search)
	}

	if cfg.Hub != nil {
		// Browsers cannot set headers on a websocket handshake.
		router.GET("/api/ws", cfg.Sessions.AuthMiddleware(true), cfg.Hub.HandleWebSocket)
	}

	router.GET(UploadRoute+"/:key", uploadHandler.Serve)

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.DB.Ping(ctx); err != nil {
			log.Error("Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
