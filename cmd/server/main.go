package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/drleavio/chatapp/internal/api"
	"github.com/drleavio/chatapp/internal/auth"
	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/config"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/realtime"
	"github.com/drleavio/chatapp/internal/storage"
)

var log = logger.New("server")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Server stopped with error: %v", err)
		os.Exit(1)
	}
	log.Info("Server exited properly")
}

func run(ctx context.Context, cfg *config.Config) error {
	codec, err := auth.NewCodec([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := database.NewDatabase(connectCtx, database.DatabaseType(cfg.Database.Type), cfg.Database.URL, cfg.Database.Name)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("Connected to %s database successfully", cfg.Database.Type)

	store, err := storage.New(connectCtx, storage.Config{
		Driver: cfg.Storage.Driver,
		Local:  storage.LocalConfig{BasePath: cfg.Storage.UploadDir},
		S3: storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		},
	})
	if err != nil {
		return err
	}
	log.Info("Using %s attachment storage", cfg.Storage.Driver)

	hub := realtime.NewHub(db, cfg.AllowedOrigins)

	var notifier chat.Notifier = hub
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(connectCtx).Err(); err != nil {
			return err
		}

		bridge := realtime.NewBridge(hub, redisClient, realtime.DefaultChannel)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error("Realtime bridge stopped: %v", err)
			}
		}()
		notifier = bridge
		log.Info("Realtime events bridged through redis at %s", cfg.Redis.Addr)
	}
	go hub.Run(ctx)

	limitRequests := cfg.Limit.Requests
	if !cfg.Limit.Enabled {
		limitRequests = 0
	}

	router := api.NewRouter(api.RouterConfig{
		DB:                db,
		Chats:             chat.NewService(db, notifier),
		Storage:           store,
		Sessions:          &api.Sessions{Codec: codec, Secure: cfg.IsProduction()},
		Hub:               hub,
		Redis:             redisClient,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		RateLimitRequests: limitRequests,
		RateLimitWindow:   cfg.Limit.Window,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
