package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/telestore/relay/internal/backend"
	"github.com/telestore/relay/internal/chunks"
	"github.com/telestore/relay/internal/credentials"
	"github.com/telestore/relay/internal/download"
	"github.com/telestore/relay/internal/remote"
	"github.com/telestore/relay/internal/transfer"
	"github.com/telestore/relay/pkg/config"
	"github.com/telestore/relay/pkg/utils"
)

// backendAPI is the slice of the backend client the handlers use
type backendAPI interface {
	FetchCredentials(ctx context.Context, authToken string) (*remote.Credentials, error)
	VerifyDownloadToken(ctx context.Context, token string) (*remote.Credentials, error)
}

// application bundles the wired components behind the HTTP surface
type application struct {
	cfg        *config.Config
	backend    backendAPI
	credCache  *credentials.Cache
	chunkStore chunks.Store
	registry   *transfer.Registry
	dispatcher *transfer.Dispatcher
	relay      *download.Relay

	newUploadID func() string
}

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.LoadFromEnv()
	setupLogging(cfg.Logging)

	log.Info().Str("backend_url", cfg.Backend.BaseURL).Msg("starting transfer relay")

	if err := os.MkdirAll(cfg.Transfer.UploadDir, 0700); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Transfer.UploadDir).Msg("failed to create upload directory")
	}

	chunkStore, err := chunks.NewStore(&cfg.Transfer, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chunk store")
	}

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	uploader := remote.NewStatelessClient(cfg.Remote.SmallObjectEndpoint, cfg.Remote.Timeout, cfg.Remote.RequestsPerSecond)
	opener := remote.NewSessionClient(cfg.Remote.SessionEndpoint, cfg.Transfer.BlockSize, cfg.Remote.Timeout, cfg.Remote.RequestsPerSecond)

	registry := transfer.NewRegistry()
	dispatcher := transfer.NewDispatcher(registry, uploader, opener, backendClient,
		cfg.Transfer.SmallObjectLimit, cfg.Transfer.Workers, cfg.Transfer.QueueSize)

	app := &application{
		cfg:         cfg,
		backend:     backendClient,
		credCache:   credentials.NewCache(cfg.Transfer.CredentialTTL),
		chunkStore:  chunkStore,
		registry:    registry,
		dispatcher:  dispatcher,
		relay:       download.NewRelay(opener, cfg.Transfer.BlockSize),
		newUploadID: utils.NewUploadID,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      setupRouter(app),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}

	// let in-flight transfers reach a terminal state
	dispatcher.Shutdown()

	if closer, ok := chunkStore.(interface{ Close() error }); ok {
		closer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.File != "" {
		log.Logger = zerolog.New(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}).With().Timestamp().Logger()
	}
}

func setupRouter(app *application) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", handleHealth())

	router.POST("/upload", handleUpload(app))
	router.POST("/init-upload", handleInitUpload(app))
	router.POST("/upload-chunk", handleUploadChunk(app))
	router.POST("/complete-upload", handleCompleteUpload(app))
	router.GET("/upload-progress/:uploadId", handleUploadProgress(app))
	router.GET("/download", handleDownload(app))

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
