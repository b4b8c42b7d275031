package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/adapters"
	"github.com/satriahrh/voxbridge/adapters/gemini"
	"github.com/satriahrh/voxbridge/adapters/mongo"
	"github.com/satriahrh/voxbridge/adapters/openai"
	"github.com/satriahrh/voxbridge/domain/repositories"
	"github.com/satriahrh/voxbridge/internal/api"
	"github.com/satriahrh/voxbridge/internal/auth"
	"github.com/satriahrh/voxbridge/internal/config"
	"github.com/satriahrh/voxbridge/internal/metrics"
	"github.com/satriahrh/voxbridge/internal/recorder"
	"github.com/satriahrh/voxbridge/internal/secure"
	"github.com/satriahrh/voxbridge/internal/websocket"
	"github.com/satriahrh/voxbridge/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to configure providers", zap.Error(err))
	}

	var cipher *secure.Cipher
	if cfg.Session.EncryptionKey != "" {
		cipher, err = secure.NewCipher(cfg.Session.EncryptionKey)
		if err != nil {
			logger.Fatal("Failed to create history cipher", zap.Error(err))
		}
	}

	// Session store: MongoDB when configured, in-process otherwise
	var (
		store       repositories.SessionStore
		mongoClient *mongo.Client
	)
	if cfg.Mongo.URI != "" {
		mongoClient, err = mongo.NewClient(context.Background(), cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		store = adapters.NewMongoSessionStore(mongoClient.Database, cfg.Session.TTL, cfg.Session.SystemInstruction, logger)
	} else {
		store = adapters.NewMemorySessionStore(adapters.WithTTL(cfg.Session.TTL))
	}

	var cleanup *websocket.HistoryCleanupService
	if expirer, ok := store.(repositories.SessionExpirer); ok {
		cleanup = websocket.NewHistoryCleanupService(expirer, 0, logger)
		cleanup.Start()
	}

	sessionService, err := usecase.NewSessionService(providers, store, cipher, usecase.SessionDefaults{
		SystemInstruction: cfg.Session.SystemInstruction,
		Transcription:     cfg.Session.Transcription,
		Tools:             cfg.Session.Tools,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create session service", zap.Error(err))
	}

	validator, err := auth.NewValidator(auth.Config{
		Secret:     cfg.Auth.Secret,
		Algorithms: cfg.Auth.Algorithms,
		Validate:   auth.ClaimsUser,
	})
	if err != nil {
		logger.Fatal("Failed to create auth validator", zap.Error(err))
	}
	if !validator.SignatureMode() {
		logger.Warn("JWT_SECRET not set, tokens are accepted without signature verification")
	}

	m := metrics.New()
	hubOptions := []websocket.Option{websocket.WithMetrics(m)}
	if cfg.Recording.Enabled {
		hubOptions = append(hubOptions, websocket.WithRecording(recorder.Config{
			Directory:        cfg.Recording.Directory,
			FilenameTemplate: cfg.Recording.Template,
		}))
	}

	hub := websocket.NewHub(sessionService, logger, hubOptions...)
	go hub.Run()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, validator, m, cfg.Server.WSPath, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Gateway started",
		zap.String("port", cfg.Server.Port),
		zap.String("wsPath", cfg.Server.WSPath),
		zap.Int("providers", len(providers)))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(ctx); err != nil {
		logger.Error("Sessions did not close in time", zap.Error(err))
	}
	if cleanup != nil {
		cleanup.Stop()
	}
	if mongoClient != nil {
		mongoClient.Close(ctx)
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = parsed
	return zapConfig.Build()
}

// buildProviders creates the enabled providers in the configured order
func buildProviders(cfg *config.Config, logger *zap.Logger) ([]repositories.Provider, error) {
	var providers []repositories.Provider
	for _, id := range cfg.Providers.Order {
		switch id {
		case openai.ProviderID:
			pc := cfg.Providers.OpenAI
			if !pc.Enabled() {
				continue
			}
			p, err := openai.NewProvider(openai.Config{
				APIKey: pc.APIKey,
				Model:  pc.Model,
				URL:    pc.URL,
				Name:   pc.Name,
				Voices: pc.Voices,
			}, logger.Named("openai"))
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)

		case gemini.ProviderID:
			pc := cfg.Providers.Gemini
			if !pc.Enabled() {
				continue
			}
			p, err := gemini.NewProvider(gemini.Config{
				APIKey: pc.APIKey,
				Model:  pc.Model,
				URL:    pc.URL,
				Name:   pc.Name,
				Voices: pc.Voices,
			}, logger.Named("gemini"))
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no enabled provider in order %v", cfg.Providers.Order)
	}
	return providers, nil
}
