package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/adapters"
	"github.com/kayna-aarda/AardaUnityPlugin/adapters/llm"
	"github.com/kayna-aarda/AardaUnityPlugin/adapters/stt"
	"github.com/kayna-aarda/AardaUnityPlugin/adapters/tts"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/api"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/auth"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/config"
)

func main() {
	port := pflag.Int("port", 0, "listen port (default: PORT or 8000)")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	// Initialize logger
	var logger *zap.Logger
	if *debug {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *port != 0 {
		cfg.Port = *port
	}

	ctx := context.Background()

	// Initialize adapters
	var characters repositories.CharacterRepository = adapters.NewSampleCharacterRepository()
	if cfg.CharactersFile != "" {
		characters, err = adapters.LoadCharactersFile(cfg.CharactersFile)
		if err != nil {
			logger.Fatal("Failed to load characters", zap.Error(err))
		}
	}

	sessions := api.NewSessionStore(cfg.SessionTimeout)

	var responder repositories.Responder = llm.NewEchoResponder(logger)
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiResponder(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini responder", zap.Error(err))
		}
		sessions.OnExpire = gemini.Forget
		responder = gemini
	}

	var speechToText repositories.SpeechToText = stt.NewMockSpeechToText(logger)
	if cfg.GoogleSTTEnabled {
		google, err := stt.NewGoogleSpeechToText(ctx, logger)
		if err != nil {
			logger.Fatal("Failed to create Google speech client", zap.Error(err))
		}
		defer google.Close()
		speechToText = google
	}

	var textToSpeech repositories.TextToSpeech = tts.NewMockTextToSpeech(0, logger)
	if cfg.ElevenLabsAPIKey != "" {
		elevenLabs, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{APIKey: cfg.ElevenLabsAPIKey}, logger)
		if err != nil {
			logger.Fatal("Failed to create Eleven Labs TTS", zap.Error(err))
		}
		textToSpeech = elevenLabs
	}

	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	cleanup := api.NewSessionCleanupService(sessions, time.Minute, logger)
	cleanup.Start()
	defer cleanup.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Issuer:     issuer,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Characters: characters,
		Sessions:   sessions,
		Conversations: api.NewConversationHandler(
			issuer, characters, sessions, responder, speechToText, textToSpeech, logger,
		),
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Development server started",
		zap.Int("port", cfg.Port),
		zap.String("username", cfg.Username),
		zap.Bool("gemini", cfg.GeminiAPIKey != ""),
		zap.Bool("googleSTT", cfg.GoogleSTTEnabled),
		zap.Bool("elevenLabs", cfg.ElevenLabsAPIKey != ""))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
