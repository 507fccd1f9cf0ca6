package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/adapters/aardaapi"
	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/config"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/session"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/websocket"
	"github.com/kayna-aarda/AardaUnityPlugin/usecase"
)

const (
	audioChunkSize = 32 * 1024
	initTimeout    = 10 * time.Second
)

func main() {
	configPath := pflag.String("config", "", "config file (.json, .toml, .yaml)")
	characterName := pflag.String("character", "", "character to talk to (default: configured or first)")
	sessionID := pflag.Int("session-id", 0, "resume an existing session")
	audioPath := pflag.String("audio", "", "raw PCM file sent as the first turn")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	var logger *zap.Logger
	if *debug {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *characterName != "" {
		cfg.Character = *characterName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *sessionID, *audioPath, logger); err != nil {
		logger.Fatal("Chat failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, sessionID int, audioPath string, logger *zap.Logger) error {
	api, err := aardaapi.NewClient(aardaapi.Config{BaseURL: cfg.HTTPAPIURL, Timeout: cfg.Timeout()}, logger)
	if err != nil {
		return err
	}

	handler, initialized := notifyInitialized(printEvent)
	svc := usecase.NewConversationService(
		api,
		cfg.WSAPIURL,
		func() repositories.Channel { return websocket.NewChannel(logger) },
		handler,
		logger,
	)

	if _, err := svc.FetchAPIKey(ctx, cfg.APIUsername, cfg.APIPassword); err != nil {
		return err
	}
	roster, err := svc.FetchCharacters(ctx)
	if err != nil {
		return err
	}

	character, err := pickCharacter(svc, roster, cfg.Character)
	if err != nil {
		return err
	}
	fmt.Printf("Talking to %s (%s). Type a line and press enter, /quit to leave.\n", character.Name, character.Role)

	if err := svc.Connect(ctx, sessionID); err != nil {
		return err
	}
	defer shutdown(svc)

	params := domain.SessionParams{
		UserUUID:     cfg.UserUUID,
		Mood:         cfg.Mood,
		CharacterID:  character.ID,
		PlayerID:     cfg.PlayerID,
		SceneID:      cfg.SceneID,
		AudioSupport: cfg.AudioSupport,
		Language:     cfg.Language,
	}
	if err := svc.StartSession(params); err != nil {
		return err
	}

	if audioPath != "" {
		if err := awaitInitialized(ctx, initialized, svc.Done(), initTimeout); err != nil {
			return err
		}
		if err := sendAudioFile(svc, audioPath); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-svc.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if line == "" {
				continue
			}
			if err := svc.Say(line); err != nil {
				logger.Error("Failed to send message", zap.Error(err))
			}
		}
	}
}

func pickCharacter(svc *usecase.ConversationService, roster entities.Roster, name string) (entities.Character, error) {
	if name != "" {
		return svc.CharacterByName(name)
	}
	if len(roster) == 0 {
		return entities.Character{}, usecase.ErrCharacterNotFound
	}
	return roster[0], nil
}

// notifyInitialized wraps handler and closes the returned channel on the
// first InitializeEvent
func notifyInitialized(handler session.EventHandler) (session.EventHandler, <-chan struct{}) {
	initialized := make(chan struct{})
	var once sync.Once
	return func(ev session.Event) {
		handler(ev)
		if _, ok := ev.(session.InitializeEvent); ok {
			once.Do(func() { close(initialized) })
		}
	}, initialized
}

func awaitInitialized(ctx context.Context, initialized, done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-initialized:
		return nil
	case <-done:
		return errors.New("session closed before it was initialized")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("session not initialized after %s", timeout)
	}
}

func sendAudioFile(svc *usecase.ConversationService, path string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	for len(audio) > 0 {
		n := min(audioChunkSize, len(audio))
		if err := svc.SendAudio(audio[:n], domain.DefaultAudioEncoding); err != nil {
			return err
		}
		audio = audio[n:]
	}
	return nil
}

func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- strings.TrimSpace(scanner.Text())
	}
}

func shutdown(svc *usecase.ConversationService) {
	svc.Close()
	select {
	case <-svc.Done():
	case <-time.After(3 * time.Second):
	}
}

func printEvent(ev session.Event) {
	switch e := ev.(type) {
	case session.OpenEvent:
		fmt.Println("[connected]")
	case session.InitializeEvent:
		fmt.Printf("[session %d started for %s]\n", e.Response.SessionID, e.Response.UserUUID)
	case session.TranscriptEvent:
		fmt.Printf("you (heard): %s\n", e.Response.Response)
	case session.TextResponseEvent:
		r := e.Response
		fmt.Printf("> %s\n", r.Response)
		fmt.Printf("  [tokens %d | joy %.2f trust %.2f fear %.2f surprise %.2f]\n",
			r.TokensSpent,
			r.AccumulatedEmotion.JoySadness,
			r.AccumulatedEmotion.TrustDisgust,
			r.AccumulatedEmotion.FearAnger,
			r.AccumulatedEmotion.SurpriseAnticipation)
		if len(r.FlagsPlayer) > 0 || len(r.FlagsCharacter) > 0 {
			fmt.Printf("  [flags player=%v character=%v]\n", r.FlagsPlayer, r.FlagsCharacter)
		}
	case session.AudioEvent:
		fmt.Printf("[audio %d bytes]\n", len(e.Data))
	case session.ErrorEvent:
		fmt.Printf("[error] %v\n", e.Err)
	case session.CloseEvent:
		fmt.Println("[disconnected]")
	}
}
