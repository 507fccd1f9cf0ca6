package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
)

// EchoResponder is a deterministic Responder for local development and tests.
// It echoes the player's words and drifts the character's emotions a little
// on every turn.
type EchoResponder struct {
	logger *zap.Logger
}

// Ensure EchoResponder implements the Responder interface
var _ repositories.Responder = (*EchoResponder)(nil)

// NewEchoResponder creates a new echo responder
func NewEchoResponder(logger *zap.Logger) *EchoResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EchoResponder{logger: logger}
}

var greetings = []string{"hello", "hi", "hey", "greetings"}

// Respond implements repositories.Responder
func (e *EchoResponder) Respond(ctx context.Context, turn repositories.Turn) (*domain.TextResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return nil, fmt.Errorf("turn text cannot be empty")
	}

	name := turn.Character.Name
	if name == "" {
		name = "The character"
	}
	reply := fmt.Sprintf("%s heard you say: %s", name, text)

	immediate := domain.EmotionState{JoySadness: 0.1, TrustDisgust: 0.05}
	if strings.HasSuffix(text, "?") {
		immediate.SurpriseAnticipation = 0.1
	}
	if strings.HasSuffix(text, "!") {
		immediate.FearAnger = -0.1
	}

	var flagsPlayer []string
	lower := strings.ToLower(text)
	for _, g := range greetings {
		if strings.HasPrefix(lower, g) {
			flagsPlayer = append(flagsPlayer, "greeted")
			break
		}
	}

	e.logger.Debug("Echo response generated",
		zap.Int("sessionID", turn.SessionID),
		zap.String("character", name))

	return &domain.TextResponse{
		Response:           reply,
		FlagsPlayer:        flagsPlayer,
		FlagsCharacter:     []string{},
		TokensSpent:        len(strings.Fields(text)) + len(strings.Fields(reply)),
		ImmediateEmotion:   immediate,
		AccumulatedEmotion: accumulate(turn.Previous, immediate),
	}, nil
}

// accumulate adds an immediate emotion onto the running state, keeping each
// axis within [-1, 1]
func accumulate(previous, immediate domain.EmotionState) domain.EmotionState {
	return domain.EmotionState{
		JoySadness:           clamp(previous.JoySadness + immediate.JoySadness),
		TrustDisgust:         clamp(previous.TrustDisgust + immediate.TrustDisgust),
		FearAnger:            clamp(previous.FearAnger + immediate.FearAnger),
		SurpriseAnticipation: clamp(previous.SurpriseAnticipation + immediate.SurpriseAnticipation),
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
