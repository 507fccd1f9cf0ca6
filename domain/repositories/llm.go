package repositories

import (
	"context"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
)

// Responder produces a character's reply to a player's turn
type Responder interface {
	Respond(ctx context.Context, turn Turn) (*domain.TextResponse, error)
}

// Turn is a player's utterance within a session
type Turn struct {
	SessionID int
	Character entities.Character
	Mood      string
	Language  string
	Text      string
	// Previous is the accumulated emotion before this turn
	Previous domain.EmotionState
}
