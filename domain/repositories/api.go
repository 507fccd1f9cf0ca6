package repositories

import (
	"context"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
)

// APIClient abstracts the HTTP side of the service: credential and character fetch
type APIClient interface {
	// FetchAPIKey exchanges account credentials for a bearer token
	FetchAPIKey(ctx context.Context, username, password string) (string, error)
	// FetchCharacters lists the characters of the project the token belongs to
	FetchCharacters(ctx context.Context, apiKey string) ([]entities.Character, error)
}
