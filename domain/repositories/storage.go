package repositories

import (
	"context"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
)

// CharacterRepository defines data access methods for characters
type CharacterRepository interface {
	List(ctx context.Context) ([]entities.Character, error)
	GetByID(ctx context.Context, id int) (*entities.Character, error)
	Upsert(ctx context.Context, character *entities.Character) error
}
