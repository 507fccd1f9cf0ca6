package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
)

var ErrCharacterNotFound = errors.New("character not found")

// MemoryCharacterRepository is an in-memory implementation of CharacterRepository
type MemoryCharacterRepository struct {
	mu         sync.RWMutex
	characters map[int]*entities.Character // id -> character mapping
}

var _ repositories.CharacterRepository = (*MemoryCharacterRepository)(nil)

// NewMemoryCharacterRepository creates an empty repository
func NewMemoryCharacterRepository() *MemoryCharacterRepository {
	return &MemoryCharacterRepository{
		characters: make(map[int]*entities.Character),
	}
}

// NewSampleCharacterRepository creates a repository holding SampleCharacters
func NewSampleCharacterRepository() *MemoryCharacterRepository {
	m := NewMemoryCharacterRepository()
	for _, c := range SampleCharacters() {
		c := c
		m.characters[c.ID] = &c
	}
	return m
}

// LoadCharactersFile reads a roster from a .json, .yaml or .yml file
func LoadCharactersFile(path string) (*MemoryCharacterRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read characters file: %w", err)
	}

	var roster []entities.Character
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = sonic.Unmarshal(data, &roster)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &roster)
	default:
		return nil, fmt.Errorf("unsupported characters file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse characters file %s: %w", path, err)
	}

	m := NewMemoryCharacterRepository()
	for i := range roster {
		if err := m.Upsert(context.Background(), &roster[i]); err != nil {
			return nil, fmt.Errorf("character %d in %s: %w", i, path, err)
		}
	}
	return m, nil
}

// List returns copies of all characters ordered by id
func (m *MemoryCharacterRepository) List(ctx context.Context) ([]entities.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.Character, 0, len(m.characters))
	for _, c := range m.characters {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetByID implements CharacterRepository interface
func (m *MemoryCharacterRepository) GetByID(ctx context.Context, id int) (*entities.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.characters[id]
	if !exists {
		return nil, ErrCharacterNotFound
	}

	// Return a copy to prevent external modifications
	characterCopy := *c
	return &characterCopy, nil
}

// Upsert implements CharacterRepository interface
func (m *MemoryCharacterRepository) Upsert(ctx context.Context, character *entities.Character) error {
	if character == nil {
		return errors.New("character cannot be nil")
	}
	if err := character.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	characterCopy := *character
	m.characters[character.ID] = &characterCopy
	return nil
}

// SampleCharacters is the roster served when no characters file is configured
func SampleCharacters() []entities.Character {
	return []entities.Character{
		{
			ID:               1,
			Name:             "Mira",
			Gender:           "female",
			LifePeriod:       "late medieval",
			Origin:           "the harbour town of Saltmere",
			Role:             "innkeeper",
			CoreDescription:  "A warm, observant innkeeper who hears every rumour in town.",
			Motivation:       "Keep her inn safe and her guests talking.",
			Flaws:            "Trusts strangers too quickly.",
			Species:          "human",
			Hobbies:          "brewing, card games",
			SpeechAdjectives: "friendly, chatty",
			Traits:           "curious, generous",
			Voice:            "21m00Tcm4TlvDq8ikWAM",
			KnowledgeBricks: []entities.KnowledgeBrick{
				{ID: 1, Title: "The missing ship", Content: "The Gull has not returned for three weeks.", Permission: "public"},
			},
		},
		{
			ID:               2,
			Name:             "Captain Roth",
			Gender:           "male",
			LifePeriod:       "late medieval",
			Origin:           "the northern garrison",
			Role:             "guard captain",
			CoreDescription:  "A tired veteran who keeps order at the town gate.",
			Motivation:       "Find out who is smuggling through the harbour.",
			Flaws:            "Short tempered.",
			Species:          "human",
			SpeechAdjectives: "gruff, brief",
			Traits:           "dutiful, suspicious",
		},
	}
}
