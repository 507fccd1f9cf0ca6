package entities

import (
	"errors"
	"strings"
)

// Character is a conversational character configured in a project
type Character struct {
	ID               int              `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Gender           string           `json:"gender" yaml:"gender"`
	LifePeriod       string           `json:"life_period" yaml:"life_period"`
	Origin           string           `json:"origin" yaml:"origin"`
	Role             string           `json:"role" yaml:"role"`
	CoreDescription  string           `json:"core_description" yaml:"core_description"`
	Motivation       string           `json:"motivation" yaml:"motivation"`
	Flaws            string           `json:"flaws" yaml:"flaws"`
	Backstory        string           `json:"backstory" yaml:"backstory"`
	Species          string           `json:"species" yaml:"species"`
	Hobbies          string           `json:"hobbies" yaml:"hobbies"`
	SpeechAdjectives string           `json:"speech_adjectives" yaml:"speech_adjectives"`
	Traits           string           `json:"traits" yaml:"traits"`
	Appearance       string           `json:"appearance" yaml:"appearance"`
	Voice            string           `json:"voice" yaml:"voice"`
	KnowledgeBricks  []KnowledgeBrick `json:"knowledge_bricks" yaml:"knowledge_bricks"`
	Groups           []any            `json:"groups" yaml:"groups"`
}

// KnowledgeBrick is a unit of knowledge attached to a character
type KnowledgeBrick struct {
	ID         int    `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Content    string `json:"content" yaml:"content"`
	Permission string `json:"permission" yaml:"permission"`
	ParentID   *int   `json:"parent_id" yaml:"parent_id"`
	Children   []any  `json:"children" yaml:"children"`
}

// Validate checks the fields the service requires for a character
func (c *Character) Validate() error {
	if c.ID <= 0 {
		return errors.New("character id must be positive")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("character name is required")
	}
	return nil
}

// Roster is the list of characters available to the authenticated project
type Roster []Character

// ByName returns the first character with exactly the given name. When no
// name matches exactly, the first case-insensitive match is returned.
func (r Roster) ByName(name string) (Character, bool) {
	for _, c := range r {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range r {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Character{}, false
}

// ByID returns the character with the given id
func (r Roster) ByID(id int) (Character, bool) {
	for _, c := range r {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}
