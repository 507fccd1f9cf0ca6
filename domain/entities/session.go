package entities

import (
	"errors"
	"time"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
)

// SessionStatus represents the status of a conversation session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusTerminated SessionStatus = "terminated"
)

// Session tracks one conversation with a character as seen by the client.
// It lives in memory for the lifetime of a connection.
type Session struct {
	ID           int
	Params       domain.SessionParams
	Status       SessionStatus
	CreatedAt    time.Time
	LastActiveAt time.Time

	Turns          int
	TokensSpent    int
	LastTranscript string
	LastResponse   string

	ImmediateEmotion   domain.EmotionState
	AccumulatedEmotion domain.EmotionState
	FlagsPlayer        []string
	FlagsCharacter     []string
}

// NewSession creates a pending session for the given handshake parameters.
// A non-zero resumeID is kept until the service confirms or replaces it.
func NewSession(params domain.SessionParams, resumeID int) *Session {
	now := time.Now()
	return &Session{
		ID:           resumeID,
		Params:       params,
		Status:       SessionStatusPending,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Apply records the service's acknowledgement of the handshake
func (s *Session) Apply(resp *domain.InitializeResponse) {
	s.ID = resp.SessionID
	if resp.UserUUID != "" {
		s.Params.UserUUID = resp.UserUUID
	}
	s.Status = SessionStatusActive
	s.UpdateLastActive()
}

// RecordTranscript stores the latest transcript of the player's audio
func (s *Session) RecordTranscript(resp *domain.TranscriptResponse) {
	s.LastTranscript = resp.Response
	s.UpdateLastActive()
}

// RecordResponse accumulates token usage and keeps the latest emotions and flags
func (s *Session) RecordResponse(resp *domain.TextResponse) {
	s.Turns++
	s.TokensSpent += resp.TokensSpent
	s.LastResponse = resp.Response
	s.ImmediateEmotion = resp.ImmediateEmotion
	s.AccumulatedEmotion = resp.AccumulatedEmotion
	s.FlagsPlayer = append([]string(nil), resp.FlagsPlayer...)
	s.FlagsCharacter = append([]string(nil), resp.FlagsCharacter...)
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.Status = SessionStatusTerminated
	s.UpdateLastActive()
}

// IsActive reports whether the service acknowledged the session and it was not terminated
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.Params.UserUUID == "" {
		return errors.New("user_uuid is required")
	}
	if s.Params.CharacterID <= 0 {
		return errors.New("character id must be positive")
	}

	if s.Status != SessionStatusPending && s.Status != SessionStatusActive && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
