// Package usecase ties the HTTP API client and the session client into one
// conversation with a character.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/auth"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/session"
)

var (
	ErrNoAPIKey            = errors.New("no API key: call FetchAPIKey first")
	ErrCredentialExpired   = errors.New("API key has expired")
	ErrCharactersNotLoaded = errors.New("characters not loaded: call FetchCharacters first")
	ErrCharacterNotFound   = errors.New("character not found")
	ErrNotConnected        = errors.New("not connected: call Connect first")
	ErrAlreadyConnected    = errors.New("already connected")
	ErrNoSession           = errors.New("no session: call StartSession first")
)

// ChannelFactory creates a fresh transport channel for each connection
type ChannelFactory func() repositories.Channel

// ConversationService orchestrates the conversation flow
type ConversationService struct {
	api        repositories.APIClient
	wsURL      string
	newChannel ChannelFactory
	handler    session.EventHandler
	logger     *zap.Logger

	// now is replaced in tests
	now func() time.Time

	mu         sync.Mutex
	apiKey     string
	characters entities.Roster
	client     *session.Client
	resumeID   int
	session    *entities.Session
}

// NewConversationService creates a new conversation service. Events of the
// session client are passed to handler after the service has recorded them.
func NewConversationService(
	api repositories.APIClient,
	wsURL string,
	newChannel ChannelFactory,
	handler session.EventHandler,
	logger *zap.Logger,
) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		api:        api,
		wsURL:      wsURL,
		newChannel: newChannel,
		handler:    handler,
		logger:     logger,
		now:        time.Now,
	}
}

// FetchAPIKey exchanges account credentials for the API key used by the
// other calls
func (s *ConversationService) FetchAPIKey(ctx context.Context, username, password string) (string, error) {
	key, err := s.api.FetchAPIKey(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("fetch API key: %w", err)
	}

	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()

	s.logger.Info("Fetched API key", zap.String("username", username))
	return key, nil
}

// FetchCharacters loads the project's characters
func (s *ConversationService) FetchCharacters(ctx context.Context) (entities.Roster, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}

	characters, err := s.api.FetchCharacters(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch characters: %w", err)
	}

	s.mu.Lock()
	s.characters = characters
	s.mu.Unlock()

	s.logger.Info("Fetched characters", zap.Int("count", len(characters)))
	return characters, nil
}

// CharacterByName finds a loaded character, preferring an exact name match
func (s *ConversationService) CharacterByName(name string) (entities.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.characters == nil {
		return entities.Character{}, ErrCharactersNotLoaded
	}
	c, ok := s.characters.ByName(name)
	if !ok {
		return entities.Character{}, fmt.Errorf("%w: %q", ErrCharacterNotFound, name)
	}
	return c, nil
}

// Connect opens the websocket and sends the API key. A non-zero sessionID
// resumes that session.
func (s *ConversationService) Connect(ctx context.Context, sessionID int) error {
	key, err := s.key()
	if err != nil {
		return err
	}

	// Opaque keys are sent as they are; the service is the judge
	if info, err := auth.Inspect(key); err == nil && info.Expired(s.now()) {
		return fmt.Errorf("%w at %s", ErrCredentialExpired, info.ExpiresAt.Format(time.RFC3339))
	}

	s.mu.Lock()
	if s.client != nil && !s.client.State().Terminal() {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	client := session.NewClient(s.newChannel(), s.track, s.logger)
	s.client = client
	s.resumeID = sessionID
	s.session = nil
	s.mu.Unlock()

	if err := client.SetCredential(key); err != nil {
		return err
	}
	return client.Connect(ctx, s.wsURL, sessionID)
}

// StartSession sends the initialize handshake. The session id arrives with
// the InitializeEvent; until then turns carry the id passed to Connect.
func (s *ConversationService) StartSession(params domain.SessionParams) error {
	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}

	id := client.SessionID()
	if id == 0 {
		id = s.resumeID
	}
	pending := entities.NewSession(params, id)
	if err := pending.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.session = pending
	s.mu.Unlock()

	return client.InitializeSession(params)
}

// Say sends a chat turn in the current session
func (s *ConversationService) Say(text string) error {
	client, current, err := s.current()
	if err != nil {
		return err
	}
	return client.SendChatMessage(text, current.Params.UserUUID, current.ID)
}

// SendAudio sends a chunk of raw audio in the current session. An empty
// encoding is sent as audio/pcm.
func (s *ConversationService) SendAudio(audio []byte, encoding string) error {
	client, current, err := s.current()
	if err != nil {
		return err
	}
	return client.SendAudioChunk(audio, current.Params.UserUUID, current.ID, encoding)
}

// Session returns a snapshot of the current session
func (s *ConversationService) Session() (entities.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return entities.Session{}, false
	}
	return *s.session, true
}

// Done is closed when the current connection emits no more events
func (s *ConversationService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.client.Done()
}

// Close closes the current connection, if any
func (s *ConversationService) Close() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (s *ConversationService) key() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" {
		return "", ErrNoAPIKey
	}
	return s.apiKey, nil
}

func (s *ConversationService) current() (*session.Client, entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, entities.Session{}, ErrNotConnected
	}
	if s.session == nil {
		return nil, entities.Session{}, ErrNoSession
	}
	return s.client, *s.session, nil
}

// track keeps the session bookkeeping current, then forwards the event
func (s *ConversationService) track(ev session.Event) {
	s.mu.Lock()
	if s.session != nil {
		switch e := ev.(type) {
		case session.InitializeEvent:
			s.session.Apply(e.Response)
		case session.TranscriptEvent:
			s.session.RecordTranscript(e.Response)
		case session.TextResponseEvent:
			s.session.RecordResponse(e.Response)
		case session.CloseEvent:
			s.session.Terminate()
		}
	}
	s.mu.Unlock()

	if s.handler != nil {
		s.handler(ev)
	}
}
