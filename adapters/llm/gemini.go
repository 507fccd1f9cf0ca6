package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.8
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30

	// Contents kept per session; a turn adds two.
	maxHistory = 40
)

// GeminiConfig holds configuration for the GeminiResponder
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model (default: "gemini-2.0-flash")
// - Temperature between 0 and 2 (default: 0.8)
// - MaxOutputTokens (default: 512)
// - TimeoutSeconds per request (default: 30)
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", config.MaxOutputTokens)
	}

	// Validate timeout is reasonable if specified
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// GeminiResponder implements the Responder interface using Google's Gemini API.
// It keeps the conversation history of every session it has answered.
type GeminiResponder struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	maxOutputTokens int
	timeout         time.Duration

	mu      sync.Mutex
	history map[int][]*genai.Content
}

// Ensure GeminiResponder implements the Responder interface
var _ repositories.Responder = (*GeminiResponder)(nil)

// NewGeminiResponder creates a new Gemini responder
func NewGeminiResponder(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiResponder, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Apply defaults where needed
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &GeminiResponder{
		client:          client,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		maxOutputTokens: maxOutputTokens,
		timeout:         time.Duration(timeoutSeconds) * time.Second,
		history:         make(map[int][]*genai.Content),
	}, nil
}

// Respond implements repositories.Responder
func (g *GeminiResponder) Respond(ctx context.Context, turn repositories.Turn) (*domain.TextResponse, error) {
	if strings.TrimSpace(turn.Text) == "" {
		return nil, fmt.Errorf("turn text cannot be empty")
	}

	userContent := genai.NewContentFromText(turn.Text, genai.RoleUser)

	g.mu.Lock()
	contents := append([]*genai.Content(nil), g.history[turn.SessionID]...)
	g.mu.Unlock()
	contents = append(contents, userContent)

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildSystemPrompt(turn.Character, turn.Mood, turn.Language), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   int32(g.maxOutputTokens),
		ResponseMIMEType:  "application/json",
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.logger.Error("Failed to generate content", zap.Int("sessionID", turn.SessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no content generated")
	}

	// Extract text from the response
	var responseText string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText += part.Text
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	reply := parseReply(responseText)

	g.remember(turn.SessionID, userContent, genai.NewContentFromText(reply.Response, genai.RoleModel))

	tokens := 0
	if response.UsageMetadata != nil {
		tokens = int(response.UsageMetadata.TotalTokenCount)
	}

	g.logger.Info("Character response generated",
		zap.Int("sessionID", turn.SessionID),
		zap.String("character", turn.Character.Name),
		zap.Int("tokens", tokens))

	return &domain.TextResponse{
		Response:           reply.Response,
		FlagsPlayer:        reply.FlagsPlayer,
		FlagsCharacter:     reply.FlagsCharacter,
		TokensSpent:        tokens,
		ImmediateEmotion:   reply.Emotion,
		AccumulatedEmotion: accumulate(turn.Previous, reply.Emotion),
	}, nil
}

func (g *GeminiResponder) remember(sessionID int, contents ...*genai.Content) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := append(g.history[sessionID], contents...)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	g.history[sessionID] = h
}

// Forget drops the history of a finished session
func (g *GeminiResponder) Forget(sessionID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.history, sessionID)
}
