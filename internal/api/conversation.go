package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/auth"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed for the credential frame after the upgrade.
	credentialWait = 10 * time.Second

	// Sample rate assumed for client audio chunks.
	audioSampleRate = 16000

	// Type carried by every message the service sends.
	responseType = "response"
)

var upgrader = websocket.Upgrader{
	// Game clients do not send an Origin header
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// voiceSelector is implemented by speech services that can speak with a
// character's own voice
type voiceSelector interface {
	ForVoice(voiceID string) repositories.TextToSpeech
}

// closeError ends a conversation with a close frame
type closeError struct {
	code int
	text string
}

func (e *closeError) Error() string {
	return "closing connection: " + e.text
}

// ConversationHandler serves the conversation websocket
type ConversationHandler struct {
	issuer     *auth.Issuer
	characters repositories.CharacterRepository
	sessions   *SessionStore
	responder  repositories.Responder
	stt        repositories.SpeechToText
	tts        repositories.TextToSpeech
	logger     *zap.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(
	issuer *auth.Issuer,
	characters repositories.CharacterRepository,
	sessions *SessionStore,
	responder repositories.Responder,
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		issuer:     issuer,
		characters: characters,
		sessions:   sessions,
		responder:  responder,
		stt:        stt,
		tts:        tts,
		logger:     logger,
	}
}

// conversation is one websocket connection
type conversation struct {
	h      *ConversationHandler
	conn   *websocket.Conn
	send   chan WriteData
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	resumeID int

	// Set by the initialize message
	sessionID int
	params    domain.SessionParams
	character entities.Character
}

// Handle upgrades the request and serves the conversation until the peer
// goes away. A session_id query parameter resumes that session.
func (h *ConversationHandler) Handle(c echo.Context) error {
	resumeID := 0
	if v := c.QueryParam("session_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_session_id",
				Message: "session_id must be a non-negative integer",
			})
		}
		resumeID = id
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conv := &conversation{
		h:        h,
		conn:     conn,
		send:     make(chan WriteData, 256),
		ctx:      ctx,
		cancel:   cancel,
		logger:   h.logger.With(zap.String("remote", conn.RemoteAddr().String())),
		resumeID: resumeID,
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go conv.writePump()
	go conv.readPump()

	return nil
}

// readPump authenticates the peer, then handles its messages in order.
func (c *conversation) readPump() {
	defer func() {
		c.cancel()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.authenticate(); err != nil {
		c.reject(err)
		return
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Ignoring non-text frame", zap.Int("type", messageType))
			continue
		}

		if err := c.handle(message); err != nil {
			c.reject(err)
			return
		}
	}
}

// writePump pumps queued frames and pings to the connection.
func (c *conversation) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// authenticate reads the credential frame that must open the conversation
func (c *conversation) authenticate() error {
	c.conn.SetReadDeadline(time.Now().Add(credentialWait))

	messageType, message, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if messageType != websocket.TextMessage {
		return &closeError{code: websocket.ClosePolicyViolation, text: "expected credential frame"}
	}

	token, err := protocol.DecodeCredential(message)
	if err != nil {
		c.logger.Warn("Malformed credential frame", zap.Error(err))
		return &closeError{code: websocket.ClosePolicyViolation, text: "invalid credential"}
	}

	claims, err := c.h.issuer.ValidateToken(token)
	if err != nil {
		c.logger.Warn("Credential rejected", zap.Error(err))
		return &closeError{code: websocket.ClosePolicyViolation, text: "invalid credential"}
	}

	c.logger = c.logger.With(zap.String("username", claims.Username))
	c.logger.Info("Conversation authenticated")
	return nil
}

// reject sends a close frame for closeErrors; other errors just end the read loop
func (c *conversation) reject(err error) {
	var ce *closeError
	if !errors.As(err, &ce) {
		c.logger.Debug("Conversation ended", zap.Error(err))
		return
	}

	msg := websocket.FormatCloseMessage(ce.code, ce.text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("Failed to send close frame", zap.Error(err))
	}
}

// handle processes one client message. Only closeErrors end the conversation.
func (c *conversation) handle(frame []byte) error {
	tag, err := protocol.DecodeType(frame)
	if err != nil {
		c.logger.Warn("Ignoring malformed message", zap.Error(err))
		return nil
	}

	msg, err := protocol.DecodeOutbound(tag, frame)
	if err != nil {
		c.logger.Warn("Ignoring unsupported message", zap.String("type", tag), zap.Error(err))
		return nil
	}

	switch m := msg.(type) {
	case domain.InitializeMessage:
		return c.initialize(m)
	case domain.ChatMessage:
		if !c.initialized() {
			c.logger.Warn("Ignoring chat message before initialize")
			return nil
		}
		c.reply(m.Message)
	case domain.AudioMessage:
		if !c.initialized() {
			c.logger.Warn("Ignoring audio before initialize")
			return nil
		}
		c.transcribe(m)
	}
	return nil
}

func (c *conversation) initialized() bool {
	return c.sessionID != 0
}

func (c *conversation) initialize(m domain.InitializeMessage) error {
	character, err := c.h.characters.GetByID(c.ctx, m.CharacterID)
	if err != nil {
		c.logger.Warn("Unknown character", zap.Int("characterId", m.CharacterID), zap.Error(err))
		return &closeError{code: websocket.ClosePolicyViolation, text: "unknown character"}
	}

	c.params = domain.SessionParams{
		UserUUID:     m.UserUUID,
		Mood:         m.Mood,
		CharacterID:  m.CharacterID,
		PlayerID:     m.PlayerID,
		SceneID:      m.SceneID,
		AudioSupport: m.AudioSupport,
		Language:     m.Language,
	}
	c.character = *character

	session := c.h.sessions.Start(c.params, c.resumeID)
	c.sessionID = session.ID
	c.logger = c.logger.With(zap.Int("sessionId", session.ID))

	c.logger.Info("Session initialized",
		zap.String("character", character.Name),
		zap.Bool("resumed", c.resumeID != 0))

	c.sendInbound(&domain.InitializeResponse{
		Type:      responseType,
		UserUUID:  session.Params.UserUUID,
		SessionID: session.ID,
	})
	return nil
}

// reply answers a player's turn with a text response and, when the session
// supports audio, the synthesized speech as binary frames
func (c *conversation) reply(text string) {
	session, ok := c.h.sessions.Get(c.sessionID)
	if !ok {
		// Expired while connected; start over under the same id
		session = c.h.sessions.Start(c.params, c.sessionID)
	}

	resp, err := c.h.responder.Respond(c.ctx, repositories.Turn{
		SessionID: c.sessionID,
		Character: c.character,
		Mood:      c.params.Mood,
		Language:  c.params.Language,
		Text:      text,
		Previous:  session.AccumulatedEmotion,
	})
	if err != nil {
		c.logger.Error("Failed to generate response", zap.Error(err))
		return
	}
	resp.Type = responseType

	c.h.sessions.RecordResponse(c.sessionID, resp)
	c.sendInbound(resp)

	if c.params.AudioSupport {
		c.speak(resp.Response)
	}
}

func (c *conversation) speak(text string) {
	tts := c.h.tts
	if vs, ok := tts.(voiceSelector); ok && c.character.Voice != "" {
		tts = vs.ForVoice(c.character.Voice)
	}

	chunks, err := tts.ConvertTextToSpeech(c.ctx, text)
	if err != nil {
		c.logger.Error("Failed to synthesize speech", zap.Error(err))
		return
	}

	for chunk := range chunks {
		c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk})
	}
}

func (c *conversation) transcribe(m domain.AudioMessage) {
	audio, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		c.logger.Warn("Ignoring audio with invalid base64 data", zap.Error(err))
		return
	}

	transcript, err := c.h.stt.TranscribeAudio(c.ctx, audio, repositories.AudioConfig{
		SampleRate: audioSampleRate,
		Encoding:   m.Encoding,
		Language:   c.params.Language,
	})
	if err != nil {
		c.logger.Error("Failed to transcribe audio", zap.Error(err))
		return
	}

	resp := &domain.TranscriptResponse{Type: responseType, Response: transcript}
	c.h.sessions.RecordTranscript(c.sessionID, resp)
	c.sendInbound(resp)

	c.reply(transcript)
}

func (c *conversation) sendInbound(msg domain.InboundMessage) {
	frame, err := protocol.EncodeInbound(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: frame})
}

func (c *conversation) enqueue(message WriteData) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
	}
}
