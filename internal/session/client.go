// Package session implements the connection lifecycle of a conversation
// session: connect, credential, handshake, and the receive/dispatch loop.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/protocol"
)

// Client owns one Channel for the lifetime of one connection. A Client is
// single-use: once it leaves the idle state it can never connect again.
type Client struct {
	channel repositories.Channel
	handler EventHandler
	logger  *zap.Logger

	// mu guards the fields below and serializes every frame written to the
	// channel, so the credential is always the first frame sent.
	mu         sync.Mutex
	state      State
	credential string
	sessionID  int
	userUUID   string

	// emitMu serializes handler calls
	emitMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates an idle client bound to channel. handler may be nil.
func NewClient(channel repositories.Channel, handler EventHandler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		channel: channel,
		handler: handler,
		logger:  logger,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// SetCredential stores the API token sent as the first frame after open
func (c *Client) SetCredential(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credential != "" {
		return ErrCredentialSet
	}
	c.credential = token
	return nil
}

// Credential returns the stored API token
func (c *Client) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session id from the last initialize_response
func (c *Client) SessionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UserUUID returns the user id from the last initialize_response
func (c *Client) UserUUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userUUID
}

// Done is closed once the client will emit no more events
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect opens the channel to rawURL and sends the credential frame.
// A non-zero sessionID is added as the session_id query parameter to resume
// an existing session. Connect blocks until the channel opens, fails, or ctx
// is done; it never retries.
func (c *Client) Connect(ctx context.Context, rawURL string, sessionID int) error {
	c.mu.Lock()
	switch {
	case c.state == StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	case c.state != StateIdle:
		c.mu.Unlock()
		return ErrClientUsed
	case c.credential == "":
		c.mu.Unlock()
		return ErrMissingCredential
	}
	c.state = StateConnecting
	c.mu.Unlock()

	target, err := withSessionID(rawURL, sessionID)
	if err != nil {
		return c.failConnect(rawURL, err, nil)
	}

	c.logger.Info("Connecting to session service",
		zap.String("url", target),
		zap.Int("sessionID", sessionID))

	if err := c.channel.Open(ctx, target); err != nil {
		return c.failConnect(target, err, nil)
	}

	events := c.channel.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return c.failConnect(target, ErrChannelClosed, nil)
			}

			switch ev.Kind {
			case repositories.ChannelOpened:
				return c.opened(target, events)
			case repositories.ChannelError:
				return c.failConnect(target, ev.Err, events)
			case repositories.ChannelClosed:
				return c.failConnect(target, ErrChannelClosed, events)
			default:
				c.logger.Warn("Dropping frame received before open",
					zap.String("kind", ev.Kind.String()))
			}

		case <-ctx.Done():
			if err := c.channel.Close(); err != nil {
				c.logger.Debug("Channel close after cancelled connect", zap.Error(err))
			}
			return c.failConnect(target, ctx.Err(), events)
		}
	}
}

// opened sends the credential and starts the receive loop
func (c *Client) opened(target string, events <-chan repositories.ChannelEvent) error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return c.failConnect(target, ErrConnectAborted, events)
	}

	frame, err := protocol.EncodeCredential(c.credential)
	if err == nil {
		err = c.channel.SendText(frame)
	}
	if err != nil {
		c.mu.Unlock()
		if cerr := c.channel.Close(); cerr != nil {
			c.logger.Debug("Channel close after credential failure", zap.Error(cerr))
		}
		return c.failConnect(target, fmt.Errorf("send credential: %w", err), events)
	}
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info("Session connection open", zap.String("url", target))
	c.emit(OpenEvent{})

	go c.receive(events)
	return nil
}

// failConnect ends a connect attempt. A close requested while connecting
// leaves the client Closed; every other failure leaves it Failed.
func (c *Client) failConnect(target string, err error, events <-chan repositories.ChannelEvent) error {
	c.mu.Lock()
	if c.state == StateClosing {
		c.state = StateClosed
	} else {
		c.state = StateFailed
	}
	c.mu.Unlock()

	if events != nil {
		go drain(events)
	}

	connErr := &ConnectionError{URL: target, Err: err}
	c.logger.Error("Session connection failed", zap.String("url", target), zap.Error(err))
	c.emit(ErrorEvent{Err: connErr})
	c.finish()
	return connErr
}

// InitializeSession sends the handshake. The initialize_response arrives
// later as an InitializeEvent.
func (c *Client) InitializeSession(params domain.SessionParams) error {
	return c.send("initialize session", domain.NewInitializeMessage(params))
}

// SendChatMessage sends a text chat turn
func (c *Client) SendChatMessage(text, userUUID string, sessionID int) error {
	return c.send("send chat message", domain.NewChatMessage(text, userUUID, sessionID))
}

// SendAudioChunk sends raw PCM audio, base64 encoded into an audio message.
// An empty encoding is sent as audio/pcm.
func (c *Client) SendAudioChunk(audio []byte, userUUID string, sessionID int, encoding string) error {
	data := base64.StdEncoding.EncodeToString(audio)
	return c.send("send audio chunk", domain.NewAudioMessage(data, encoding, userUUID, sessionID))
}

func (c *Client) send(op string, msg domain.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return &NotConnectedError{Op: op, State: c.state}
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.channel.SendText(frame); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Debug("Sent message", zap.String("type", msg.MessageType()), zap.Int("size", len(frame)))
	return nil
}

// Close requests a graceful shutdown. It is safe to call in any state and
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateClosed
		c.mu.Unlock()
		c.finish()
		return nil
	case StateConnecting, StateOpen:
		c.state = StateClosing
		c.mu.Unlock()
		c.logger.Info("Closing session connection")
		return c.channel.Close()
	default:
		c.mu.Unlock()
		return nil
	}
}

// receive dispatches channel events in arrival order until the channel closes
func (c *Client) receive(events <-chan repositories.ChannelEvent) {
	defer c.finish()

	for ev := range events {
		switch ev.Kind {
		case repositories.ChannelText:
			c.dispatch(ev.Data)

		case repositories.ChannelBinary:
			c.emit(AudioEvent{Data: ev.Data})

		case repositories.ChannelError:
			c.mu.Lock()
			if c.state == StateOpen {
				c.state = StateFailed
			}
			c.mu.Unlock()
			c.logger.Error("Session transport error", zap.Error(ev.Err))
			c.emit(ErrorEvent{Err: &TransportError{Err: ev.Err}})

		case repositories.ChannelClosed:
			c.closed()
			go drain(events)
			return
		}
	}

	c.closed()
}

func (c *Client) closed() {
	c.mu.Lock()
	if c.state != StateFailed {
		c.state = StateClosed
	}
	c.mu.Unlock()

	c.logger.Info("Session connection closed")
	c.emit(CloseEvent{})
}

// dispatch decodes one text frame and emits exactly one event for it
func (c *Client) dispatch(frame []byte) {
	tag, err := protocol.DecodeDiscriminator(frame)
	if err != nil {
		c.protocolError("", err)
		return
	}

	msg, err := protocol.DecodeVariant(tag, frame)
	if err != nil {
		c.protocolError(tag, err)
		return
	}

	switch m := msg.(type) {
	case *domain.InitializeResponse:
		c.mu.Lock()
		c.sessionID = m.SessionID
		if m.UserUUID != "" {
			c.userUUID = m.UserUUID
		}
		c.mu.Unlock()
		c.emit(InitializeEvent{Response: m})
	case *domain.TranscriptResponse:
		c.emit(TranscriptEvent{Response: m})
	case *domain.TextResponse:
		c.emit(TextResponseEvent{Response: m})
	}
}

func (c *Client) protocolError(source string, err error) {
	c.logger.Warn("Failed to decode inbound message",
		zap.String("source", source),
		zap.Error(err))
	c.emit(ErrorEvent{Err: &ProtocolError{Source: source, Err: err}})
}

func (c *Client) emit(ev Event) {
	if c.handler == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.handler(ev)
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func drain(events <-chan repositories.ChannelEvent) {
	for range events {
	}
}

// withSessionID adds session_id to the query of rawURL when sessionID is non-zero
func withSessionID(rawURL string, sessionID int) (string, error) {
	if sessionID == 0 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", strconv.Itoa(sessionID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
