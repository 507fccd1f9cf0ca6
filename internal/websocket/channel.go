// Package websocket implements the transport Channel on top of gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
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

	// Time allowed for the peer to answer our close frame.
	closeGracePeriod = 2 * time.Second

	sendBufferSize  = 256
	eventBufferSize = 64
)

var (
	ErrChannelClosed = errors.New("websocket channel closed")
	ErrAlreadyOpened = errors.New("websocket channel already opened")
	ErrNotOpen       = errors.New("websocket channel not open")
	ErrSendQueueFull = errors.New("websocket send queue full")
)

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Option configures a Channel
type Option func(*Channel)

// WithHeader sets extra headers sent with the opening handshake
func WithHeader(header http.Header) Option {
	return func(c *Channel) {
		c.header = header
	}
}

// WithDialer replaces the default dialer
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = dialer
	}
}

// Channel is a single-use client websocket connection. All events are
// produced by one goroutine, so they arrive in the order they happened.
type Channel struct {
	dialer *websocket.Dialer
	header http.Header
	logger *zap.Logger

	events chan repositories.ChannelEvent

	// Buffered channel of outbound messages.
	send chan WriteData

	// quit is closed by Close; readDone when the read pump exits.
	quit     chan struct{}
	readDone chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	started  bool
	closing  bool
	cancel   context.CancelFunc
	writeErr error
}

var _ repositories.Channel = (*Channel)(nil)

// NewChannel creates an unopened channel
func NewChannel(logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		events:   make(chan repositories.ChannelEvent, eventBufferSize),
		send:     make(chan WriteData, sendBufferSize),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the event stream. It is closed after ChannelClosed.
func (c *Channel) Events() <-chan repositories.ChannelEvent {
	return c.events
}

// Open starts dialing url in the background. The outcome arrives on Events:
// ChannelOpened, or ChannelError followed by ChannelClosed. ctx bounds the
// dial only.
func (c *Channel) Open(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrChannelClosed
	}
	if c.started {
		return ErrAlreadyOpened
	}
	c.started = true

	dialCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(dialCtx, url)
	return nil
}

func (c *Channel) run(ctx context.Context, url string) {
	defer c.cancel()

	conn, resp, err := c.dialer.DialContext(ctx, url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if !c.isClosing() {
			c.logger.Error("WebSocket dial failed", zap.String("url", url), zap.Error(err))
			c.emit(repositories.ChannelEvent{Kind: repositories.ChannelError, Err: err})
		}
		c.emit(repositories.ChannelEvent{Kind: repositories.ChannelClosed})
		close(c.events)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		c.emit(repositories.ChannelEvent{Kind: repositories.ChannelClosed})
		close(c.events)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("WebSocket connected", zap.String("url", url))
	c.emit(repositories.ChannelEvent{Kind: repositories.ChannelOpened})

	go c.writePump(conn)
	c.readPump(conn)
}

// readPump pumps frames from the connection into the event stream.
func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		close(c.readDone)
		conn.Close()
		c.emit(repositories.ChannelEvent{Kind: repositories.ChannelClosed})
		close(c.events)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.emit(repositories.ChannelEvent{Kind: repositories.ChannelText, Data: message})
		case websocket.BinaryMessage:
			c.emit(repositories.ChannelEvent{Kind: repositories.ChannelBinary, Data: message})
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// readFailed reports the error that ended the read pump, if it is one.
// A write failure closes the connection, so it takes precedence over the
// read error it causes.
func (c *Channel) readFailed(err error) {
	c.mu.Lock()
	closing, writeErr := c.closing, c.writeErr
	c.mu.Unlock()

	if writeErr != nil {
		err = writeErr
	} else if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug("WebSocket closed", zap.Error(err))
		return
	}

	c.logger.Error("WebSocket error", zap.Error(err))
	c.emit(repositories.ChannelEvent{Kind: repositories.ChannelError, Err: err})
}

// writePump pumps queued frames and pings to the connection.
func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.writeFailed(conn, err)
				return
			}

		case <-c.quit:
			c.shutdown(conn)
			return

		case <-c.readDone:
			return
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, message WriteData) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(message.Type, message.Payload); err != nil {
		c.writeFailed(conn, err)
		return err
	}
	return nil
}

func (c *Channel) writeFailed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if !c.closing {
		c.writeErr = err
	}
	c.mu.Unlock()

	c.logger.Error("Failed to write message", zap.Error(err))
	conn.Close()
}

// shutdown flushes queued frames, sends a close frame and waits for the
// peer to answer it before forcing the connection closed.
func (c *Channel) shutdown(conn *websocket.Conn) {
flush:
	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, message); err != nil {
				return
			}
		default:
			break flush
		}
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		conn.Close()
		return
	}

	select {
	case <-c.readDone:
	case <-time.After(closeGracePeriod):
		c.logger.Warn("Peer did not answer close frame")
		conn.Close()
	}
}

// SendText queues a text frame
func (c *Channel) SendText(data []byte) error {
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: data})
}

// SendBinary queues a binary frame
func (c *Channel) SendBinary(data []byte) error {
	return c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: data})
}

func (c *Channel) enqueue(message WriteData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || c.writeErr != nil {
		return ErrChannelClosed
	}
	if c.conn == nil {
		return ErrNotOpen
	}

	select {
	case c.send <- message:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close starts a graceful close. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	close(c.quit)

	if !started {
		c.emit(repositories.ChannelEvent{Kind: repositories.ChannelClosed})
		close(c.events)
	}
	return nil
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) emit(ev repositories.ChannelEvent) {
	c.events <- ev
}
