package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/protocol"
)

// fakeChannel records frames and lets tests push channel events
type fakeChannel struct {
	mu       sync.Mutex
	events   chan repositories.ChannelEvent
	autoOpen bool
	openErr  error
	url      string
	opens    int
	sent     [][]byte
	closed   bool
}

func newFakeChannel(autoOpen bool) *fakeChannel {
	return &fakeChannel{
		events:   make(chan repositories.ChannelEvent, 64),
		autoOpen: autoOpen,
	}
}

func (f *fakeChannel) Open(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.url = url
	if f.openErr != nil {
		return f.openErr
	}
	if f.autoOpen {
		f.events <- repositories.ChannelEvent{Kind: repositories.ChannelOpened}
	}
	return nil
}

func (f *fakeChannel) Events() <-chan repositories.ChannelEvent {
	return f.events
}

func (f *fakeChannel) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeChannel) SendBinary(data []byte) error {
	return errors.New("binary frames are not sent by the client")
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.events <- repositories.ChannelEvent{Kind: repositories.ChannelClosed}
	close(f.events)
	return nil
}

func (f *fakeChannel) push(ev repositories.ChannelEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

func (f *fakeChannel) pushText(frame string) {
	f.push(repositories.ChannelEvent{Kind: repositories.ChannelText, Data: []byte(frame)})
}

func (f *fakeChannel) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, b := range f.sent {
		out[i] = string(b)
	}
	return out
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 64)}
}

func (r *recorder) handle(ev Event) {
	r.events <- ev
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return nil
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("Expected no event, got %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// openClient returns a connected client and drains its OpenEvent.
// The client is closed and its receiver awaited when the test ends.
func openClient(t *testing.T) (*Client, *fakeChannel, *recorder) {
	t.Helper()
	fc := newFakeChannel(true)
	rec := newRecorder()
	client := NewClient(fc, rec.handle, zaptest.NewLogger(t))
	t.Cleanup(func() {
		client.Close()
		fc.Close()
		waitDone(t, client)
	})

	if err := client.SetCredential("tok"); err != nil {
		t.Fatalf("Failed to set credential: %v", err)
	}
	if err := client.Connect(context.Background(), "wss://host/ws", 0); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if _, ok := rec.next(t).(OpenEvent); !ok {
		t.Fatal("Expected OpenEvent first")
	}
	return client, fc, rec
}

func waitDone(t *testing.T, client *Client) {
	t.Helper()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for client to finish")
	}
}

func TestConnectURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		sessionID int
		expected  string
	}{
		{name: "resume session", url: "wss://host/ws", sessionID: 42, expected: "wss://host/ws?session_id=42"},
		{name: "new session", url: "wss://host/ws", sessionID: 0, expected: "wss://host/ws"},
		{name: "existing query", url: "wss://host/ws?lang=en", sessionID: 7, expected: "wss://host/ws?lang=en&session_id=7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeChannel(true)
			client := NewClient(fc, nil, zaptest.NewLogger(t))
			client.SetCredential("secret")

			if err := client.Connect(context.Background(), tt.url, tt.sessionID); err != nil {
				t.Fatalf("Failed to connect: %v", err)
			}

			if fc.url != tt.expected {
				t.Errorf("Expected url %s, got %s", tt.expected, fc.url)
			}

			frames := fc.frames()
			if len(frames) != 1 || frames[0] != `{"api_token":"secret"}` {
				t.Errorf("Expected credential as the only frame, got %v", frames)
			}

			if client.State() != StateOpen {
				t.Errorf("Expected state %s, got %s", StateOpen, client.State())
			}
		})
	}
}

func TestCredentialSetOnce(t *testing.T) {
	client := NewClient(newFakeChannel(true), nil, zaptest.NewLogger(t))

	if err := client.SetCredential("first"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := client.SetCredential("second"); !errors.Is(err, ErrCredentialSet) {
		t.Errorf("Expected ErrCredentialSet, got %v", err)
	}
	if client.Credential() != "first" {
		t.Errorf("Expected credential first, got %s", client.Credential())
	}
}

func TestConnectWithoutCredential(t *testing.T) {
	fc := newFakeChannel(true)
	client := NewClient(fc, nil, zaptest.NewLogger(t))

	if err := client.Connect(context.Background(), "wss://host/ws", 0); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Expected ErrMissingCredential, got %v", err)
	}
	if fc.opens != 0 {
		t.Error("Channel should not be opened without a credential")
	}
	if client.State() != StateIdle {
		t.Errorf("Expected state %s, got %s", StateIdle, client.State())
	}
}

func TestSendBeforeOpen(t *testing.T) {
	fc := newFakeChannel(true)
	client := NewClient(fc, nil, zaptest.NewLogger(t))

	sends := []struct {
		name string
		send func() error
	}{
		{name: "initialize", send: func() error { return client.InitializeSession(domain.SessionParams{UserUUID: "u1"}) }},
		{name: "chat", send: func() error { return client.SendChatMessage("hello", "u1", 7) }},
		{name: "audio", send: func() error { return client.SendAudioChunk([]byte{1, 2}, "u1", 7, "") }},
	}

	for _, tt := range sends {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.send()

			var notConnected *NotConnectedError
			if !errors.As(err, &notConnected) {
				t.Fatalf("Expected NotConnectedError, got %v", err)
			}
			if notConnected.State != StateIdle {
				t.Errorf("Expected state %s, got %s", StateIdle, notConnected.State)
			}
		})
	}

	if len(fc.frames()) != 0 {
		t.Errorf("Expected no frames sent, got %v", fc.frames())
	}
}

func TestSendChatMessage(t *testing.T) {
	client, fc, _ := openClient(t)

	if err := client.SendChatMessage("hello", "u1", 7); err != nil {
		t.Fatalf("Failed to send chat message: %v", err)
	}

	frames := fc.frames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	expected := `{"type":"message","message":"hello","user_uuid":"u1","session_id":7}`
	if frames[1] != expected {
		t.Errorf("Expected %s, got %s", expected, frames[1])
	}
}

func TestInitializeSession(t *testing.T) {
	client, fc, _ := openClient(t)

	params := domain.SessionParams{
		UserUUID:     "u1",
		Mood:         "neutral",
		CharacterID:  4,
		PlayerID:     1,
		SceneID:      2,
		AudioSupport: true,
		Language:     "en",
	}
	if err := client.InitializeSession(params); err != nil {
		t.Fatalf("Failed to initialize session: %v", err)
	}

	frames := fc.frames()
	expected := `{"type":"initialize","user_uuid":"u1","mood":"neutral","characterId":4,"playerId":1,"sceneId":2,"audioSupport":true,"language":"en"}`
	if frames[len(frames)-1] != expected {
		t.Errorf("Expected %s, got %s", expected, frames[len(frames)-1])
	}
}

func TestSendAudioChunk(t *testing.T) {
	client, fc, _ := openClient(t)

	if err := client.SendAudioChunk([]byte{0, 1, 2}, "u1", 7, ""); err != nil {
		t.Fatalf("Failed to send audio chunk: %v", err)
	}

	frames := fc.frames()
	decoded, err := protocol.DecodeOutbound(domain.TypeAudio, []byte(frames[len(frames)-1]))
	if err != nil {
		t.Fatalf("Failed to decode audio frame: %v", err)
	}

	audio := decoded.(domain.AudioMessage)
	if audio.Data != "AAEC" {
		t.Errorf("Expected base64 data AAEC, got %s", audio.Data)
	}
	if audio.Encoding != "audio/pcm" {
		t.Errorf("Expected encoding audio/pcm, got %s", audio.Encoding)
	}
	if audio.SessionID != 7 || audio.UserUUID != "u1" {
		t.Errorf("Unexpected audio message: %+v", audio)
	}
}

func TestDispatchTypedEventsInOrder(t *testing.T) {
	client, fc, rec := openClient(t)

	fc.pushText(`{"type":"response","source":"initialize_response","user_uuid":"u9","session_id":12}`)
	fc.pushText(`{"type":"response","source":"transcription","response":"hello there"}`)
	fc.pushText(`{"source":"text_response","response":"Well met","flags_player":["greeted"],"tokens_spent":5,"immediate_emotion":{"joy_sadness":0.5}}`)

	initEv, ok := rec.next(t).(InitializeEvent)
	if !ok {
		t.Fatal("Expected InitializeEvent first")
	}
	if initEv.Response.SessionID != 12 || initEv.Response.UserUUID != "u9" {
		t.Errorf("Unexpected initialize response: %+v", initEv.Response)
	}

	transcriptEv, ok := rec.next(t).(TranscriptEvent)
	if !ok {
		t.Fatal("Expected TranscriptEvent second")
	}
	if transcriptEv.Response.Response != "hello there" {
		t.Errorf("Expected transcript 'hello there', got '%s'", transcriptEv.Response.Response)
	}

	textEv, ok := rec.next(t).(TextResponseEvent)
	if !ok {
		t.Fatal("Expected TextResponseEvent third")
	}
	if textEv.Response.Response != "Well met" || textEv.Response.TokensSpent != 5 {
		t.Errorf("Unexpected text response: %+v", textEv.Response)
	}
	if textEv.Response.ImmediateEmotion.JoySadness != 0.5 {
		t.Errorf("Expected joy_sadness 0.5, got %v", textEv.Response.ImmediateEmotion.JoySadness)
	}

	rec.expectNone(t)

	if client.SessionID() != 12 {
		t.Errorf("Expected session id 12, got %d", client.SessionID())
	}
	if client.UserUUID() != "u9" {
		t.Errorf("Expected user uuid u9, got %s", client.UserUUID())
	}
}

func TestDispatchProtocolErrors(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		wantSource string
		wantErr    error
	}{
		{name: "missing source", frame: `{"type":"response","response":"hi"}`, wantErr: protocol.ErrMissingSource},
		{name: "empty source", frame: `{"source":""}`, wantErr: protocol.ErrMissingSource},
		{name: "differently cased source key", frame: `{"SOURCE":"transcription","response":"hi"}`, wantErr: protocol.ErrMissingSource},
		{name: "truncated", frame: `{"source":`, wantErr: protocol.ErrMalformedFrame},
		{name: "schema mismatch", frame: `{"source":"text_response","tokens_spent":"many"}`, wantSource: "text_response", wantErr: protocol.ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, fc, rec := openClient(t)

			fc.pushText(tt.frame)
			fc.pushText(`{"source":"transcription","response":"next"}`)

			errEv, ok := rec.next(t).(ErrorEvent)
			if !ok {
				t.Fatal("Expected ErrorEvent")
			}

			var protoErr *ProtocolError
			if !errors.As(errEv.Err, &protoErr) {
				t.Fatalf("Expected ProtocolError, got %v", errEv.Err)
			}
			if protoErr.Source != tt.wantSource {
				t.Errorf("Expected source %q, got %q", tt.wantSource, protoErr.Source)
			}
			if !errors.Is(errEv.Err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, errEv.Err)
			}

			transcriptEv, ok := rec.next(t).(TranscriptEvent)
			if !ok {
				t.Fatal("Expected the next frame to be dispatched")
			}
			if transcriptEv.Response.Response != "next" {
				t.Errorf("Expected transcript next, got %s", transcriptEv.Response.Response)
			}

			if client.State() != StateOpen {
				t.Errorf("Expected state %s, got %s", StateOpen, client.State())
			}
		})
	}
}

func TestDispatchUnknownSource(t *testing.T) {
	client, fc, rec := openClient(t)

	fc.pushText(`{"source":"xyz"}`)

	errEv, ok := rec.next(t).(ErrorEvent)
	if !ok {
		t.Fatal("Expected ErrorEvent")
	}
	if !strings.Contains(errEv.Err.Error(), "xyz") {
		t.Errorf("Expected error to name xyz, got %v", errEv.Err)
	}

	var unknown *protocol.UnknownSourceError
	if !errors.As(errEv.Err, &unknown) {
		t.Errorf("Expected UnknownSourceError, got %v", errEv.Err)
	}

	rec.expectNone(t)
	if client.State() != StateOpen {
		t.Errorf("Expected state %s, got %s", StateOpen, client.State())
	}
}

func TestDispatchBinaryAudio(t *testing.T) {
	_, fc, rec := openClient(t)

	fc.push(repositories.ChannelEvent{Kind: repositories.ChannelBinary, Data: []byte{9, 8, 7}})

	audioEv, ok := rec.next(t).(AudioEvent)
	if !ok {
		t.Fatal("Expected AudioEvent")
	}
	if string(audioEv.Data) != string([]byte{9, 8, 7}) {
		t.Errorf("Expected audio bytes to pass through, got %v", audioEv.Data)
	}
}

func TestDoneAfterPendingFramesDispatched(t *testing.T) {
	client, fc, rec := openClient(t)

	for i := 0; i < 10; i++ {
		fc.pushText(`{"source":"transcription","response":"pending"}`)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	waitDone(t, client)

	var last Event
	count := 0
	for len(rec.events) > 0 {
		last = <-rec.events
		count++
	}
	if count != 11 {
		t.Errorf("Expected 11 events before done, got %d", count)
	}
	if _, ok := last.(CloseEvent); !ok {
		t.Errorf("Expected CloseEvent last, got %#v", last)
	}
	rec.expectNone(t)
}

func TestTransportErrorFailsClient(t *testing.T) {
	client, fc, rec := openClient(t)

	fc.push(repositories.ChannelEvent{Kind: repositories.ChannelError, Err: errors.New("connection reset")})

	errEv, ok := rec.next(t).(ErrorEvent)
	if !ok {
		t.Fatal("Expected ErrorEvent")
	}
	var transportErr *TransportError
	if !errors.As(errEv.Err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", errEv.Err)
	}

	if client.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, client.State())
	}

	before := len(fc.frames())
	var notConnected *NotConnectedError
	if err := client.SendChatMessage("hello", "u1", 7); !errors.As(err, &notConnected) {
		t.Errorf("Expected NotConnectedError, got %v", err)
	}
	if len(fc.frames()) != before {
		t.Error("No frame should be sent after a transport error")
	}

	fc.Close()
	if _, ok := rec.next(t).(CloseEvent); !ok {
		t.Fatal("Expected CloseEvent")
	}
	waitDone(t, client)

	if client.State() != StateFailed {
		t.Errorf("Expected state to stay %s, got %s", StateFailed, client.State())
	}
}

func TestCloseIdempotent(t *testing.T) {
	client, _, rec := openClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if _, ok := rec.next(t).(CloseEvent); !ok {
		t.Fatal("Expected CloseEvent")
	}
	waitDone(t, client)

	if client.State() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, client.State())
	}

	if err := client.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	rec.expectNone(t)

	if err := client.Connect(context.Background(), "wss://host/ws", 0); !errors.Is(err, ErrClientUsed) {
		t.Errorf("Expected ErrClientUsed, got %v", err)
	}
}

func TestCloseIdleClient(t *testing.T) {
	client := NewClient(newFakeChannel(true), nil, zaptest.NewLogger(t))

	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	waitDone(t, client)

	if client.State() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, client.State())
	}
}

func TestConnectFailure(t *testing.T) {
	fc := newFakeChannel(false)
	rec := newRecorder()
	client := NewClient(fc, rec.handle, zaptest.NewLogger(t))
	client.SetCredential("tok")

	cause := errors.New("dial refused")
	fc.push(repositories.ChannelEvent{Kind: repositories.ChannelError, Err: cause})
	fc.Close()

	err := client.Connect(context.Background(), "wss://host/ws", 0)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected ConnectionError to unwrap to the cause, got %v", err)
	}
	if client.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, client.State())
	}

	errEv, ok := rec.next(t).(ErrorEvent)
	if !ok || !errors.As(errEv.Err, &connErr) {
		t.Errorf("Expected ErrorEvent with ConnectionError, got %#v", errEv)
	}
	waitDone(t, client)

	if len(fc.frames()) != 0 {
		t.Errorf("No frame should be sent on a failed connect, got %v", fc.frames())
	}
}

func TestConnectOpenError(t *testing.T) {
	fc := newFakeChannel(false)
	fc.openErr = errors.New("bad url")
	client := NewClient(fc, nil, zaptest.NewLogger(t))
	client.SetCredential("tok")

	err := client.Connect(context.Background(), "wss://host/ws", 0)
	if !errors.Is(err, fc.openErr) {
		t.Errorf("Expected open error, got %v", err)
	}
	if client.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, client.State())
	}
}

func waitState(t *testing.T, client *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for client.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for state %s, got %s", want, client.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectInProgress(t *testing.T) {
	fc := newFakeChannel(false)
	client := NewClient(fc, nil, zaptest.NewLogger(t))
	client.SetCredential("tok")

	result := make(chan error, 1)
	go func() {
		result <- client.Connect(context.Background(), "wss://host/ws", 0)
	}()

	waitState(t, client, StateConnecting)

	if err := client.Connect(context.Background(), "wss://host/ws", 0); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("Expected ErrConnectInProgress, got %v", err)
	}

	fc.push(repositories.ChannelEvent{Kind: repositories.ChannelOpened})

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Expected first connect to succeed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connect")
	}

	if err := client.Connect(context.Background(), "wss://host/ws", 0); !errors.Is(err, ErrClientUsed) {
		t.Errorf("Expected ErrClientUsed, got %v", err)
	}

	client.Close()
}

func TestConnectCancelled(t *testing.T) {
	fc := newFakeChannel(false)
	client := NewClient(fc, nil, zaptest.NewLogger(t))
	client.SetCredential("tok")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Connect(ctx, "wss://host/ws", 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if client.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, client.State())
	}
	if !fc.closed {
		t.Error("Channel should be closed after a cancelled connect")
	}
}

func TestCloseWhileConnecting(t *testing.T) {
	fc := newFakeChannel(false)
	client := NewClient(fc, nil, zaptest.NewLogger(t))
	client.SetCredential("tok")

	result := make(chan error, 1)
	go func() {
		result <- client.Connect(context.Background(), "wss://host/ws", 0)
	}()

	waitState(t, client, StateConnecting)

	if err := client.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	select {
	case err := <-result:
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Errorf("Expected ConnectionError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connect to abort")
	}

	if client.State() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, client.State())
	}
}
