package session

import "github.com/kayna-aarda/AardaUnityPlugin/domain"

// Event is a notification delivered to the EventHandler.
// The set of implementations is closed to this package.
type Event interface {
	event()
}

// EventHandler receives every notification of a Client. Calls are serialized
// and follow the order frames arrived on the channel.
type EventHandler func(Event)

// OpenEvent fires once the channel is open and the credential frame was sent
type OpenEvent struct{}

// ErrorEvent carries a *ConnectionError, *ProtocolError or *TransportError
type ErrorEvent struct {
	Err error
}

// CloseEvent fires once when the receive loop ends
type CloseEvent struct{}

// InitializeEvent carries the service's handshake acknowledgement
type InitializeEvent struct {
	Response *domain.InitializeResponse
}

// TranscriptEvent carries a transcript of the player's audio
type TranscriptEvent struct {
	Response *domain.TranscriptResponse
}

// TextResponseEvent carries the character's reply
type TextResponseEvent struct {
	Response *domain.TextResponse
}

// AudioEvent carries a binary audio frame exactly as received
type AudioEvent struct {
	Data []byte
}

func (OpenEvent) event()         {}
func (ErrorEvent) event()        {}
func (CloseEvent) event()        {}
func (InitializeEvent) event()   {}
func (TranscriptEvent) event()   {}
func (TextResponseEvent) event() {}
func (AudioEvent) event()        {}
