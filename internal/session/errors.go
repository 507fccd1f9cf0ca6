package session

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("credential must be set before connecting")
	ErrCredentialSet     = errors.New("credential already set")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrClientUsed        = errors.New("client already used; create a new client to reconnect")
	ErrChannelClosed     = errors.New("channel closed before opening")
	ErrConnectAborted    = errors.New("connect aborted by close")
)

// ConnectionError reports a channel that failed to open or failed before the
// credential frame could be sent. It is fatal to that connect attempt.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotConnectedError reports a send attempted outside the open state
type NotConnectedError struct {
	Op    string
	State State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: not connected (state %s)", e.Op, e.State)
}

// ProtocolError reports an inbound frame that could not be decoded.
// Source is empty when the discriminator itself was missing or unreadable.
type ProtocolError struct {
	Source string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error in %q message: %v", e.Source, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError reports a channel fault after the connection was established
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
