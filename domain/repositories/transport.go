package repositories

import "context"

// ChannelEventKind identifies what happened on a Channel
type ChannelEventKind int

const (
	ChannelOpened ChannelEventKind = iota
	ChannelText
	ChannelBinary
	ChannelError
	ChannelClosed
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpened:
		return "opened"
	case ChannelText:
		return "text"
	case ChannelBinary:
		return "binary"
	case ChannelError:
		return "error"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelEvent is a lifecycle or message notification from a Channel
type ChannelEvent struct {
	Kind ChannelEventKind
	Data []byte // ChannelText, ChannelBinary
	Err  error  // ChannelError
}

// Channel abstracts a bidirectional text/binary socket.
//
// Open starts connecting and returns immediately; the outcome arrives on Events as
// exactly one of ChannelOpened, ChannelError or ChannelClosed. A ChannelError is
// always followed by ChannelClosed, after which the events channel is closed.
// Events are delivered in the order they occurred to a single consumer.
type Channel interface {
	Open(ctx context.Context, url string) error
	Events() <-chan ChannelEvent
	SendText(data []byte) error
	SendBinary(data []byte) error
	Close() error
}
