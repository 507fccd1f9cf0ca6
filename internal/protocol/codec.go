// Package protocol encodes and decodes the JSON frames exchanged with the
// conversational service. Every function is pure: no I/O and no retained state.
//
// Inbound frames carry a "source" discriminator and outbound frames a "type"
// discriminator. Decoding is two-phase: an envelope holding only the tag is
// decoded first, then the full variant selected by that tag.
package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
)

var (
	// ErrMissingSource is returned when an inbound frame has no or an empty "source"
	ErrMissingSource = errors.New("message does not contain a 'source' property")
	// ErrMissingType is returned when an outbound frame has no or an empty "type"
	ErrMissingType = errors.New("message does not contain a 'type' property")
	// ErrMissingToken is returned when a credential frame carries no token
	ErrMissingToken = errors.New("credential frame does not contain an 'api_token'")
	// ErrMalformedFrame wraps JSON syntax and schema errors
	ErrMalformedFrame = errors.New("malformed frame")
)

// UnknownSourceError reports an inbound discriminator this client does not know
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown message source: %s", e.Source)
}

// UnknownTypeError reports an outbound discriminator this codec does not know
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// json is the standard-library compatible sonic configuration
var json = sonic.ConfigStd

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
}

// EncodeCredential encodes the credential frame sent first after the socket opens
func EncodeCredential(token string) ([]byte, error) {
	return json.Marshal(domain.CredentialFrame{APIToken: token})
}

// DecodeCredential decodes a credential frame
func DecodeCredential(frame []byte) (string, error) {
	var c domain.CredentialFrame
	if err := json.Unmarshal(frame, &c); err != nil {
		return "", malformed(err)
	}
	if c.APIToken == "" {
		return "", ErrMissingToken
	}
	return c.APIToken, nil
}

// Encode encodes an outbound message, stamping its "type" tag.
// Pointer and value forms of the message types are both accepted.
func Encode(msg domain.OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case domain.InitializeMessage:
		m.Type = domain.TypeInitialize
		return json.Marshal(m)
	case *domain.InitializeMessage:
		return Encode(*m)
	case domain.ChatMessage:
		m.Type = domain.TypeMessage
		return json.Marshal(m)
	case *domain.ChatMessage:
		return Encode(*m)
	case domain.AudioMessage:
		m.Type = domain.TypeAudio
		if m.Encoding == "" {
			m.Encoding = domain.DefaultAudioEncoding
		}
		return json.Marshal(m)
	case *domain.AudioMessage:
		return Encode(*m)
	default:
		return nil, fmt.Errorf("cannot encode outbound message %T", msg)
	}
}

// tagField reads a top-level string tag by its exact key.
// Struct decoding folds key case, so the tag is looked up in a map instead.
// An absent, null or empty tag yields ok false.
func tagField(frame []byte, key string) (tag string, ok bool, err error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(frame, &fields); err != nil {
		return "", false, malformed(err)
	}
	raw, found := fields[key]
	if !found || raw == nil {
		return "", false, nil
	}
	tag, isString := raw.(string)
	if !isString {
		return "", false, malformed(fmt.Errorf("%s is %T, not a string", key, raw))
	}
	return tag, tag != "", nil
}

// DecodeDiscriminator reads only the "source" tag of an inbound frame
func DecodeDiscriminator(frame []byte) (string, error) {
	tag, ok, err := tagField(frame, "source")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrMissingSource
	}
	return tag, nil
}

// DecodeVariant decodes an inbound frame into the variant selected by tag
func DecodeVariant(tag string, frame []byte) (domain.InboundMessage, error) {
	var msg domain.InboundMessage
	switch tag {
	case domain.SourceInitializeResponse:
		msg = &domain.InitializeResponse{}
	case domain.SourceTranscription:
		msg = &domain.TranscriptResponse{}
	case domain.SourceTextResponse:
		msg = &domain.TextResponse{}
	default:
		return nil, &UnknownSourceError{Source: tag}
	}

	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, malformed(err)
	}
	return msg, nil
}

// Decode runs both decoding phases on an inbound frame
func Decode(frame []byte) (domain.InboundMessage, error) {
	tag, err := DecodeDiscriminator(frame)
	if err != nil {
		return nil, err
	}
	return DecodeVariant(tag, frame)
}

// EncodeInbound encodes a service message, stamping its "source" tag
func EncodeInbound(msg domain.InboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *domain.InitializeResponse:
		c := *m
		c.Source = domain.SourceInitializeResponse
		return json.Marshal(c)
	case *domain.TranscriptResponse:
		c := *m
		c.Source = domain.SourceTranscription
		return json.Marshal(c)
	case *domain.TextResponse:
		c := *m
		c.Source = domain.SourceTextResponse
		return json.Marshal(c)
	default:
		return nil, fmt.Errorf("cannot encode inbound message %T", msg)
	}
}

// DecodeType reads only the "type" tag of an outbound frame
func DecodeType(frame []byte) (string, error) {
	tag, ok, err := tagField(frame, "type")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrMissingType
	}
	return tag, nil
}

// DecodeOutbound decodes an outbound frame into the message selected by tag.
// The returned message is a value, matching what Encode accepts.
func DecodeOutbound(tag string, frame []byte) (domain.OutboundMessage, error) {
	switch tag {
	case domain.TypeInitialize:
		var m domain.InitializeMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case domain.TypeMessage:
		var m domain.ChatMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case domain.TypeAudio:
		var m domain.AudioMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	default:
		return nil, &UnknownTypeError{Type: tag}
	}
}
