// Package protocol defines the JSON frames exchanged over the push
// connection. Every frame is an Envelope whose Data is decoded according to
// its Type.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// FrameType identifies the kind of push frame.
type FrameType string

const (
	// Client -> Server
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"

	// Server -> Client
	TypeConnected  FrameType = "connected"
	TypeSubscribed FrameType = "subscribed"
	TypeMessage    FrameType = "message"
	TypeError      FrameType = "error"
)

// UserMessagesDestination is the per-user private delivery topic.
const UserMessagesDestination = "/user/topic/messages"

// TokenParam is the handshake query parameter carrying the bearer token.
const TokenParam = "token"

// Envelope wraps every frame with its type.
type Envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConnectedFrame is sent by the server right after the upgrade.
type ConnectedFrame struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// SubscribeFrame asks for (or confirms) delivery from a destination.
type SubscribeFrame struct {
	Destination string `json:"destination"`
}

// ErrorFrame reports a server-side failure on the push connection.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorFrame.
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInvalidFrame       = "invalid_frame"
	ErrCodeInvalidDestination = "invalid_destination"
	ErrCodeInternal           = "internal_error"
	ErrCodeReplaced           = "session_replaced"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(frameType FrameType, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encode %s frame", frameType)
	}
	return Envelope{Type: frameType, Data: raw}, nil
}

// Encode marshals an envelope with the given type and data in one step.
func Encode(frameType FrameType, data any) ([]byte, error) {
	env, err := NewEnvelope(frameType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a raw frame into an envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode frame envelope")
	}
	if env.Type == "" {
		return Envelope{}, errors.New("frame envelope has no type")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.Errorf("%s frame has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s frame", e.Type)
	}
	return nil
}
