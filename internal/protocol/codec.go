package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for tags this build does not know. Callers
	// drop such messages.
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Envelope is the wire format of every message
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps m in an envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	if bytes.Equal(payload, []byte("{}")) {
		payload = nil
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: payload})
}

// Decode parses an envelope into its concrete message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeWelcome:
		return decodeAs[Welcome](env)
	case TypeNumberDrawn:
		return decodeAs[NumberDrawn](env)
	case TypeWinClaim:
		return WinClaim{}, nil
	case TypeWinConfirmed:
		return decodeAs[WinConfirmed](env)
	case TypeWinRejected:
		return WinRejected{}, nil
	case TypeTicketUpdate:
		return decodeAs[TicketUpdate](env)
	case TypeWaitSignal:
		return WaitSignal{}, nil
	case TypeToast:
		return decodeAs[Toast](env)
	case TypeGameReset:
		return GameReset{}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeEmote:
		return decodeAs[Emote](env)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Message](env Envelope) (Message, error) {
	var m T
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return m, nil
	}
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return m, nil
}
