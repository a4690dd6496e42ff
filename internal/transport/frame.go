package transport

import (
	"github.com/go-playground/validator/v10"
)

// FrameType tags relay frames
type FrameType string

const (
	FrameOpen    FrameType = "OPEN"
	FrameError   FrameType = "ERROR"
	FrameConnect FrameType = "CONNECT"
	FrameAccept  FrameType = "ACCEPT"
	FrameData    FrameType = "DATA"
	FrameClose   FrameType = "CLOSE"
)

// Error codes carried by ERROR frames
const (
	CodeIDTaken         = "unavailable-id"
	CodePeerUnavailable = "peer-unavailable"
	CodeInvalidFrame    = "invalid-frame"
)

// Frame is the relay wire format. Src is always filled in by the relay.
type Frame struct {
	Type     FrameType `json:"type" validate:"required,oneof=OPEN ERROR CONNECT ACCEPT DATA CLOSE"`
	ID       string    `json:"id,omitempty"`
	Token    string    `json:"token,omitempty"`
	Src      string    `json:"src,omitempty"`
	Dst      string    `json:"dst,omitempty" validate:"required_if=Type CONNECT,max=64"`
	Conn     string    `json:"conn,omitempty" validate:"omitempty,uuid"`
	Metadata []byte    `json:"metadata,omitempty" validate:"max=16384"`
	Payload  []byte    `json:"payload,omitempty" validate:"max=65536"`
	Error    string    `json:"error,omitempty"`
}

var frameValidator = newFrameValidator()

func newFrameValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		f := sl.Current().Interface().(Frame)
		switch f.Type {
		case FrameConnect, FrameAccept, FrameData, FrameClose:
			if f.Conn == "" {
				sl.ReportError(f.Conn, "Conn", "conn", "required", "")
			}
		}
	}, Frame{})
	return v
}

// Validate checks the frame's shape.
func (f Frame) Validate() error {
	return frameValidator.Struct(f)
}

// ErrorFromCode maps an ERROR frame code to a transport error.
func ErrorFromCode(code string) error {
	switch code {
	case CodeIDTaken:
		return ErrIDTaken
	case CodePeerUnavailable:
		return ErrPeerUnavailable
	default:
		return ErrConnClosed
	}
}
