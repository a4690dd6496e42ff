package protocol

import (
	"encoding/json"
	"fmt"
	"lototet/internal/model"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MaxNameLength caps a display name, in runes.
const MaxNameLength = 32

// JoinMetadata travels with a player's connection request
type JoinMetadata struct {
	Name        string      `json:"name" validate:"max=32"`
	Ticket      model.Sheet `json:"ticket,omitempty"`
	IsReconnect bool        `json:"isReconnect,omitempty"`
}

type wireMetadata struct {
	Name        string          `json:"name"`
	Ticket      json.RawMessage `json:"ticket,omitempty"`
	IsReconnect bool            `json:"isReconnect,omitempty"`
}

// EncodeMetadata serializes join metadata for the transport.
func EncodeMetadata(m JoinMetadata) (json.RawMessage, error) {
	return json.Marshal(m)
}

// DecodeMetadata parses join metadata. Empty input yields the zero value.
// Overlong names are cut to MaxNameLength. A malformed ticket is reported
// but the name and reconnect flag are still returned, with no ticket.
func DecodeMetadata(raw json.RawMessage) (JoinMetadata, error) {
	var m JoinMetadata
	if len(raw) == 0 {
		return m, nil
	}
	var w wireMetadata
	if err := json.Unmarshal(raw, &w); err != nil {
		return m, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	m.Name = clipName(w.Name)
	m.IsReconnect = w.IsReconnect
	if len(w.Ticket) > 0 {
		var sheet model.Sheet
		if err := json.Unmarshal(w.Ticket, &sheet); err != nil {
			return m, fmt.Errorf("%w: metadata ticket: %v", ErrMalformed, err)
		}
		m.Ticket = sheet
	}
	if err := validate.Struct(m); err != nil {
		return JoinMetadata{IsReconnect: m.IsReconnect}, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	return m, nil
}

func clipName(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return string([]rune(name)[:MaxNameLength])
}
