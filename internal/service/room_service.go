package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"lototet/internal/model"
	"net/url"
	"strings"
)

// ErrInvalidRoomCode is returned before any connection attempt.
var ErrInvalidRoomCode = errors.New("room code must be 6 characters")

// GenerateRoomCode creates a 6-char code from the unambiguous alphabet
func GenerateRoomCode() (string, error) {
	b := make([]byte, model.RoomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, model.RoomCodeLength)
	for i := range code {
		code[i] = model.RoomCodeAlphabet[int(b[i])%len(model.RoomCodeAlphabet)]
	}
	return string(code), nil
}

// ValidateRoomCode normalizes user input and checks its length.
func ValidateRoomCode(raw string) (string, error) {
	code := model.NormalizeRoomCode(raw)
	if len(code) != model.RoomCodeLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomCode, code)
	}
	return code, nil
}

// JoinURL builds the link encoded in the room's QR code.
func JoinURL(base, code string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?room=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("room", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseScannedCode pulls the room code out of scanned QR text. Text that is
// not a URL carrying a room parameter is taken as the code itself.
func ParseScannedCode(text string) string {
	text = strings.TrimSpace(text)
	if u, err := url.Parse(text); err == nil && u.Scheme != "" {
		if room := u.Query().Get("room"); room != "" {
			return model.NormalizeRoomCode(room)
		}
	}
	return model.NormalizeRoomCode(text)
}
