package model

import "strings"

// Room code format
const (
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 6
	HostPeerPrefix   = "loto-"
)

// HostPeerID returns the network identity of the host for a room code.
func HostPeerID(code string) string {
	return HostPeerPrefix + code
}

// RoomCodeFromPeerID is the inverse of HostPeerID. ok is false for player ids.
func RoomCodeFromPeerID(id string) (code string, ok bool) {
	if !strings.HasPrefix(id, HostPeerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(id, HostPeerPrefix), true
}

// NormalizeRoomCode trims and uppercases user input.
func NormalizeRoomCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GameState is the host-owned draw state. Players receive copies.
type GameState struct {
	CalledNumbers []int `json:"calledNumbers"`
	GameStarted   bool  `json:"gameStarted"`
}

// Clone returns a copy that shares no memory with g.
func (g GameState) Clone() GameState {
	called := make([]int, len(g.CalledNumbers))
	copy(called, g.CalledNumbers)
	return GameState{CalledNumbers: called, GameStarted: g.GameStarted}
}

// IsCalled reports whether n has been drawn.
func (g GameState) IsCalled(n int) bool {
	for _, c := range g.CalledNumbers {
		if c == n {
			return true
		}
	}
	return false
}

// LastNumber returns the most recent draw, or 0.
func (g GameState) LastNumber() int {
	if len(g.CalledNumbers) == 0 {
		return 0
	}
	return g.CalledNumbers[len(g.CalledNumbers)-1]
}
