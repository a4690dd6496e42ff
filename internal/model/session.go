package model

import "time"

// SessionKey is the storage key of the persisted player session.
const SessionKey = "loto_session"

// SessionTTL is how long a persisted session may be resumed.
const SessionTTL = time.Hour

// Session is what a player keeps locally to rejoin after a restart.
type Session struct {
	RoomCode   string    `json:"roomCode" validate:"required,len=6"`
	PlayerName string    `json:"playerName" validate:"max=32"`
	Sheet      Sheet     `json:"ticket"`
	PeerID     string    `json:"peerId"`
	LeaseToken string    `json:"leaseToken,omitempty"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
}

// Expired reports whether the session is older than SessionTTL at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.Timestamp) > SessionTTL
}
