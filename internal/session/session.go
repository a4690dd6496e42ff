// Package session keeps the host's and the players' channels alive and
// turns raw channel traffic into protocol messages.
package session

import (
	"errors"
	"lototet/internal/transport"
	"time"
)

var (
	ErrRoomAllocation    = errors.New("unable to generate unique room code")
	ErrRoomNotFound      = errors.New("room not found")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrNotConnected      = errors.New("not connected to host")
	ErrClosed            = errors.New("session closed")
)

// Room allocation and connection limits
const (
	MaxRoomAttempts = 5
	ConnectTimeout  = 10 * time.Second
	HealthTimeout   = 5 * time.Second
)

// Backoff is an exponential retry schedule.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff retries five times, doubling from one second up to eight.
var DefaultBackoff = Backoff{Base: time.Second, Max: 8 * time.Second, Attempts: 5}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Event is published on session state changes
type Event interface{ isSessionEvent() }

// Connected fires when a first connection to the room opens
type Connected struct{ RoomCode string }

// Reconnecting fires before each retry
type Reconnecting struct {
	Attempt int
	Max     int
	Delay   time.Duration
}

// Reconnected fires when a retry succeeds
type Reconnected struct{ RoomCode string }

// Disconnected fires once retries are exhausted or the network is gone
type Disconnected struct{ Err error }

func (Connected) isSessionEvent()    {}
func (Reconnecting) isSessionEvent() {}
func (Reconnected) isSessionEvent()  {}
func (Disconnected) isSessionEvent() {}

// drain hands fn whatever the channel buffered before it closed.
func drain(conn transport.Conn, fn func([]byte)) {
	for {
		select {
		case data := <-conn.Receive():
			fn(data)
		default:
			return
		}
	}
}
