// Package transport abstracts the peer network the game runs over.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrIDTaken         = errors.New("unavailable-id")
	ErrPeerUnavailable = errors.New("peer-unavailable")
	ErrConnClosed      = errors.New("connection closed")
	ErrPeerClosed      = errors.New("peer closed")
)

// Network hands out peer identities.
type Network interface {
	// Open claims id on the network. An empty id asks the network to assign
	// one. token reclaims an id that this process held before.
	Open(ctx context.Context, id, token string) (Peer, error)
}

// Peer is a local endpoint on the network.
type Peer interface {
	ID() string
	// Token can be passed to Network.Open to reclaim this id later.
	Token() string
	// Connect opens a channel to dst and blocks until it is open.
	Connect(ctx context.Context, dst string, metadata json.RawMessage) (Conn, error)
	// Incoming yields channels opened by remote peers.
	Incoming() <-chan Conn
	// Closed is closed once the peer is gone for good.
	Closed() <-chan struct{}
	Close() error
}

// Conn is a reliable, ordered channel between two peers.
type Conn interface {
	ID() string
	// Peer is the remote identity as vouched for by the network.
	Peer() string
	Metadata() json.RawMessage
	Opened() <-chan struct{}
	IsOpen() bool
	Send(data []byte) error
	Receive() <-chan []byte
	Done() <-chan struct{}
	Close() error
}
