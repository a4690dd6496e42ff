package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// MemoryNetwork is an in-process Network. Its fault hooks let tests drop
// peers and refuse connections.
type MemoryNetwork struct {
	mu     sync.Mutex
	peers  map[string]*memoryPeer
	refuse map[string]bool
	opened int
	onOpen func(id string) error
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		peers:  make(map[string]*memoryPeer),
		refuse: make(map[string]bool),
	}
}

// OnOpen installs a hook consulted before every Open. A non-nil error fails
// the call.
func (n *MemoryNetwork) OnOpen(fn func(id string) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onOpen = fn
}

// Refuse makes connects to id hang until their context ends.
func (n *MemoryNetwork) Refuse(id string, refuse bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuse[id] = refuse
}

// Drop closes every channel of id without closing the peer itself, as a
// relay does when a socket flaps.
func (n *MemoryNetwork) Drop(id string) {
	n.mu.Lock()
	p := n.peers[id]
	n.mu.Unlock()
	if p != nil {
		p.dropChannels()
	}
}

// Kill removes id from the network entirely.
func (n *MemoryNetwork) Kill(id string) {
	n.mu.Lock()
	p := n.peers[id]
	n.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
}

// Has reports whether id is currently held.
func (n *MemoryNetwork) Has(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.peers[id]
	return ok
}

// Opens counts successful Open calls.
func (n *MemoryNetwork) Opens() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opened
}

func (n *MemoryNetwork) Open(ctx context.Context, id, token string) (Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.onOpen != nil {
		if err := n.onOpen(id); err != nil {
			return nil, err
		}
	}
	if id == "" {
		id = "p_" + uuid.New().String()[:8]
	}
	if _, taken := n.peers[id]; taken {
		return nil, ErrIDTaken
	}

	p := &memoryPeer{
		net:      n,
		id:       id,
		token:    uuid.New().String(),
		incoming: make(chan Conn, 16),
		closed:   make(chan struct{}),
		channels: make(map[string]*memoryPair),
	}
	n.peers[id] = p
	n.opened++
	return p, nil
}

func (n *MemoryNetwork) lookup(id string) (p *memoryPeer, exists, refused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, exists = n.peers[id]
	return p, exists, n.refuse[id]
}

func (n *MemoryNetwork) remove(p *memoryPeer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
}

type memoryPair struct {
	local, remote *Channel
	other         *memoryPeer
}

type memoryPeer struct {
	net      *MemoryNetwork
	id       string
	token    string
	incoming chan Conn
	closed   chan struct{}

	mu       sync.Mutex
	channels map[string]*memoryPair
	done     bool
}

func (p *memoryPeer) ID() string              { return p.id }
func (p *memoryPeer) Token() string           { return p.token }
func (p *memoryPeer) Incoming() <-chan Conn   { return p.incoming }
func (p *memoryPeer) Closed() <-chan struct{} { return p.closed }

func (p *memoryPeer) Connect(ctx context.Context, dst string, metadata json.RawMessage) (Conn, error) {
	remote, exists, refused := p.net.lookup(dst)
	if refused {
		// an unreachable host never answers
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !exists {
		return nil, ErrPeerUnavailable
	}

	connID := uuid.New().String()
	var local, far *Channel
	local = NewChannel(connID, dst, metadata, func(b []byte) error {
		if !far.Deliver(b) {
			return ErrConnClosed
		}
		return nil
	}, func() { far.Shutdown(); remote.forget(connID) })
	far = NewChannel(connID, p.id, metadata, func(b []byte) error {
		if !local.Deliver(b) {
			return ErrConnClosed
		}
		return nil
	}, func() { local.Shutdown(); p.forget(connID) })

	if !p.track(connID, &memoryPair{local: local, remote: far, other: remote}) ||
		!remote.track(connID, &memoryPair{local: far, remote: local, other: p}) {
		return nil, ErrPeerClosed
	}

	far.MarkOpen()
	select {
	case remote.incoming <- far:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-remote.closed:
		return nil, ErrPeerUnavailable
	}
	local.MarkOpen()
	return local, nil
}

func (p *memoryPeer) track(id string, pair *memoryPair) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return false
	}
	p.channels[id] = pair
	return true
}

func (p *memoryPeer) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, id)
}

func (p *memoryPeer) dropChannels() {
	p.mu.Lock()
	pairs := p.channels
	p.channels = make(map[string]*memoryPair)
	p.mu.Unlock()

	for id, pair := range pairs {
		pair.local.Shutdown()
		pair.remote.Shutdown()
		pair.other.forget(id)
	}
}

func (p *memoryPeer) Close() error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	p.mu.Unlock()

	p.net.remove(p)
	p.dropChannels()
	close(p.closed)
	return nil
}
