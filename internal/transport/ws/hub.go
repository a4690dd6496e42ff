// Package ws is the relay server: it owns the peer identity namespace and
// carries channel frames between peers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"lototet/internal/cache"
	"lototet/internal/service"
	"lototet/internal/transport"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultLeaseGrace is how long an identity stays reserved after its socket drops.
const DefaultLeaseGrace = 30 * time.Second

const cacheTimeout = 2 * time.Second

// Endpoint is one connected peer socket
type Endpoint struct {
	PeerID string
	Send   chan []byte
}

// route is a channel between the peer that sent CONNECT and the one it dialed
type route struct {
	from, to string
	open     bool
}

func (r *route) other(id string) (string, bool) {
	switch id {
	case r.from:
		return r.to, true
	case r.to:
		return r.from, true
	}
	return "", false
}

type registration struct {
	id, token string
	reply     chan registered
}

type registered struct {
	ep    *Endpoint
	token string
	err   error
}

type inboundFrame struct {
	from  *Endpoint
	frame transport.Frame
}

// Hub manages relay sockets and routes frames between them
type Hub struct {
	peers  map[string]*Endpoint
	routes map[string]*route // conn id -> endpoints

	mu sync.RWMutex

	// Channels for coordination
	register   chan *registration
	unregister chan *Endpoint
	inbound    chan inboundFrame

	leases   cache.PeerCache
	leaseSvc *service.LeaseService
	grace    time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

// NewHub creates a relay hub. Call Run to start routing.
func NewHub(leases cache.PeerCache, leaseSvc *service.LeaseService, grace time.Duration, logger *zap.Logger) *Hub {
	if grace <= 0 {
		grace = DefaultLeaseGrace
	}
	return &Hub{
		peers:      make(map[string]*Endpoint),
		routes:     make(map[string]*route),
		register:   make(chan *registration),
		unregister: make(chan *Endpoint),
		inbound:    make(chan inboundFrame, 256),
		leases:     leases,
		leaseSvc:   leaseSvc,
		grace:      grace,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run routes until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil

		case reg := <-h.register:
			ep, token, err := h.claim(ctx, reg.id, reg.token)
			reg.reply <- registered{ep: ep, token: token, err: err}

		case ep := <-h.unregister:
			h.remove(ep)

		case in := <-h.inbound:
			h.route(in.from, in.frame)
		}
	}
}

func (h *Hub) claim(ctx context.Context, id, token string) (*Endpoint, string, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	if id == "" {
		for id == "" || h.online(id) {
			id = service.NewPeerID()
		}
	} else {
		if h.online(id) {
			return nil, "", transport.ErrIDTaken
		}
		held, err := h.leases.Held(ctx, id)
		if err != nil {
			h.logger.Warn("lease lookup failed", zap.String("peer", id), zap.Error(err))
		}
		if held && !h.leaseSvc.Owns(token, id) {
			return nil, "", transport.ErrIDTaken
		}
		if held {
			if err := h.leases.Release(ctx, id); err != nil {
				h.logger.Warn("lease release failed", zap.String("peer", id), zap.Error(err))
			}
		}
	}

	lease, err := h.leaseSvc.Issue(id)
	if err != nil {
		return nil, "", err
	}
	ep := &Endpoint{PeerID: id, Send: make(chan []byte, 256)}
	h.enqueue(ep, transport.Frame{Type: transport.FrameOpen, ID: id, Token: lease})

	h.mu.Lock()
	h.peers[id] = ep
	h.mu.Unlock()

	h.logger.Info("peer opened", zap.String("peer", id))
	return ep, lease, nil
}

func (h *Hub) online(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.peers[id]
	return ok
}

// current reports whether ep is still the live socket for its id. A socket
// replaced by a reclaim keeps its id but no longer counts.
func (h *Hub) current(ep *Endpoint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[ep.PeerID] == ep
}

func (h *Hub) remove(ep *Endpoint) {
	h.mu.Lock()
	existing, ok := h.peers[ep.PeerID]
	if !ok || existing != ep {
		h.mu.Unlock()
		return
	}
	delete(h.peers, ep.PeerID)
	h.mu.Unlock()
	close(ep.Send)

	for connID, r := range h.routes {
		other, ok := r.other(ep.PeerID)
		if !ok {
			continue
		}
		delete(h.routes, connID)
		h.sendTo(other, transport.Frame{Type: transport.FrameClose, Src: ep.PeerID, Conn: connID})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := h.leases.Hold(ctx, ep.PeerID, h.grace); err != nil {
		h.logger.Warn("lease hold failed", zap.String("peer", ep.PeerID), zap.Error(err))
	}
	h.logger.Info("peer closed", zap.String("peer", ep.PeerID))
}

func (h *Hub) route(from *Endpoint, f transport.Frame) {
	if !h.current(from) {
		return
	}
	if err := f.Validate(); err != nil {
		h.logger.Debug("invalid frame", zap.String("peer", from.PeerID), zap.Error(err))
		h.enqueue(from, transport.Frame{Type: transport.FrameError, Conn: f.Conn, Error: transport.CodeInvalidFrame})
		return
	}

	switch f.Type {
	case transport.FrameConnect:
		if _, dup := h.routes[f.Conn]; dup {
			h.enqueue(from, transport.Frame{Type: transport.FrameError, Conn: f.Conn, Error: transport.CodeInvalidFrame})
			return
		}
		if !h.online(f.Dst) || f.Dst == from.PeerID {
			h.enqueue(from, transport.Frame{Type: transport.FrameError, Conn: f.Conn, Dst: f.Dst, Error: transport.CodePeerUnavailable})
			return
		}
		h.routes[f.Conn] = &route{from: from.PeerID, to: f.Dst}
		h.sendTo(f.Dst, transport.Frame{Type: transport.FrameConnect, Src: from.PeerID, Conn: f.Conn, Metadata: f.Metadata})

	case transport.FrameAccept:
		r, ok := h.routes[f.Conn]
		if !ok || r.to != from.PeerID {
			return
		}
		r.open = true
		h.sendTo(r.from, transport.Frame{Type: transport.FrameAccept, Src: from.PeerID, Conn: f.Conn})

	case transport.FrameData:
		r, ok := h.routes[f.Conn]
		if !ok || !r.open {
			return
		}
		if other, ok := r.other(from.PeerID); ok {
			h.sendTo(other, transport.Frame{Type: transport.FrameData, Src: from.PeerID, Conn: f.Conn, Payload: f.Payload})
		}

	case transport.FrameClose:
		r, ok := h.routes[f.Conn]
		if !ok {
			return
		}
		if other, ok := r.other(from.PeerID); ok {
			delete(h.routes, f.Conn)
			h.sendTo(other, transport.Frame{Type: transport.FrameClose, Src: from.PeerID, Conn: f.Conn})
		}
	}
}

func (h *Hub) sendTo(peerID string, f transport.Frame) {
	h.mu.RLock()
	ep, ok := h.peers[peerID]
	h.mu.RUnlock()
	if ok {
		h.enqueue(ep, f)
	}
}

// enqueue drops a peer whose buffer is full rather than losing frames.
func (h *Hub) enqueue(ep *Endpoint, f transport.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case ep.Send <- data:
	default:
		h.logger.Warn("peer too slow, disconnecting", zap.String("peer", ep.PeerID))
		h.remove(ep)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ep := range h.peers {
		close(ep.Send)
		delete(h.peers, id)
	}
	h.routes = make(map[string]*route)
}

// Register claims id for a new socket. An empty id is assigned one.
func (h *Hub) Register(ctx context.Context, id, token string) (*Endpoint, string, error) {
	reg := &registration{id: id, token: token, reply: make(chan registered, 1)}
	select {
	case h.register <- reg:
	case <-h.done:
		return nil, "", transport.ErrPeerClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	select {
	case res := <-reg.reply:
		return res.ep, res.token, res.err
	case <-ctx.Done():
		go func() {
			if res := <-reg.reply; res.ep != nil {
				h.Unregister(res.ep)
			}
		}()
		return nil, "", ctx.Err()
	}
}

// Unregister removes a socket's endpoint and closes its channels
func (h *Hub) Unregister(ep *Endpoint) {
	select {
	case h.unregister <- ep:
	case <-h.done:
	}
}

// Route hands a frame read from ep to the hub
func (h *Hub) Route(ep *Endpoint, f transport.Frame) {
	select {
	case h.inbound <- inboundFrame{from: ep, frame: f}:
	case <-h.done:
	}
}

// Online reports whether a peer id currently has a live socket.
func (h *Hub) Online(id string) bool {
	return h.online(id)
}

// errorCode maps a registration error to its ERROR frame code.
func errorCode(err error) string {
	if errors.Is(err, transport.ErrIDTaken) {
		return transport.CodeIDTaken
	}
	return transport.CodeInvalidFrame
}
