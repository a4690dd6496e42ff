package session

import (
	"context"
	"errors"
	"fmt"
	"lototet/internal/event"
	"lototet/internal/model"
	"lototet/internal/protocol"
	"lototet/internal/transport"
	"sync"

	"go.uber.org/zap"
)

// HostListener receives player lifecycle and game traffic on the host.
// Calls for one player arrive in order: join, messages, leave.
type HostListener interface {
	PlayerJoined(peerID string, meta protocol.JoinMetadata)
	PlayerLeft(peerID string)
	Handle(from string, m protocol.Message)
}

// HostSession owns the host's network identity and one channel per player.
type HostSession struct {
	network  transport.Network
	newCode  func() (string, error)
	listener HostListener
	logger   *zap.Logger
	events   *event.Bus[Event]

	// lifecycle orders PlayerJoined and PlayerLeft with the conns change
	// that caused them, so a fast rejoin cannot overtake a leave.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	peer       transport.Peer
	code       string
	conns      map[string]transport.Conn // remote peer id -> channel
	registered map[string]bool           // channel ids seen
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHostSession creates a host session. newCode generates candidate room codes.
func NewHostSession(network transport.Network, newCode func() (string, error), logger *zap.Logger) *HostSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &HostSession{
		network:    network,
		newCode:    newCode,
		logger:     logger,
		events:     event.NewBus[Event](),
		conns:      make(map[string]transport.Conn),
		registered: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetListener injects the game authority (avoids import cycle)
func (s *HostSession) SetListener(l HostListener) {
	s.listener = l
}

// Events subscribes to session events.
func (s *HostSession) Events(buffer int) (<-chan Event, func()) {
	return s.events.Subscribe(buffer)
}

// RoomCode returns the code claimed by Start.
func (s *HostSession) RoomCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

// Start claims a fresh room identity, retrying on collisions.
func (s *HostSession) Start(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= MaxRoomAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}

		peer, err := s.network.Open(ctx, model.HostPeerID(code), "")
		if errors.Is(err, transport.ErrIDTaken) {
			s.logger.Info("room code taken, retrying", zap.String("room", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("open host peer: %w", err)
		}

		s.mu.Lock()
		s.peer = peer
		s.code = code
		s.mu.Unlock()

		s.logger.Info("room opened", zap.String("room", code))
		go s.acceptLoop(peer)
		return code, nil
	}
	return "", ErrRoomAllocation
}

func (s *HostSession) acceptLoop(peer transport.Peer) {
	for {
		select {
		case conn := <-peer.Incoming():
			go s.accept(conn)
		case <-peer.Closed():
			s.logger.Warn("host identity lost", zap.String("peer", peer.ID()))
			s.events.Publish(Disconnected{Err: transport.ErrPeerClosed})
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *HostSession) accept(conn transport.Conn) {
	select {
	case <-conn.Opened():
	case <-conn.Done():
		return
	case <-s.ctx.Done():
		return
	}

	peerID := conn.Peer()
	s.lifecycle.Lock()
	s.mu.Lock()
	if s.registered[conn.ID()] {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return
	}
	s.registered[conn.ID()] = true
	old := s.conns[peerID]
	s.conns[peerID] = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	meta, err := protocol.DecodeMetadata(conn.Metadata())
	if err != nil {
		s.logger.Warn("bad join metadata", zap.String("peer", peerID), zap.Error(err))
	}
	s.logger.Info("player connected",
		zap.String("peer", peerID),
		zap.String("conn", conn.ID()),
		zap.Bool("reconnect", meta.IsReconnect))

	if s.listener != nil {
		s.listener.PlayerJoined(peerID, meta)
	}
	s.lifecycle.Unlock()
	s.readLoop(conn)
}

func (s *HostSession) readLoop(conn transport.Conn) {
	for {
		select {
		case data := <-conn.Receive():
			s.handle(conn, data)
		case <-conn.Done():
			drain(conn, func(data []byte) { s.handle(conn, data) })
			s.drop(conn)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *HostSession) handle(conn transport.Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		s.logger.Debug("ignoring message", zap.String("peer", conn.Peer()), zap.Error(err))
		return
	}
	if err != nil {
		s.logger.Warn("dropping message", zap.String("peer", conn.Peer()), zap.Error(err))
		return
	}

	switch msg.(type) {
	case protocol.Ping:
		s.sendOn(conn, protocol.Pong{})
		return
	case protocol.Pong:
		return
	}
	if s.listener != nil {
		s.listener.Handle(conn.Peer(), msg)
	}
}

func (s *HostSession) drop(conn transport.Conn) {
	peerID := conn.Peer()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	current := s.conns[peerID] == conn
	if current {
		delete(s.conns, peerID)
	}
	delete(s.registered, conn.ID())
	s.mu.Unlock()

	// a newer channel from the same player has taken over
	if !current {
		return
	}
	s.logger.Info("player disconnected", zap.String("peer", peerID))
	if s.listener != nil {
		s.listener.PlayerLeft(peerID)
	}
}

// SendTo delivers m to one player. Closed channels are skipped.
func (s *HostSession) SendTo(peerID string, m protocol.Message) {
	s.mu.RLock()
	conn := s.conns[peerID]
	s.mu.RUnlock()
	if conn == nil {
		s.logger.Debug("send skipped, no channel", zap.String("peer", peerID), zap.String("type", string(m.Type())))
		return
	}
	s.sendOn(conn, m)
}

// Broadcast delivers m to every open channel except those in exclude.
func (s *HostSession) Broadcast(m protocol.Message, exclude ...string) {
	data, err := protocol.Encode(m)
	if err != nil {
		s.logger.Error("encode broadcast", zap.Error(err))
		return
	}

	s.mu.RLock()
	targets := make([]transport.Conn, 0, len(s.conns))
	for id, conn := range s.conns {
		if !excluded(id, exclude) {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		s.write(conn, m.Type(), data)
	}
}

// ConnectedPeers lists players with a live channel.
func (s *HostSession) ConnectedPeers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for id, conn := range s.conns {
		if conn.IsOpen() {
			out = append(out, id)
		}
	}
	return out
}

func (s *HostSession) sendOn(conn transport.Conn, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		s.logger.Error("encode message", zap.String("type", string(m.Type())), zap.Error(err))
		return
	}
	s.write(conn, m.Type(), data)
}

func (s *HostSession) write(conn transport.Conn, t protocol.MessageType, data []byte) {
	if !conn.IsOpen() {
		s.logger.Debug("send skipped, channel closed", zap.String("peer", conn.Peer()), zap.String("type", string(t)))
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Debug("send failed", zap.String("peer", conn.Peer()), zap.String("type", string(t)), zap.Error(err))
	}
}

// Close drops every channel and releases the room identity.
func (s *HostSession) Close() error {
	s.cancel()

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]transport.Conn)
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	s.events.Close()
	if peer != nil {
		return peer.Close()
	}
	return nil
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
