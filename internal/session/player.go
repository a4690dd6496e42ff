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
	"time"

	"go.uber.org/zap"
)

// PlayerConfig tunes the player's connection behaviour.
type PlayerConfig struct {
	ConnectTimeout time.Duration
	HealthTimeout  time.Duration
	Backoff        Backoff
}

// DefaultPlayerConfig returns the production timings.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		ConnectTimeout: ConnectTimeout,
		HealthTimeout:  HealthTimeout,
		Backoff:        DefaultBackoff,
	}
}

// PlayerSession holds a player's single channel to the host and restores it
// when it drops.
type PlayerSession struct {
	network transport.Network
	cfg     PlayerConfig
	handler protocol.Handler
	logger  *zap.Logger
	events  *event.Bus[Event]

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	peer         transport.Peer
	peerID       string
	token        string
	conn         transport.Conn
	roomCode     string
	meta         protocol.JoinMetadata
	reconnecting bool
	stopRetry    context.CancelFunc
	pong         chan struct{}
	closed       bool
}

// NewPlayerSession creates a player session.
func NewPlayerSession(network transport.Network, cfg PlayerConfig, logger *zap.Logger) *PlayerSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlayerSession{
		network: network,
		cfg:     cfg,
		logger:  logger,
		events:  event.NewBus[Event](),
		ctx:     ctx,
		cancel:  cancel,
		pong:    make(chan struct{}, 1),
	}
}

// SetHandler injects the receiver of host messages.
func (s *PlayerSession) SetHandler(h protocol.Handler) {
	s.handler = h
}

// SetIdentity makes the next peer open reclaim a previously held id.
func (s *PlayerSession) SetIdentity(peerID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerID = peerID
	s.token = token
}

// Identity returns the current peer id and its reclaim token.
func (s *PlayerSession) Identity() (peerID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID, s.token
}

// SetSheet updates the sheet offered on the next (re)connect.
func (s *PlayerSession) SetSheet(sheet model.Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Ticket = sheet.Clone()
}

// Events subscribes to session events.
func (s *PlayerSession) Events(buffer int) (<-chan Event, func()) {
	return s.events.Subscribe(buffer)
}

// IsConnected reports whether the channel to the host is open.
func (s *PlayerSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsOpen()
}

// Connect opens a channel to the room's host and returns once it is open.
func (s *PlayerSession) Connect(ctx context.Context, roomCode, name string, sheet model.Sheet, isReconnect bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.roomCode = roomCode
	s.meta = protocol.JoinMetadata{Name: name, Ticket: sheet.Clone(), IsReconnect: isReconnect}
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		return err
	}
	s.stopReconnect()
	s.events.Publish(Connected{RoomCode: roomCode})
	return nil
}

func (s *PlayerSession) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.mu.Lock()
	code, meta := s.roomCode, s.meta
	s.mu.Unlock()

	peer, err := s.ensurePeer(ctx)
	if err != nil {
		return mapDialError(code, err)
	}

	raw, err := protocol.EncodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	conn, err := peer.Connect(ctx, model.HostPeerID(code), raw)
	if err != nil {
		return mapDialError(code, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.logger.Info("connected to host", zap.String("room", code), zap.String("conn", conn.ID()))
	go s.readLoop(conn)
	return nil
}

func mapDialError(code string, err error) error {
	switch {
	case errors.Is(err, transport.ErrPeerUnavailable):
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrConnectionTimeout
	default:
		return fmt.Errorf("connect to room %s: %w", code, err)
	}
}

// ensurePeer reuses the live local peer, or opens one with the stored id.
func (s *PlayerSession) ensurePeer(ctx context.Context) (transport.Peer, error) {
	s.mu.Lock()
	peer, id, token := s.peer, s.peerID, s.token
	s.mu.Unlock()

	if peer != nil {
		select {
		case <-peer.Closed():
		default:
			return peer, nil
		}
	}

	peer, err := s.network.Open(ctx, id, token)
	if errors.Is(err, transport.ErrIDTaken) && id != "" {
		s.logger.Warn("previous peer id unavailable, taking a new one", zap.String("peer", id))
		peer, err = s.network.Open(ctx, "", "")
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.peer = peer
	s.peerID = peer.ID()
	s.token = peer.Token()
	s.mu.Unlock()
	return peer, nil
}

func (s *PlayerSession) readLoop(conn transport.Conn) {
	for {
		select {
		case data := <-conn.Receive():
			s.handle(conn, data)
		case <-conn.Done():
			drain(conn, func(data []byte) { s.handle(conn, data) })
			s.lost(conn)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *PlayerSession) handle(conn transport.Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		s.logger.Debug("ignoring message", zap.Error(err))
		return
	}
	if err != nil {
		s.logger.Warn("dropping message", zap.Error(err))
		return
	}

	switch msg.(type) {
	case protocol.Ping:
		if data, err := protocol.Encode(protocol.Pong{}); err == nil {
			_ = conn.Send(data)
		}
		return
	case protocol.Pong:
		select {
		case s.pong <- struct{}{}:
		default:
		}
		return
	}
	if s.handler != nil {
		_ = protocol.Dispatch(conn.Peer(), msg, s.handler)
	}
}

// lost starts recovery when the current channel closes unexpectedly.
func (s *PlayerSession) lost(conn transport.Conn) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	s.logger.Warn("connection to host lost", zap.String("conn", conn.ID()))
	go s.reconnect()
}

func (s *PlayerSession) reconnect() {
	s.mu.Lock()
	if s.reconnecting || s.closed || s.roomCode == "" || (s.conn != nil && s.conn.IsOpen()) {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopRetry = cancel
	s.meta.IsReconnect = true
	code := s.roomCode
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.reconnecting = false
		s.stopRetry = nil
		s.mu.Unlock()
	}()

	b := s.cfg.Backoff
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		delay := b.Delay(attempt)
		s.events.Publish(Reconnecting{Attempt: attempt, Max: b.Attempts, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		err := s.dial(ctx)
		if err == nil {
			s.logger.Info("reconnected", zap.String("room", code), zap.Int("attempt", attempt))
			s.events.Publish(Reconnected{RoomCode: code})
			return
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return
		}
		s.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	s.logger.Error("giving up on host", zap.String("room", code))
	s.events.Publish(Disconnected{Err: ErrNotConnected})
}

func (s *PlayerSession) stopReconnect() {
	s.mu.Lock()
	stop := s.stopRetry
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// CheckHealth probes the host after the app resumes. A closed or silent
// channel is torn down and recovery starts.
func (s *PlayerSession) CheckHealth(ctx context.Context) error {
	s.mu.Lock()
	conn, code := s.conn, s.roomCode
	s.mu.Unlock()

	if code == "" {
		return ErrNotConnected
	}
	if conn == nil || !conn.IsOpen() {
		go s.reconnect()
		return ErrNotConnected
	}

	select {
	case <-s.pong:
	default:
	}
	if err := s.Send(protocol.Ping{}); err != nil {
		s.dropConn(conn)
		return err
	}

	timer := time.NewTimer(s.cfg.HealthTimeout)
	defer timer.Stop()
	select {
	case <-s.pong:
		return nil
	case <-timer.C:
		s.logger.Warn("host did not answer ping", zap.String("room", code))
		s.dropConn(conn)
		return ErrConnectionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PlayerSession) dropConn(conn transport.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	_ = conn.Close()
	go s.reconnect()
}

// Send delivers m to the host.
func (s *PlayerSession) Send(m protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !conn.IsOpen() {
		return ErrNotConnected
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close ends the session without attempting recovery.
func (s *PlayerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, peer := s.conn, s.peer
	s.conn, s.peer = nil, nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.events.Close()
	if peer != nil {
		return peer.Close()
	}
	return nil
}
