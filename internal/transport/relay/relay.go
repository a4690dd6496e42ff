// Package relay implements transport.Network over a websocket relay server.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"lototet/internal/transport"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	openTimeout = 10 * time.Second
)

// Redial bounds used when the relay socket drops
const (
	RedialBase     = time.Second
	RedialMax      = 8 * time.Second
	RedialAttempts = 5
)

// Network dials a relay server for every opened peer.
type Network struct {
	url      string
	dialer   *websocket.Dialer
	logger   *zap.Logger
	base     time.Duration
	max      time.Duration
	attempts int
}

// Option configures a Network.
type Option func(*Network)

// WithRedial overrides the redial backoff.
func WithRedial(base, max time.Duration, attempts int) Option {
	return func(n *Network) {
		n.base, n.max, n.attempts = base, max, attempts
	}
}

// NewNetwork creates a network for the relay at url, e.g. ws://host/v1/peers.
func NewNetwork(relayURL string, logger *zap.Logger, opts ...Option) *Network {
	n := &Network{
		url:      relayURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: openTimeout},
		logger:   logger,
		base:     RedialBase,
		max:      RedialMax,
		attempts: RedialAttempts,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Open claims id on the relay.
func (n *Network) Open(ctx context.Context, id, token string) (transport.Peer, error) {
	ws, open, err := n.dial(ctx, id, token)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		net:      n,
		id:       open.ID,
		token:    open.Token,
		chans:    make(map[string]*transport.Channel),
		pending:  make(map[string]chan error),
		incoming: make(chan transport.Conn, 16),
		closed:   make(chan struct{}),
		ctx:      pctx,
		cancel:   cancel,
	}
	p.attach(ws)
	n.logger.Info("relay peer opened", zap.String("peer", p.id))
	return p, nil
}

func (n *Network) dial(ctx context.Context, id, token string) (*websocket.Conn, transport.Frame, error) {
	u, err := url.Parse(n.url)
	if err != nil {
		return nil, transport.Frame{}, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	if id != "" {
		q.Set("id", id)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	ws, _, err := n.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, transport.Frame{}, fmt.Errorf("dial relay: %w", err)
	}

	deadline := time.Now().Add(openTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetReadDeadline(deadline)

	var f transport.Frame
	if err := ws.ReadJSON(&f); err != nil {
		ws.Close()
		if ctx.Err() != nil {
			return nil, f, ctx.Err()
		}
		return nil, f, fmt.Errorf("read open frame: %w", err)
	}
	switch f.Type {
	case transport.FrameOpen:
		ws.SetReadDeadline(time.Time{})
		return ws, f, nil
	case transport.FrameError:
		ws.Close()
		return nil, f, transport.ErrorFromCode(f.Error)
	default:
		ws.Close()
		return nil, f, fmt.Errorf("unexpected %s frame before open", f.Type)
	}
}

// link is one websocket to the relay with its writer goroutine.
type link struct {
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	killOnce sync.Once
}

func (l *link) kill() {
	l.killOnce.Do(func() {
		close(l.done)
		l.ws.Close()
	})
}

func (l *link) writeLoop() {
	for {
		select {
		case data := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.kill()
				return
			}
		case <-l.done:
			return
		}
	}
}

type peer struct {
	net *Network

	mu       sync.Mutex
	id       string
	token    string
	link     *link
	chans    map[string]*transport.Channel
	pending  map[string]chan error
	incoming chan transport.Conn

	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func (p *peer) ID() string { return p.id }

func (p *peer) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *peer) Incoming() <-chan transport.Conn { return p.incoming }
func (p *peer) Closed() <-chan struct{}         { return p.closed }

func (p *peer) attach(ws *websocket.Conn) {
	l := &link{ws: ws, send: make(chan []byte, 256), done: make(chan struct{})}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	p.mu.Lock()
	p.link = l
	p.mu.Unlock()

	go l.writeLoop()
	go p.readLoop(l)
}

func (p *peer) readLoop(l *link) {
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			l.kill()
			p.lost(l, err)
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.net.logger.Debug("bad relay frame", zap.Error(err))
			continue
		}
		p.handle(f)
	}
}

func (p *peer) handle(f transport.Frame) {
	switch f.Type {
	case transport.FrameConnect:
		ch := p.newChannel(f.Conn, f.Src, f.Metadata)
		if err := p.write(transport.Frame{Type: transport.FrameAccept, Conn: f.Conn}); err != nil {
			p.forget(f.Conn)
			ch.Shutdown()
			return
		}
		ch.MarkOpen()
		select {
		case p.incoming <- ch:
		case <-p.closed:
		}

	case transport.FrameAccept:
		p.resolve(f.Conn, nil)

	case transport.FrameError:
		if f.Conn != "" && p.resolve(f.Conn, transport.ErrorFromCode(f.Error)) {
			return
		}
		p.net.logger.Debug("relay error", zap.String("peer", p.id), zap.String("code", f.Error))

	case transport.FrameData:
		p.mu.Lock()
		ch := p.chans[f.Conn]
		p.mu.Unlock()
		if ch != nil {
			ch.Deliver(f.Payload)
		}

	case transport.FrameClose:
		if ch := p.forget(f.Conn); ch != nil {
			ch.Shutdown()
		}
	}
}

// resolve completes a pending Connect. It reports whether one was waiting.
func (p *peer) resolve(connID string, err error) bool {
	p.mu.Lock()
	result, ok := p.pending[connID]
	delete(p.pending, connID)
	p.mu.Unlock()
	if ok {
		result <- err
	}
	return ok
}

func (p *peer) newChannel(connID, remote string, metadata json.RawMessage) *transport.Channel {
	ch := transport.NewChannel(connID, remote, metadata,
		func(data []byte) error {
			return p.write(transport.Frame{Type: transport.FrameData, Conn: connID, Payload: data})
		},
		func() {
			p.forget(connID)
			_ = p.write(transport.Frame{Type: transport.FrameClose, Conn: connID})
		})
	p.mu.Lock()
	p.chans[connID] = ch
	p.mu.Unlock()
	return ch
}

func (p *peer) forget(connID string) *transport.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.chans[connID]
	delete(p.chans, connID)
	return ch
}

func (p *peer) write(f transport.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l == nil {
		return transport.ErrConnClosed
	}
	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return transport.ErrConnClosed
	}
}

// Connect opens a channel to dst through the relay.
func (p *peer) Connect(ctx context.Context, dst string, metadata json.RawMessage) (transport.Conn, error) {
	connID := uuid.NewString()
	result := make(chan error, 1)
	ch := p.newChannel(connID, dst, metadata)
	p.mu.Lock()
	p.pending[connID] = result
	p.mu.Unlock()

	fail := func(err error) (transport.Conn, error) {
		p.mu.Lock()
		delete(p.pending, connID)
		p.mu.Unlock()
		p.forget(connID)
		ch.Shutdown()
		return nil, err
	}

	if err := p.write(transport.Frame{Type: transport.FrameConnect, Dst: dst, Conn: connID, Metadata: metadata}); err != nil {
		return fail(err)
	}

	select {
	case err := <-result:
		if err != nil {
			return fail(err)
		}
		ch.MarkOpen()
		return ch, nil
	case <-ctx.Done():
		_ = p.write(transport.Frame{Type: transport.FrameClose, Conn: connID})
		return fail(ctx.Err())
	case <-p.closed:
		return fail(transport.ErrPeerClosed)
	}
}

// lost tears down channels carried by a dead socket and redials.
func (p *peer) lost(l *link, cause error) {
	p.mu.Lock()
	if p.link != l {
		p.mu.Unlock()
		return
	}
	p.link = nil
	chans := p.chans
	pending := p.pending
	p.chans = make(map[string]*transport.Channel)
	p.pending = make(map[string]chan error)
	p.mu.Unlock()

	for _, ch := range chans {
		ch.Shutdown()
	}
	for _, result := range pending {
		result <- transport.ErrConnClosed
	}

	if p.ctx.Err() != nil {
		return
	}
	p.net.logger.Warn("relay socket lost", zap.String("peer", p.id), zap.Error(cause))
	go p.redial()
}

func (p *peer) redial() {
	n := p.net
	for attempt := 1; attempt <= n.attempts; attempt++ {
		delay := n.base << (attempt - 1)
		if delay > n.max || delay <= 0 {
			delay = n.max
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			return
		}

		ws, open, err := n.dial(p.ctx, p.id, p.Token())
		if err == nil {
			p.mu.Lock()
			p.token = open.Token
			p.mu.Unlock()
			p.attach(ws)
			n.logger.Info("relay socket restored", zap.String("peer", p.id), zap.Int("attempt", attempt))
			return
		}
		n.logger.Warn("relay redial failed", zap.String("peer", p.id), zap.Int("attempt", attempt), zap.Error(err))
	}
	n.logger.Error("relay unreachable, closing peer", zap.String("peer", p.id))
	p.Close()
}

// Close releases the identity and every channel.
func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.closed)

		p.mu.Lock()
		l := p.link
		p.link = nil
		chans := p.chans
		p.chans = make(map[string]*transport.Channel)
		p.mu.Unlock()

		for _, ch := range chans {
			ch.Shutdown()
		}
		if l != nil {
			l.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			l.kill()
		}
	})
	return nil
}
