package service

import (
	"context"
	"errors"
	"lototet/internal/model"
	"lototet/internal/protocol"
	"lototet/internal/speech"
	"lototet/internal/ticket"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDrawInProgress = errors.New("a draw is already in progress")
	ErrPoolExhausted  = errors.New("all numbers have been drawn")
	ErrHostStopped    = errors.New("host stopped")
)

// hostMsg is everything the game loop consumes.
type hostMsg interface{ isHostMsg() }

type joinMsg struct {
	peerID string
	meta   protocol.JoinMetadata
}

type leaveMsg struct{ peerID string }

type inboundMsg struct {
	from string
	msg  protocol.Message
}

type drawReq struct {
	ctx   context.Context
	reply chan drawResult
}

type drawResult struct {
	number int
	err    error
}

type drawDone struct{}

type resetReq struct{ reply chan struct{} }

type autoStartReq struct {
	interval time.Duration
	reply    chan error
}

type autoStopReq struct{ reply chan struct{} }

type emoteReq struct{ emoji string }

type snapshotReq struct{ reply chan Snapshot }

func (joinMsg) isHostMsg()      {}
func (leaveMsg) isHostMsg()     {}
func (inboundMsg) isHostMsg()   {}
func (drawReq) isHostMsg()      {}
func (drawDone) isHostMsg()     {}
func (resetReq) isHostMsg()     {}
func (autoStartReq) isHostMsg() {}
func (autoStopReq) isHostMsg()  {}
func (emoteReq) isHostMsg()     {}
func (snapshotReq) isHostMsg()  {}

// PlayerView is a read-only copy of a registry entry.
type PlayerView struct {
	ID        string
	Name      string
	Sheet     model.Sheet
	Connected bool
	JoinedAt  time.Time
}

// Snapshot is a read-only view of the host's game.
type Snapshot struct {
	Players   []PlayerView
	Connected int
	State     model.GameState
	Remaining int
	Winner    string
	Drawing   bool
	AutoDraw  bool
}

// HostOption configures a HostService.
type HostOption func(*HostService)

// WithDeck fixes the draw order. The deck is consulted on start and on every
// reset; numbers already called are skipped.
func WithDeck(deck func() []int) HostOption {
	return func(s *HostService) { s.deck = deck }
}

// WithAnnouncer sets who voices draws and winners.
func WithAnnouncer(a Announcer) HostOption {
	return func(s *HostService) { s.announcer = a }
}

// WithNotifier sets where host-side notices go.
func WithNotifier(n Notifier) HostOption {
	return func(s *HostService) { s.notifier = n }
}

// WithGenerator sets the sheet generator used for fallback sheets.
func WithGenerator(g *ticket.Generator) HostOption {
	return func(s *HostService) { s.gen = g }
}

// HostService is the authoritative game. One goroutine owns the registry and
// the draw state; every input arrives on its inbox.
type HostService struct {
	inbox       chan hostMsg
	broadcaster Broadcaster
	announcer   Announcer
	notifier    Notifier
	gen         *ticket.Generator
	deck        func() []int
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}

	// owned by loop
	players    map[string]*model.PlayerRecord
	order      []string
	state      model.GameState
	pool       []int
	drawing    bool
	winner     string
	autoCancel context.CancelFunc
}

// NewHostService starts the game loop. It stops when parent is cancelled or
// Close is called.
func NewHostService(parent context.Context, b Broadcaster, logger *zap.Logger, opts ...HostOption) *HostService {
	ctx, cancel := context.WithCancel(parent)
	s := &HostService{
		inbox:       make(chan hostMsg, 64),
		broadcaster: b,
		announcer:   silentAnnouncer{},
		notifier:    silentNotifier{},
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		players:     make(map[string]*model.PlayerRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gen == nil {
		s.gen = ticket.NewGenerator(nil)
	}
	if s.deck == nil {
		rng := ticket.NewRand()
		s.deck = func() []int {
			deck := make([]int, model.MaxNumber)
			for i := range deck {
				deck[i] = i + 1
			}
			rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
			return deck
		}
	}
	s.refill()

	go s.loop()
	return s
}

// refill rebuilds the pool from the deck minus what has been called.
func (s *HostService) refill() {
	s.pool = s.pool[:0]
	for _, n := range s.deck() {
		if n >= model.MinNumber && n <= model.MaxNumber && !s.state.IsCalled(n) {
			s.pool = append(s.pool, n)
		}
	}
}

func (s *HostService) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.stopAuto()
			return
		case m := <-s.inbox:
			s.apply(m)
		}
	}
}

func (s *HostService) apply(m hostMsg) {
	switch msg := m.(type) {
	case joinMsg:
		s.join(msg.peerID, msg.meta)
	case leaveMsg:
		if p, ok := s.players[msg.peerID]; ok {
			p.Connected = false
			s.logger.Info("player left", zap.String("peer", msg.peerID))
		}
	case inboundMsg:
		_ = protocol.Dispatch(msg.from, msg.msg, hostInbound{s: s})
	case drawReq:
		n, err := s.draw(msg.ctx)
		msg.reply <- drawResult{number: n, err: err}
	case drawDone:
		s.drawing = false
	case resetReq:
		s.reset()
		close(msg.reply)
	case autoStartReq:
		msg.reply <- s.startAuto(msg.interval)
	case autoStopReq:
		s.stopAuto()
		close(msg.reply)
	case emoteReq:
		s.broadcaster.Broadcast(protocol.Emote{Emoji: msg.emoji, SenderID: protocol.HostSenderID})
	case snapshotReq:
		msg.reply <- s.snapshot()
	}
}

func (s *HostService) join(peerID string, meta protocol.JoinMetadata) {
	submitted := meta.Ticket
	valid := submitted.Validate() == nil
	if !valid && len(submitted) > 0 {
		s.logger.Warn("invalid sheet submitted, generating one", zap.String("peer", peerID))
	}

	p, exists := s.players[peerID]
	if !exists {
		p = &model.PlayerRecord{ID: peerID, JoinedAt: time.Now()}
		s.players[peerID] = p
		s.order = append(s.order, peerID)
	}
	if meta.Name != "" {
		p.Name = meta.Name
	}

	switch {
	case exists && s.state.GameStarted:
		// sheet is frozen for the round
	case valid:
		p.Sheet = submitted.Clone()
	case p.Sheet.Validate() != nil:
		p.Sheet = s.gen.NewSheet()
	}
	p.Connected = true

	s.logger.Info("player joined",
		zap.String("peer", peerID),
		zap.String("name", p.Name),
		zap.Bool("rejoin", exists),
		zap.Bool("reconnect", meta.IsReconnect))
	if !exists {
		s.notifier.Notify(protocol.ToastSuccess, p.DisplayName()+" đã tham gia!")
	}

	s.broadcaster.SendTo(peerID, protocol.Welcome{
		Name:      p.Name,
		Ticket:    p.Sheet.Clone(),
		GameState: s.state.Clone(),
	})
}

func (s *HostService) draw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.drawing {
		return 0, ErrDrawInProgress
	}
	if len(s.pool) == 0 {
		return 0, ErrPoolExhausted
	}

	n := s.pool[0]
	s.pool = s.pool[1:]
	s.state.CalledNumbers = append(s.state.CalledNumbers, n)
	s.state.GameStarted = true
	s.drawing = true

	s.logger.Info("number drawn", zap.Int("number", n), zap.Int("remaining", len(s.pool)))
	s.broadcaster.Broadcast(protocol.NumberDrawn{Number: n, Text: speech.NumberToWords(n)})
	return n, nil
}

func (s *HostService) verify(peerID string) bool {
	p, ok := s.players[peerID]
	if !ok || p.Sheet == nil {
		return false
	}
	called := make(map[int]bool, len(s.state.CalledNumbers))
	for _, n := range s.state.CalledNumbers {
		called[n] = true
	}
	return p.Sheet.HasCompleteRow(func(n int) bool { return called[n] })
}

func (s *HostService) claim(peerID string) {
	if !s.verify(peerID) {
		s.logger.Warn("invalid win claim", zap.String("peer", peerID))
		s.broadcaster.SendTo(peerID, protocol.WinRejected{})
		return
	}
	if s.winner != "" {
		// a later valid claim is confirmed to its sender; the recorded winner stands
		s.logger.Info("late win claim", zap.String("peer", peerID), zap.String("winner", s.winner))
		s.broadcaster.SendTo(peerID, protocol.WinConfirmed{WinnerName: winnerName(s.players[s.winner])})
		return
	}

	name := winnerName(s.players[peerID])
	s.winner = peerID
	s.stopAuto()
	s.logger.Info("win confirmed", zap.String("peer", peerID), zap.String("name", name))
	s.broadcaster.Broadcast(protocol.WinConfirmed{WinnerName: name})
	s.notifier.Notify(protocol.ToastSuccess, speech.WinnerAnnouncement(name))
	go func() {
		if err := s.announcer.AnnounceWinner(s.ctx, name); err != nil {
			s.logger.Debug("announce winner", zap.Error(err))
		}
	}()
}

func winnerName(p *model.PlayerRecord) string {
	if p == nil || p.Name == "" {
		return "Người chơi"
	}
	return p.Name
}

func (s *HostService) updateTicket(peerID string, sheet model.Sheet) {
	p, ok := s.players[peerID]
	if !ok {
		return
	}
	if s.state.GameStarted {
		s.logger.Debug("ticket update after start ignored", zap.String("peer", peerID))
		return
	}
	if err := sheet.Validate(); err != nil {
		s.logger.Warn("ticket update rejected", zap.String("peer", peerID), zap.Error(err))
		return
	}
	p.Sheet = sheet.Clone()
}

func (s *HostService) wait(peerID string) {
	name := peerID
	if p, ok := s.players[peerID]; ok && p.Name != "" {
		name = p.Name
	} else if len(name) > 4 {
		name = name[len(name)-4:]
	}
	msg := speech.WaitAnnouncement(name)
	s.notifier.Notify(protocol.ToastInfo, msg)
	s.broadcaster.Broadcast(protocol.Toast{Message: msg, Style: protocol.ToastInfo})
}

func (s *HostService) reset() {
	s.stopAuto()
	s.state = model.GameState{}
	s.winner = ""
	s.refill()
	s.logger.Info("game reset")
	s.broadcaster.Broadcast(protocol.GameReset{})
}

func (s *HostService) startAuto(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("auto-draw interval must be positive")
	}
	if len(s.pool) == 0 {
		return ErrPoolExhausted
	}
	s.stopAuto()
	ctx, cancel := context.WithCancel(s.ctx)
	s.autoCancel = cancel
	go s.runAuto(ctx, interval)
	s.logger.Info("auto-draw started", zap.Duration("interval", interval))
	return nil
}

func (s *HostService) stopAuto() {
	if s.autoCancel != nil {
		s.autoCancel()
		s.autoCancel = nil
		s.logger.Info("auto-draw stopped")
	}
}

func (s *HostService) runAuto(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, err := s.Draw(ctx)
		if errors.Is(err, ErrPoolExhausted) {
			s.notifier.Notify(protocol.ToastInfo, "Đã hết số!")
			s.send(autoStopReq{reply: make(chan struct{})})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HostService) snapshot() Snapshot {
	snap := Snapshot{
		Players:   make([]PlayerView, 0, len(s.order)),
		State:     s.state.Clone(),
		Remaining: len(s.pool),
		Drawing:   s.drawing,
		AutoDraw:  s.autoCancel != nil,
	}
	if w, ok := s.players[s.winner]; ok {
		snap.Winner = winnerName(w)
	}
	for _, id := range s.order {
		p := s.players[id]
		if p.Connected {
			snap.Connected++
		}
		snap.Players = append(snap.Players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Sheet:     p.Sheet.Clone(),
			Connected: p.Connected,
			JoinedAt:  p.JoinedAt,
		})
	}
	return snap
}

// hostInbound routes player messages inside the loop.
type hostInbound struct {
	protocol.NopHandler
	s *HostService
}

func (h hostInbound) OnWinClaim(from string, _ protocol.WinClaim) { h.s.claim(from) }

func (h hostInbound) OnTicketUpdate(from string, m protocol.TicketUpdate) {
	h.s.updateTicket(from, m.Ticket)
}

func (h hostInbound) OnWaitSignal(from string, _ protocol.WaitSignal) { h.s.wait(from) }

func (h hostInbound) OnEmote(from string, m protocol.Emote) {
	if m.Emoji == "" {
		return
	}
	h.s.broadcaster.Broadcast(protocol.Emote{Emoji: m.Emoji, SenderID: from}, from)
}

func (s *HostService) send(m hostMsg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// PlayerJoined registers or refreshes a player and sends them the welcome.
func (s *HostService) PlayerJoined(peerID string, meta protocol.JoinMetadata) {
	s.send(joinMsg{peerID: peerID, meta: meta})
}

// PlayerLeft marks a player inactive. The record is kept for a rejoin.
func (s *HostService) PlayerLeft(peerID string) {
	s.send(leaveMsg{peerID: peerID})
}

// Handle accepts a player message. from is the channel's peer id.
func (s *HostService) Handle(from string, m protocol.Message) {
	s.send(inboundMsg{from: from, msg: m})
}

// Draw calls the next number and waits for it to be announced. Draws are
// single-flight: a second call before the announcement ends fails with
// ErrDrawInProgress.
func (s *HostService) Draw(ctx context.Context) (int, error) {
	reply := make(chan drawResult, 1)
	if !s.send(drawReq{ctx: ctx, reply: reply}) {
		return 0, ErrHostStopped
	}
	var res drawResult
	select {
	case res = <-reply:
	case <-s.ctx.Done():
		return 0, ErrHostStopped
	}
	if res.err != nil {
		return 0, res.err
	}

	if err := s.announcer.AnnounceNumber(ctx, res.number); err != nil {
		s.logger.Debug("announce number", zap.Int("number", res.number), zap.Error(err))
	}
	s.send(drawDone{})
	return res.number, nil
}

// Reset starts a new round. Players and their connections are kept.
func (s *HostService) Reset() {
	reply := make(chan struct{})
	if s.send(resetReq{reply: reply}) {
		select {
		case <-reply:
		case <-s.ctx.Done():
		}
	}
}

// StartAutoDraw draws now and then every interval.
func (s *HostService) StartAutoDraw(interval time.Duration) error {
	reply := make(chan error, 1)
	if !s.send(autoStartReq{interval: interval, reply: reply}) {
		return ErrHostStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return ErrHostStopped
	}
}

// StopAutoDraw stops the auto-draw loop if running.
func (s *HostService) StopAutoDraw() {
	reply := make(chan struct{})
	if s.send(autoStopReq{reply: reply}) {
		select {
		case <-reply:
		case <-s.ctx.Done():
		}
	}
}

// SendEmote sends the host's emote to every player.
func (s *HostService) SendEmote(emoji string) {
	if emoji != "" {
		s.send(emoteReq{emoji: emoji})
	}
}

// Snapshot returns a copy of the registry and game state.
func (s *HostService) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !s.send(snapshotReq{reply: reply}) {
		return Snapshot{}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.ctx.Done():
		return Snapshot{}
	}
}

// Close stops the game loop.
func (s *HostService) Close() {
	s.cancel()
	<-s.done
}
