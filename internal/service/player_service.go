package service

import (
	"context"
	"errors"
	"fmt"
	"lototet/internal/cache"
	"lototet/internal/event"
	"lototet/internal/model"
	"lototet/internal/protocol"
	"lototet/internal/session"
	"lototet/internal/ticket"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClaimTooSoon   = errors.New("claim sent too recently")
	ErrNotEligible    = errors.New("no complete row")
	ErrGameInProgress = errors.New("game already started")
	ErrNoSession      = errors.New("no session to resume")
	ErrNotOnSheet     = errors.New("number is not on the sheet")
)

// Player-side timings
const (
	ClaimCooldown = 10 * time.Second
	ClaimTimeout  = 15 * time.Second
	WaitThrottle  = 5 * time.Second
)

// HostLink is the player's channel to the host.
type HostLink interface {
	SetHandler(h protocol.Handler)
	SetIdentity(peerID, token string)
	Identity() (peerID, token string)
	SetSheet(sheet model.Sheet)
	Connect(ctx context.Context, roomCode, name string, sheet model.Sheet, isReconnect bool) error
	Send(m protocol.Message) error
	Events(buffer int) (<-chan session.Event, func())
	Close() error
}

// PlayerEvent is published to the player UI.
type PlayerEvent interface{ isPlayerEvent() }

type Welcomed struct {
	Name  string
	Sheet model.Sheet
	State model.GameState
}

type NumberCalled struct {
	Number int
	Text   string
}

// WaitAnnounced fires when a row first reaches one number from complete.
type WaitAnnounced struct {
	Ticket, Row int
	Sent        bool
}

type WinAnnounced struct{ WinnerName string }

type ClaimRejected struct{}

type ClaimTimedOut struct{}

type GameWasReset struct{}

type ToastReceived struct {
	Message string
	Style   protocol.ToastStyle
}

type EmoteReceived struct {
	Emoji    string
	SenderID string
}

// ConnectionChanged forwards transport session events.
type ConnectionChanged struct{ Event session.Event }

func (Welcomed) isPlayerEvent()          {}
func (NumberCalled) isPlayerEvent()      {}
func (WaitAnnounced) isPlayerEvent()     {}
func (WinAnnounced) isPlayerEvent()      {}
func (ClaimRejected) isPlayerEvent()     {}
func (ClaimTimedOut) isPlayerEvent()     {}
func (GameWasReset) isPlayerEvent()      {}
func (ToastReceived) isPlayerEvent()     {}
func (EmoteReceived) isPlayerEvent()     {}
func (ConnectionChanged) isPlayerEvent() {}

// PlayerOption configures a PlayerService.
type PlayerOption func(*PlayerService)

// WithAutoMark marks called numbers found on the sheet.
func WithAutoMark(on bool) PlayerOption {
	return func(s *PlayerService) { s.autoMark = on }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PlayerOption {
	return func(s *PlayerService) { s.now = now }
}

// WithClaimTimeout overrides how long a claim waits for the host.
func WithClaimTimeout(d time.Duration) PlayerOption {
	return func(s *PlayerService) { s.claimTimeout = d }
}

// WithPlayerGenerator sets the sheet generator.
func WithPlayerGenerator(g *ticket.Generator) PlayerOption {
	return func(s *PlayerService) { s.gen = g }
}

type rowKey struct{ ticket, row int }

// PlayerService reconciles the player's view with what the host sends.
type PlayerService struct {
	link         HostLink
	store        cache.SessionCache
	gen          *ticket.Generator
	logger       *zap.Logger
	events       *event.Bus[PlayerEvent]
	now          func() time.Time
	autoMark     bool
	claimTimeout time.Duration

	mu         sync.Mutex
	roomCode   string
	name       string
	sheet      model.Sheet
	called     map[int]bool
	order      []int
	started    bool
	marks      map[int]bool
	announced  map[rowKey]bool
	lastWait   time.Time
	lastClaim  time.Time
	claimTimer *time.Timer
	stopFwd    func()
}

// NewPlayerService wires the service as the link's message handler.
func NewPlayerService(link HostLink, store cache.SessionCache, logger *zap.Logger, opts ...PlayerOption) *PlayerService {
	s := &PlayerService{
		link:         link,
		store:        store,
		logger:       logger,
		events:       event.NewBus[PlayerEvent](),
		now:          time.Now,
		claimTimeout: ClaimTimeout,
		called:       make(map[int]bool),
		marks:        make(map[int]bool),
		announced:    make(map[rowKey]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gen == nil {
		s.gen = ticket.NewGenerator(nil)
	}
	link.SetHandler(playerInbound{s: s})

	ch, unsub := link.Events(16)
	s.stopFwd = unsub
	go func() {
		for ev := range ch {
			s.events.Publish(ConnectionChanged{Event: ev})
		}
	}()
	return s
}

// Events subscribes to player events.
func (s *PlayerService) Events(buffer int) (<-chan PlayerEvent, func()) {
	return s.events.Subscribe(buffer)
}

// Join validates the code, deals a sheet and connects to the room.
func (s *PlayerService) Join(ctx context.Context, rawCode, name string) error {
	code, err := ValidateRoomCode(rawCode)
	if err != nil {
		return err
	}
	sheet := s.gen.NewSheet()

	s.mu.Lock()
	s.resetRoundLocked()
	s.roomCode, s.name, s.sheet = code, name, sheet
	s.started = false
	s.mu.Unlock()

	if err := s.link.Connect(ctx, code, name, sheet, false); err != nil {
		return err
	}
	s.save(ctx)
	return nil
}

// Resume rejoins the room stored in the session cache.
func (s *PlayerService) Resume(ctx context.Context) error {
	stored, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return ErrNoSession
	}

	s.mu.Lock()
	s.resetRoundLocked()
	s.roomCode, s.name, s.sheet = stored.RoomCode, stored.PlayerName, stored.Sheet.Clone()
	s.mu.Unlock()

	s.link.SetIdentity(stored.PeerID, stored.LeaseToken)
	if err := s.link.Connect(ctx, stored.RoomCode, stored.PlayerName, stored.Sheet, true); err != nil {
		s.logger.Warn("resume failed, clearing session", zap.String("room", stored.RoomCode), zap.Error(err))
		_ = s.store.Clear(ctx)
		return err
	}
	return nil
}

// resetRoundLocked drops per-round client state.
func (s *PlayerService) resetRoundLocked() {
	s.called = make(map[int]bool)
	s.order = nil
	s.marks = make(map[int]bool)
	s.announced = make(map[rowKey]bool)
	s.lastClaim = time.Time{}
	s.stopClaimTimerLocked()
}

func (s *PlayerService) stopClaimTimerLocked() {
	if s.claimTimer != nil {
		s.claimTimer.Stop()
		s.claimTimer = nil
	}
}

func (s *PlayerService) save(ctx context.Context) {
	if s.store == nil {
		return
	}
	peerID, token := s.link.Identity()
	s.mu.Lock()
	sess := &model.Session{
		RoomCode:   s.roomCode,
		PlayerName: s.name,
		Sheet:      s.sheet.Clone(),
		PeerID:     peerID,
		LeaseToken: token,
		Timestamp:  s.now(),
	}
	s.mu.Unlock()
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Warn("save session", zap.Error(err))
	}
}

func (s *PlayerService) onWelcome(m protocol.Welcome) {
	s.mu.Lock()
	s.sheet = m.Ticket.Clone()
	s.called = make(map[int]bool, len(m.GameState.CalledNumbers))
	s.order = append([]int(nil), m.GameState.CalledNumbers...)
	for _, n := range m.GameState.CalledNumbers {
		s.called[n] = true
	}
	s.started = m.GameState.GameStarted
	for n := range s.marks {
		if !s.sheet.Contains(n) {
			delete(s.marks, n)
		}
	}
	sheet, state := s.sheet.Clone(), s.stateLocked()
	s.mu.Unlock()

	s.link.SetSheet(sheet)
	s.save(context.Background())
	s.events.Publish(Welcomed{Name: m.Name, Sheet: sheet, State: state})
}

func (s *PlayerService) onNumberDrawn(m protocol.NumberDrawn) {
	s.mu.Lock()
	s.started = true
	if !s.called[m.Number] {
		s.called[m.Number] = true
		s.order = append(s.order, m.Number)
	}
	if s.autoMark && s.sheet.Contains(m.Number) {
		s.marks[m.Number] = true
	}
	waits := s.evaluateLocked()
	s.mu.Unlock()

	s.events.Publish(NumberCalled{Number: m.Number, Text: m.Text})
	s.announceWaits(waits)
	s.save(context.Background())
}

// evaluateLocked finds rows that just reached four valid marks and applies
// the per-row and time throttles.
func (s *PlayerService) evaluateLocked() []WaitAnnounced {
	var out []WaitAnnounced
	for t, tk := range s.sheet {
		for r := 0; r < model.TicketRows; r++ {
			row := tk.Row(r)
			valid := 0
			for _, n := range row {
				if s.marks[n] && s.called[n] {
					valid++
				}
			}
			key := rowKey{t, r}
			switch {
			case valid == len(row) && valid > 0:
				delete(s.announced, key)
			case valid == len(row)-1 && valid > 0:
				if s.announced[key] {
					continue
				}
				s.announced[key] = true
				now := s.now()
				send := s.lastWait.IsZero() || now.Sub(s.lastWait) >= WaitThrottle
				if send {
					s.lastWait = now
				}
				out = append(out, WaitAnnounced{Ticket: t, Row: r, Sent: send})
			}
		}
	}
	return out
}

func (s *PlayerService) announceWaits(waits []WaitAnnounced) {
	for _, w := range waits {
		if w.Sent {
			if err := s.link.Send(protocol.WaitSignal{}); err != nil {
				s.logger.Debug("send wait signal", zap.Error(err))
			}
		}
		s.events.Publish(w)
	}
}

func (s *PlayerService) onGameReset() {
	s.mu.Lock()
	s.resetRoundLocked()
	s.started = false
	s.mu.Unlock()
	s.save(context.Background())
	s.events.Publish(GameWasReset{})
}

func (s *PlayerService) onVerdict(ev PlayerEvent) {
	s.mu.Lock()
	s.stopClaimTimerLocked()
	s.mu.Unlock()
	s.events.Publish(ev)
}

// Mark toggles the mark on n and reports whether it is now marked.
func (s *PlayerService) Mark(n int) (bool, error) {
	s.mu.Lock()
	if !s.sheet.Contains(n) {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrNotOnSheet, n)
	}
	if s.marks[n] {
		delete(s.marks, n)
	} else {
		s.marks[n] = true
	}
	marked := s.marks[n]
	waits := s.evaluateLocked()
	s.mu.Unlock()

	s.announceWaits(waits)
	return marked, nil
}

// HasWin reports whether some row is fully marked with called numbers.
func (s *PlayerService) HasWin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasWinLocked()
}

func (s *PlayerService) hasWinLocked() bool {
	return s.sheet.HasCompleteRow(func(n int) bool { return s.marks[n] && s.called[n] })
}

// ClaimWin asks the host to verify a win. The verdict or ClaimTimedOut
// arrives as an event.
func (s *PlayerService) ClaimWin() error {
	s.mu.Lock()
	if !s.hasWinLocked() {
		s.mu.Unlock()
		return ErrNotEligible
	}
	now := s.now()
	if !s.lastClaim.IsZero() && now.Sub(s.lastClaim) < ClaimCooldown {
		s.mu.Unlock()
		return ErrClaimTooSoon
	}
	prev := s.lastClaim
	s.lastClaim = now
	s.mu.Unlock()

	if err := s.link.Send(protocol.WinClaim{}); err != nil {
		// the host never saw it, so it does not count against the cooldown
		s.mu.Lock()
		if s.lastClaim.Equal(now) {
			s.lastClaim = prev
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.stopClaimTimerLocked()
	var timer *time.Timer
	timer = time.AfterFunc(s.claimTimeout, func() {
		s.mu.Lock()
		current := s.claimTimer == timer
		if current {
			s.claimTimer = nil
		}
		s.mu.Unlock()
		if current {
			s.events.Publish(ClaimTimedOut{})
		}
	})
	s.claimTimer = timer
	s.mu.Unlock()
	return nil
}

// NewSheet deals a fresh sheet before the game starts and offers it to the host.
func (s *PlayerService) NewSheet() (model.Sheet, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrGameInProgress
	}
	s.sheet = s.gen.NewSheet()
	s.marks = make(map[int]bool)
	s.announced = make(map[rowKey]bool)
	sheet := s.sheet.Clone()
	s.mu.Unlock()

	s.link.SetSheet(sheet)
	if err := s.link.Send(protocol.TicketUpdate{Ticket: sheet}); err != nil {
		s.logger.Debug("send ticket update", zap.Error(err))
	}
	s.save(context.Background())
	return sheet, nil
}

// SendEmote sends an emote for the host to relay.
func (s *PlayerService) SendEmote(emoji string) error {
	return s.link.Send(protocol.Emote{Emoji: emoji})
}

// Leave disconnects and forgets the session.
func (s *PlayerService) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.stopClaimTimerLocked()
	s.mu.Unlock()

	err := s.link.Close()
	if s.store != nil {
		if cerr := s.store.Clear(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.stopFwd()
	s.events.Close()
	return err
}

// ActiveGame reports whether leaving now would abandon a running round.
func (s *PlayerService) ActiveGame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode != "" && s.started
}

// Sheet returns the current sheet.
func (s *PlayerService) Sheet() model.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.Clone()
}

// State returns the called numbers in order and the started flag.
func (s *PlayerService) State() model.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *PlayerService) stateLocked() model.GameState {
	return model.GameState{CalledNumbers: append([]int{}, s.order...), GameStarted: s.started}
}

// Marked reports whether n is marked.
func (s *PlayerService) Marked(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[n]
}

// RoomCode returns the joined room.
func (s *PlayerService) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// playerInbound routes host messages into the service.
type playerInbound struct {
	protocol.NopHandler
	s *PlayerService
}

func (h playerInbound) OnWelcome(_ string, m protocol.Welcome)         { h.s.onWelcome(m) }
func (h playerInbound) OnNumberDrawn(_ string, m protocol.NumberDrawn) { h.s.onNumberDrawn(m) }
func (h playerInbound) OnGameReset(string, protocol.GameReset)         { h.s.onGameReset() }

func (h playerInbound) OnWinConfirmed(_ string, m protocol.WinConfirmed) {
	h.s.onVerdict(WinAnnounced{WinnerName: m.WinnerName})
}

func (h playerInbound) OnWinRejected(string, protocol.WinRejected) {
	h.s.onVerdict(ClaimRejected{})
}

func (h playerInbound) OnToast(_ string, m protocol.Toast) {
	h.s.events.Publish(ToastReceived{Message: m.Message, Style: m.Style})
}

func (h playerInbound) OnEmote(_ string, m protocol.Emote) {
	h.s.events.Publish(EmoteReceived{Emoji: m.Emoji, SenderID: m.SenderID})
}
