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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type connectCall struct {
	code, name  string
	sheet       model.Sheet
	isReconnect bool
}

type fakeLink struct {
	mu         sync.Mutex
	handler    protocol.Handler
	sent       []protocol.Message
	connects   []connectCall
	connectErr error
	sendErr    error
	peerID     string
	token      string
	sheet      model.Sheet
	closed     bool
	events     *event.Bus[session.Event]
}

func newFakeLink() *fakeLink {
	return &fakeLink{peerID: "p_abcd1234", token: "tok", events: event.NewBus[session.Event]()}
}

func (f *fakeLink) SetHandler(h protocol.Handler) { f.handler = h }

func (f *fakeLink) SetIdentity(peerID, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peerID, f.token = peerID, token
}

func (f *fakeLink) Identity() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerID, f.token
}

func (f *fakeLink) SetSheet(sheet model.Sheet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheet = sheet
}

func (f *fakeLink) Connect(_ context.Context, code, name string, sheet model.Sheet, isReconnect bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, connectCall{code, name, sheet, isReconnect})
	return f.connectErr
}

func (f *fakeLink) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeLink) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeLink) Events(buffer int) (<-chan session.Event, func()) {
	return f.events.Subscribe(buffer)
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) sentMessages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

func (f *fakeLink) count(typ protocol.MessageType) int {
	n := 0
	for _, m := range f.sentMessages() {
		if m.Type() == typ {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type playerFixture struct {
	svc    *PlayerService
	link   *fakeLink
	store  cache.SessionCache
	clock  *clock
	events <-chan PlayerEvent
}

func newPlayerFixture(t *testing.T, opts ...PlayerOption) *playerFixture {
	t.Helper()
	f := &playerFixture{
		link:  newFakeLink(),
		store: cache.NewFileSessionCache(t.TempDir()),
		clock: &clock{now: time.Now()},
	}
	opts = append([]PlayerOption{WithClock(f.clock.Now), WithAutoMark(true)}, opts...)
	f.svc = NewPlayerService(f.link, f.store, zap.NewNop(), opts...)
	ch, unsub := f.svc.Events(64)
	t.Cleanup(unsub)
	f.events = ch
	return f
}

func (f *playerFixture) welcome(sheet model.Sheet, called ...int) {
	f.link.handler.OnWelcome(protocol.HostSenderID, protocol.Welcome{
		Name:      "Lan",
		Ticket:    sheet,
		GameState: model.GameState{CalledNumbers: called, GameStarted: len(called) > 0},
	})
}

func (f *playerFixture) draw(numbers ...int) {
	for _, n := range numbers {
		f.link.handler.OnNumberDrawn(protocol.HostSenderID, protocol.NumberDrawn{Number: n})
	}
}

// nextEvent skips events of other types until one of type T arrives.
func nextEvent[T PlayerEvent](t *testing.T, ch <-chan PlayerEvent) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-ch:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func noEvent[T PlayerEvent](t *testing.T, ch <-chan PlayerEvent, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if _, ok := ev.(T); ok {
				t.Fatalf("unexpected %T", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestPlayerJoin_RejectsBadCodeLocally(t *testing.T) {
	f := newPlayerFixture(t)
	for _, code := range []string{"", "ABC", "ABCDEFG", "  abc  "} {
		err := f.svc.Join(context.Background(), code, "Lan")
		assert.ErrorIs(t, err, ErrInvalidRoomCode, code)
	}
	assert.Empty(t, f.link.connects)
}

func TestPlayerJoin_NormalizesAndPersists(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, f.svc.Join(context.Background(), " abcdef ", "Lan"))

	require.Len(t, f.link.connects, 1)
	c := f.link.connects[0]
	assert.Equal(t, "ABCDEF", c.code)
	assert.Equal(t, "Lan", c.name)
	assert.False(t, c.isReconnect)
	require.Len(t, c.sheet, 3)
	for _, tk := range c.sheet {
		assert.NoError(t, tk.ValidateLayout())
	}

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ABCDEF", stored.RoomCode)
	assert.Equal(t, "p_abcd1234", stored.PeerID)
	assert.Equal(t, "tok", stored.LeaseToken)
}

func TestPlayerJoin_ConnectErrorSurfaces(t *testing.T) {
	f := newPlayerFixture(t)
	f.link.connectErr = fmt.Errorf("%w: ABCDEF", session.ErrRoomNotFound)
	err := f.svc.Join(context.Background(), "ABCDEF", "Lan")
	assert.ErrorIs(t, err, session.ErrRoomNotFound)
	assert.Equal(t, "Mã phòng không tồn tại. Vui lòng kiểm tra lại.", UserMessage(err))
}

func TestPlayerWelcome_IsIdempotent(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, f.svc.Join(context.Background(), "ABCDEF", "Lan"))

	f.welcome(winningSheet(), 5, 12)
	w := nextEvent[Welcomed](t, f.events)
	assert.Equal(t, winningSheet(), w.Sheet)
	first := f.svc.State()

	f.welcome(winningSheet(), 5, 12)
	assert.Equal(t, first, f.svc.State())
	assert.Equal(t, model.GameState{CalledNumbers: []int{5, 12}, GameStarted: true}, first)
	assert.Equal(t, winningSheet(), f.svc.Sheet())
	assert.Equal(t, winningSheet(), f.link.sheet)
}

func TestPlayerWelcome_DropsMarksOffSheet(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())
	_, err := f.svc.Mark(5)
	require.NoError(t, err)

	f.welcome(otherSheet())
	assert.False(t, f.svc.Marked(5))
	_, err = f.svc.Mark(5)
	assert.ErrorIs(t, err, ErrNotOnSheet)
}

func TestPlayerNumberDrawn(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())

	f.draw(47, 70)
	ev := nextEvent[NumberCalled](t, f.events)
	assert.Equal(t, 47, ev.Number)

	assert.Equal(t, model.GameState{CalledNumbers: []int{47, 70}, GameStarted: true}, f.svc.State())
	assert.True(t, f.svc.Marked(47))
	assert.False(t, f.svc.Marked(70))
}

func TestPlayerWait_OncePerRow(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())

	f.draw(5, 12, 47, 9)
	w := nextEvent[WaitAnnounced](t, f.events)
	assert.Equal(t, WaitAnnounced{Ticket: 0, Row: 0, Sent: true}, w)
	assert.Equal(t, 1, f.link.count(protocol.TypeWaitSignal))

	// still four of five: no repeat
	f.draw(70)
	noEvent[WaitAnnounced](t, f.events, 20*time.Millisecond)
	assert.Equal(t, 1, f.link.count(protocol.TypeWaitSignal))

	f.draw(90)
	assert.True(t, f.svc.HasWin())
}

func TestPlayerWait_Throttled(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())

	f.draw(5, 12, 47, 9)
	nextEvent[WaitAnnounced](t, f.events)

	f.draw(1, 2, 3, 4)
	w := nextEvent[WaitAnnounced](t, f.events)
	assert.Equal(t, 1, w.Row)
	assert.False(t, w.Sent)
	assert.Equal(t, 1, f.link.count(protocol.TypeWaitSignal))

	f.clock.Advance(WaitThrottle)
	f.draw(7, 8, 10, 11)
	w = nextEvent[WaitAnnounced](t, f.events)
	assert.Equal(t, 2, w.Row)
	assert.True(t, w.Sent)
	assert.Equal(t, 2, f.link.count(protocol.TypeWaitSignal))
}

func TestPlayerWait_RearmsAfterUnmark(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)
	require.True(t, f.svc.HasWin())

	// dropping back to four re-announces the row
	f.clock.Advance(WaitThrottle)
	marked, err := f.svc.Mark(90)
	require.NoError(t, err)
	assert.False(t, marked)
	nextEvent[WaitAnnounced](t, f.events)
	nextEvent[WaitAnnounced](t, f.events)
}

func TestPlayerMarks_RequireCalled(t *testing.T) {
	f := newPlayerFixture(t, WithAutoMark(false))
	f.welcome(winningSheet())
	for _, n := range []int{5, 12, 47, 9, 90} {
		marked, err := f.svc.Mark(n)
		require.NoError(t, err)
		assert.True(t, marked)
	}
	assert.False(t, f.svc.HasWin())
	assert.ErrorIs(t, f.svc.ClaimWin(), ErrNotEligible)

	f.draw(5, 12, 47, 9, 90)
	assert.True(t, f.svc.HasWin())
}

func TestPlayerClaim_Cooldown(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)

	require.NoError(t, f.svc.ClaimWin())
	assert.Equal(t, 1, f.link.count(protocol.TypeWinClaim))

	f.clock.Advance(ClaimCooldown - time.Second)
	assert.ErrorIs(t, f.svc.ClaimWin(), ErrClaimTooSoon)
	assert.Equal(t, 1, f.link.count(protocol.TypeWinClaim))

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.ClaimWin())
	assert.Equal(t, 2, f.link.count(protocol.TypeWinClaim))
}

func TestPlayerClaim_FailedSendKeepsRetryOpen(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)

	f.link.failSends(session.ErrNotConnected)
	assert.ErrorIs(t, f.svc.ClaimWin(), session.ErrNotConnected)
	assert.Zero(t, f.link.count(protocol.TypeWinClaim))

	f.link.failSends(nil)
	require.NoError(t, f.svc.ClaimWin())
	assert.Equal(t, 1, f.link.count(protocol.TypeWinClaim))
	assert.ErrorIs(t, f.svc.ClaimWin(), ErrClaimTooSoon)
}

func TestPlayerClaim_TimesOut(t *testing.T) {
	f := newPlayerFixture(t, WithClaimTimeout(10*time.Millisecond))
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)

	require.NoError(t, f.svc.ClaimWin())
	nextEvent[ClaimTimedOut](t, f.events)
}

func TestPlayerClaim_VerdictCancelsTimeout(t *testing.T) {
	f := newPlayerFixture(t, WithClaimTimeout(30*time.Millisecond))
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)

	require.NoError(t, f.svc.ClaimWin())
	f.link.handler.OnWinRejected(protocol.HostSenderID, protocol.WinRejected{})
	nextEvent[ClaimRejected](t, f.events)
	noEvent[ClaimTimedOut](t, f.events, 60*time.Millisecond)

	f.clock.Advance(ClaimCooldown)
	require.NoError(t, f.svc.ClaimWin())
	f.link.handler.OnWinConfirmed(protocol.HostSenderID, protocol.WinConfirmed{WinnerName: "Lan"})
	assert.Equal(t, "Lan", nextEvent[WinAnnounced](t, f.events).WinnerName)
	noEvent[ClaimTimedOut](t, f.events, 60*time.Millisecond)
}

func TestPlayerNewSheet(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, f.svc.Join(context.Background(), "ABCDEF", "Lan"))
	f.welcome(winningSheet())

	sheet, err := f.svc.NewSheet()
	require.NoError(t, err)
	assert.NotEqual(t, winningSheet(), sheet)
	assert.Equal(t, 1, f.link.count(protocol.TypeTicketUpdate))
	assert.Equal(t, sheet, f.link.sheet)

	f.draw(1)
	_, err = f.svc.NewSheet()
	assert.ErrorIs(t, err, ErrGameInProgress)
	assert.Equal(t, 1, f.link.count(protocol.TypeTicketUpdate))
}

func TestPlayerGameReset(t *testing.T) {
	f := newPlayerFixture(t)
	f.welcome(winningSheet())
	f.draw(5, 12, 47, 9, 90)
	require.NoError(t, f.svc.ClaimWin())

	f.link.handler.OnGameReset(protocol.HostSenderID, protocol.GameReset{})
	nextEvent[GameWasReset](t, f.events)
	assert.Equal(t, model.GameState{CalledNumbers: []int{}}, f.svc.State())
	assert.False(t, f.svc.Marked(5))
	assert.False(t, f.svc.HasWin())

	_, err := f.svc.NewSheet()
	assert.NoError(t, err)
}

func TestPlayerResume(t *testing.T) {
	f := newPlayerFixture(t)
	assert.ErrorIs(t, f.svc.Resume(context.Background()), ErrNoSession)

	require.NoError(t, f.store.Save(context.Background(), &model.Session{
		RoomCode:   "ABCDEF",
		PlayerName: "Lan",
		Sheet:      winningSheet(),
		PeerID:     "p_old00000",
		LeaseToken: "lease",
		Timestamp:  time.Now(),
	}))
	require.NoError(t, f.svc.Resume(context.Background()))

	require.Len(t, f.link.connects, 1)
	c := f.link.connects[0]
	assert.True(t, c.isReconnect)
	assert.Equal(t, "ABCDEF", c.code)
	assert.Equal(t, winningSheet(), c.sheet)
	id, token := f.link.Identity()
	assert.Equal(t, "p_old00000", id)
	assert.Equal(t, "lease", token)
}

func TestPlayerResume_FailureClearsSession(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, f.store.Save(context.Background(), &model.Session{
		RoomCode:  "ABCDEF",
		Timestamp: time.Now(),
	}))
	f.link.connectErr = session.ErrConnectionTimeout

	assert.ErrorIs(t, f.svc.Resume(context.Background()), session.ErrConnectionTimeout)
	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestPlayerLeave(t *testing.T) {
	f := newPlayerFixture(t)
	require.NoError(t, f.svc.Join(context.Background(), "ABCDEF", "Lan"))
	require.NoError(t, f.svc.Leave(context.Background()))

	assert.True(t, f.link.closed)
	stored, _ := f.store.Load(context.Background())
	assert.Nil(t, stored)
}

func TestPlayerForwardsToastsAndEmotes(t *testing.T) {
	f := newPlayerFixture(t)
	f.link.handler.OnToast(protocol.HostSenderID, protocol.Toast{Message: "hi", Style: protocol.ToastWarning})
	assert.Equal(t, ToastReceived{Message: "hi", Style: protocol.ToastWarning}, nextEvent[ToastReceived](t, f.events))

	f.link.handler.OnEmote(protocol.HostSenderID, protocol.Emote{Emoji: "🎉", SenderID: "p_1"})
	assert.Equal(t, "p_1", nextEvent[EmoteReceived](t, f.events).SenderID)

	require.NoError(t, f.svc.SendEmote("👏"))
	assert.Equal(t, []protocol.Message{protocol.Emote{Emoji: "👏"}}, f.link.sentMessages())

	f.link.events.Publish(session.Reconnecting{Attempt: 1, Max: 5, Delay: time.Second})
	ev := nextEvent[ConnectionChanged](t, f.events)
	assert.IsType(t, session.Reconnecting{}, ev.Event)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: %q", ErrInvalidRoomCode, "AB"), "Mã phòng phải có 6 ký tự"},
		{session.ErrConnectionTimeout, "Không thể kết nối. Nếu dùng 3G/4G, hãy thử chuyển sang cùng WiFi."},
		{ErrClaimTooSoon, "Vui lòng đợi 10 giây trước khi Kinh lại!"},
		{errors.New("boom"), "Lỗi kết nối: boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err))
	}
}
