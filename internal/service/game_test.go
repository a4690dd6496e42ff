package service

import (
	"context"
	"lototet/internal/cache"
	"lototet/internal/model"
	"lototet/internal/protocol"
	"lototet/internal/session"
	"lototet/internal/transport"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type table struct {
	net  *transport.MemoryNetwork
	host *HostService
	hs   *session.HostSession
	code string
}

func newTable(t *testing.T, opts ...HostOption) *table {
	t.Helper()
	net := transport.NewMemoryNetwork()
	hs := session.NewHostSession(net, GenerateRoomCode, zap.NewNop())
	host := NewHostService(context.Background(), hs, zap.NewNop(), opts...)
	hs.SetListener(host)
	code, err := hs.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		host.Close()
		_ = hs.Close()
	})
	return &table{net: net, host: host, hs: hs, code: code}
}

func (tb *table) seat(t *testing.T, name string) (*PlayerService, <-chan PlayerEvent) {
	t.Helper()
	cfg := session.PlayerConfig{
		ConnectTimeout: time.Second,
		HealthTimeout:  100 * time.Millisecond,
		Backoff:        session.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, Attempts: 3},
	}
	ps := session.NewPlayerSession(tb.net, cfg, zap.NewNop())
	svc := NewPlayerService(ps, cache.NewFileSessionCache(t.TempDir()), zap.NewNop(), WithAutoMark(true))
	events, unsub := svc.Events(128)
	t.Cleanup(func() {
		unsub()
		_ = ps.Close()
	})
	require.NoError(t, svc.Join(context.Background(), tb.code, name))
	return svc, events
}

func TestGame_JoinDrawAndWin(t *testing.T) {
	tb := newTable(t)
	lan, lanEvents := tb.seat(t, "Lan")
	minh, minhEvents := tb.seat(t, "Minh")

	w := nextEvent[Welcomed](t, lanEvents)
	assert.Equal(t, "Lan", w.Name)
	assert.NoError(t, w.Sheet.Validate())
	nextEvent[Welcomed](t, minhEvents)

	require.Eventually(t, func() bool { return tb.host.Snapshot().Connected == 2 }, within, 5*time.Millisecond)

	// the host holds the same sheet the player adopted
	snap := tb.host.Snapshot()
	for _, p := range snap.Players {
		if p.Name == "Lan" {
			assert.Equal(t, lan.Sheet(), p.Sheet)
		}
	}

	for !lan.HasWin() {
		_, err := tb.host.Draw(context.Background())
		require.NoError(t, err)
		nextEvent[NumberCalled](t, lanEvents)
	}

	require.NoError(t, lan.ClaimWin())
	assert.Equal(t, "Lan", nextEvent[WinAnnounced](t, lanEvents).WinnerName)
	assert.Equal(t, "Lan", nextEvent[WinAnnounced](t, minhEvents).WinnerName)
	assert.True(t, minh.ActiveGame())
}

func TestGame_EmoteRelayExcludesSender(t *testing.T) {
	tb := newTable(t)
	lan, lanEvents := tb.seat(t, "Lan")
	_, minhEvents := tb.seat(t, "Minh")
	nextEvent[Welcomed](t, lanEvents)
	nextEvent[Welcomed](t, minhEvents)

	require.NoError(t, lan.SendEmote("🎉"))
	ev := nextEvent[EmoteReceived](t, minhEvents)
	assert.Equal(t, "🎉", ev.Emoji)
	assert.NotEqual(t, protocol.HostSenderID, ev.SenderID)
	noEvent[EmoteReceived](t, lanEvents, 50*time.Millisecond)
}

func TestGame_ResetReachesPlayers(t *testing.T) {
	tb := newTable(t)
	lan, lanEvents := tb.seat(t, "Lan")
	nextEvent[Welcomed](t, lanEvents)

	_, err := tb.host.Draw(context.Background())
	require.NoError(t, err)
	nextEvent[NumberCalled](t, lanEvents)
	_, err = lan.NewSheet()
	assert.ErrorIs(t, err, ErrGameInProgress)

	tb.host.Reset()
	nextEvent[GameWasReset](t, lanEvents)
	sheet, err := lan.NewSheet()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, p := range tb.host.Snapshot().Players {
			if p.Name == "Lan" {
				return assert.ObjectsAreEqual(sheet, p.Sheet)
			}
		}
		return false
	}, within, 5*time.Millisecond)
}

func TestGame_RejoinAfterDropKeepsSheet(t *testing.T) {
	tb := newTable(t)
	lan, lanEvents := tb.seat(t, "Lan")
	first := nextEvent[Welcomed](t, lanEvents)

	_, err := tb.host.Draw(context.Background())
	require.NoError(t, err)
	nextEvent[NumberCalled](t, lanEvents)

	tb.net.Drop(model.HostPeerID(tb.code))

	again := nextEvent[Welcomed](t, lanEvents)
	assert.Equal(t, first.Sheet, again.Sheet)
	assert.Len(t, again.State.CalledNumbers, 1)
	assert.True(t, lan.ActiveGame())
	assert.Len(t, tb.host.Snapshot().Players, 1)
}
