package main

import (
	"bytes"
	"context"
	"lototet/internal/app"
	"lototet/internal/cache"
	"lototet/internal/config"
	"lototet/internal/session"
	"lototet/internal/transport"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{}},
		{"  D ", command{verb: "d"}},
		{"m 42", command{verb: "m", arg: "42"}},
		{"e   🎉 ", command{verb: "e", arg: "🎉"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCommand(tt.line), "line %q", tt.line)
	}
}

func TestReadLinesClosesOnEOF(t *testing.T) {
	lines := readLines(strings.NewReader("d\nq\n"))
	assert.Equal(t, "d", <-lines)
	assert.Equal(t, "q", <-lines)
	_, ok := <-lines
	assert.False(t, ok)
}

func newTestApp(t *testing.T) (*app.App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	con := app.NewConsole(&out)
	con.SetPace(0)
	return &app.App{
		Config:       &config.Client{HealthInterval: time.Second},
		Logger:       zap.NewNop(),
		Network:      transport.NewMemoryNetwork(),
		SessionCache: cache.NewFileSessionCache(t.TempDir()),
		Console:      con,
	}, &out
}

func TestHostCommands(t *testing.T) {
	a, out := newTestApp(t)
	host, code, err := a.StartHost(context.Background())
	require.NoError(t, err)
	defer host.Close()

	ctx := context.Background()
	assert.False(t, hostCommand(ctx, a.Console, host, a.Config, parseCommand("d")))
	assert.Len(t, host.Game.Snapshot().State.CalledNumbers, 1)
	assert.Contains(t, out.String(), "🎱")

	hostCommand(ctx, a.Console, host, a.Config, parseCommand("s"))
	assert.Contains(t, out.String(), "Phòng "+code)
	assert.Contains(t, out.String(), "còn 89 số")

	hostCommand(ctx, a.Console, host, a.Config, parseCommand("r"))
	assert.Empty(t, host.Game.Snapshot().State.CalledNumbers)

	assert.True(t, hostCommand(ctx, a.Console, host, a.Config, parseCommand("q")))
}

func TestPlayerCommandsAgainstHost(t *testing.T) {
	a, out := newTestApp(t)
	host, code, err := a.StartHost(context.Background())
	require.NoError(t, err)
	defer host.Close()

	player := a.NewPlayer()
	defer player.Close()
	require.NoError(t, player.Game.Join(context.Background(), code, "Lan"))

	ctx := context.Background()
	playerCommand(ctx, a.Console, player.Game, parseCommand("m 0"))
	assert.Contains(t, out.String(), "không có trên vé")

	playerCommand(ctx, a.Console, player.Game, parseCommand("k"))
	assert.Contains(t, out.String(), "chưa đủ điều kiện")

	playerCommand(ctx, a.Console, player.Game, parseCommand("v"))
	assert.Contains(t, out.String(), "Vé 1")

	assert.True(t, playerCommand(ctx, a.Console, player.Game, parseCommand("q")))
	s, err := a.SessionCache.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestWatchRoom(t *testing.T) {
	closed := make(chan session.Event)
	close(closed)
	done := make(chan error, 1)
	go func() {
		done <- watchRoom(context.Background(), closed, func(error) { t.Error("closed stream is not a lost room") })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchRoom kept spinning on a closed stream")
	}

	events := make(chan session.Event, 2)
	events <- session.Connected{}
	events <- session.Disconnected{Err: transport.ErrPeerClosed}
	var lost error
	require.NoError(t, watchRoom(context.Background(), events, func(err error) { lost = err }))
	assert.ErrorIs(t, lost, transport.ErrPeerClosed)
}
