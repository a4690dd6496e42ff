package cache

import (
	"context"
	"lototet/internal/model"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPeerCache_HoldExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemoryPeerCache()
	c.now = func() time.Time { return now }

	held, err := c.Held(ctx, "p_1")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, c.Hold(ctx, "p_1", 30*time.Second))
	held, _ = c.Held(ctx, "p_1")
	assert.True(t, held)

	now = now.Add(30 * time.Second)
	held, _ = c.Held(ctx, "p_1")
	assert.False(t, held)
}

func TestMemoryPeerCache_Release(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryPeerCache()
	require.NoError(t, c.Hold(ctx, "loto-ABCDEF", time.Minute))
	require.NoError(t, c.Release(ctx, "loto-ABCDEF"))
	held, _ := c.Held(ctx, "loto-ABCDEF")
	assert.False(t, held)
}

func newFileCache(t *testing.T, now time.Time) *fileSessionCache {
	c := NewFileSessionCache(t.TempDir()).(*fileSessionCache)
	c.now = func() time.Time { return now }
	return c
}

func TestFileSessionCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := newFileCache(t, now)

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &model.Session{
		RoomCode:   "ABCDEF",
		PlayerName: "Lan",
		Sheet:      model.Sheet{{}, {}, {}},
		PeerID:     "p_1234abcd",
		Timestamp:  now.Add(-time.Minute),
	}
	s.Sheet[0][0][0] = 7
	require.NoError(t, c.Save(ctx, s))

	got, err = c.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ABCDEF", got.RoomCode)
	assert.Equal(t, "p_1234abcd", got.PeerID)
	assert.Equal(t, 7, got.Sheet[0][0][0])

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Clear(ctx))
	got, _ = c.Load(ctx)
	assert.Nil(t, got)
}

func TestFileSessionCache_DiscardsStale(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := newFileCache(t, now)

	require.NoError(t, c.Save(ctx, &model.Session{
		RoomCode:  "ABCDEF",
		Timestamp: now.Add(-model.SessionTTL - time.Second),
	}))
	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = os.Stat(c.path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSessionCache_DiscardsCorrupt(t *testing.T) {
	ctx := context.Background()
	c := newFileCache(t, time.Now())
	require.NoError(t, os.WriteFile(c.path, []byte("{not json"), 0o600))

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileSessionCache_RejectsBadRoomCode(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := newFileCache(t, now)
	require.NoError(t, c.Save(ctx, &model.Session{RoomCode: "ABC", Timestamp: now}))

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileSessionCache_Path(t *testing.T) {
	dir := t.TempDir()
	c := NewFileSessionCache(dir).(*fileSessionCache)
	assert.Equal(t, filepath.Join(dir, "loto_session.json"), c.path)
}
