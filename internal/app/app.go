// Package app wires the CLI's dependencies from its configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"lototet/internal/cache"
	"lototet/internal/config"
	"lototet/internal/service"
	"lototet/internal/session"
	"lototet/internal/transport"
	"lototet/internal/transport/relay"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// App holds what host and player modes share
type App struct {
	Config       *config.Client
	Logger       *zap.Logger
	Network      transport.Network
	SessionCache cache.SessionCache
	Console      *Console

	closers []func()
}

// New builds the relay network and the session store for cfg.
func New(ctx context.Context, cfg *config.Client, out io.Writer, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Network: relay.NewNetwork(cfg.RelayURL, logger),
		Console: NewConsole(out),
	}

	if cfg.RedisURI == "" {
		a.SessionCache = cache.NewFileSessionCache(cfg.SessionDir)
		return a, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("redis uri: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, func() { rdb.Close() })
	a.SessionCache = cache.NewSessionCache(rdb, namespace(cfg.Name))
	return a, nil
}

// namespace keeps several local players apart in one redis. Keys stay
// ASCII: marks are stripped and đ, which has no decomposition, becomes d.
func namespace(name string) string {
	folded := strings.NewReplacer("đ", "d", "Đ", "d").Replace(name)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, folded); err == nil {
		folded = out
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), "-"))
}

// Host is a started host: the room session plus the game it runs.
type Host struct {
	Session *session.HostSession
	Game    *service.HostService
}

// Close ends the game and releases the room.
func (h *Host) Close() error {
	h.Game.Close()
	return h.Session.Close()
}

// StartHost claims a room on the relay and starts the game loop.
func (a *App) StartHost(ctx context.Context) (*Host, string, error) {
	hs := session.NewHostSession(a.Network, service.GenerateRoomCode, a.Logger)
	game := service.NewHostService(ctx, hs, a.Logger,
		service.WithAnnouncer(a.Console),
		service.WithNotifier(a.Console))
	hs.SetListener(game)

	code, err := hs.Start(ctx)
	if err != nil {
		game.Close()
		return nil, "", err
	}
	a.Logger.Info("room opened", zap.String("room", code))
	return &Host{Session: hs, Game: game}, code, nil
}

// Player is a player service and the session carrying it.
type Player struct {
	Session *session.PlayerSession
	Game    *service.PlayerService
}

// Close drops the host link without clearing the saved session.
func (p *Player) Close() error {
	return p.Session.Close()
}

// NewPlayer builds an unconnected player. Call Join or Resume on Game.
func (a *App) NewPlayer() *Player {
	ps := session.NewPlayerSession(a.Network, session.DefaultPlayerConfig(), a.Logger)
	game := service.NewPlayerService(ps, a.SessionCache, a.Logger, service.WithAutoMark(a.Config.AutoMark))
	return &Player{Session: ps, Game: game}
}

// Close releases external clients.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
