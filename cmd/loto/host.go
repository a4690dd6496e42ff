package main

import (
	"context"
	"errors"
	"io"
	"lototet/internal/app"
	"lototet/internal/config"
	"lototet/internal/service"
	"lototet/internal/session"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultAutoDraw = 5 * time.Second

const hostHelp = `Lệnh:
  d (hoặc Enter)  xướng số tiếp theo
  a               bật/tắt tự động xướng
  r               ván mới
  s               xem phòng
  e <emoji>       gửi biểu cảm
  q               thoát`

func newHostCmd(cfg *config.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Open a room and call numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runHost(cmd.Context(), a, cmd.InOrStdin(), logger)
		},
	}
}

func runHost(parent context.Context, a *app.App, in io.Reader, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	host, code, err := a.StartHost(ctx)
	if err != nil {
		return errors.New(service.UserMessage(err))
	}
	defer host.Close()

	con := a.Console
	printRoom(con, code)
	con.Printf(hostHelp)

	if a.Config.AutoDraw > 0 {
		if err := host.Game.StartAutoDraw(a.Config.AutoDraw); err != nil {
			con.Printf("%s", service.UserMessage(err))
		}
	}

	events, unsub := host.Session.Events(8)
	defer unsub()

	lines := readLines(in)
	sigs := interrupts(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchRoom(gctx, events, func(err error) {
			logger.Warn("room lost", zap.Error(err))
			con.Printf("Mất phòng trên máy chủ chuyển tiếp. Vui lòng mở phòng mới.")
			cancel()
		})
	})
	g.Go(func() error {
		defer cancel()
		armed := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigs:
				snap := host.Game.Snapshot()
				if armed || !snap.State.GameStarted || snap.Winner != "" {
					return nil
				}
				armed = true
				con.Printf("Ván đang diễn ra với %d người chơi. Nhấn Ctrl+C lần nữa để thoát.", snap.Connected)
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				armed = false
				if quit := hostCommand(gctx, con, host, a.Config, parseCommand(line)); quit {
					return nil
				}
			}
		}
	})
	return g.Wait()
}

// watchRoom waits for the host identity to be lost. It returns when ctx
// ends or the event stream closes.
func watchRoom(ctx context.Context, events <-chan session.Event, lost func(error)) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if d, isLost := ev.(session.Disconnected); isLost {
				lost(d.Err)
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func hostCommand(ctx context.Context, con *app.Console, host *app.Host, cfg *config.Client, c command) (quit bool) {
	switch c.verb {
	case "", "d":
		if _, err := host.Game.Draw(ctx); err != nil {
			con.Printf("%s", service.UserMessage(err))
		}
	case "a":
		if host.Game.Snapshot().AutoDraw {
			host.Game.StopAutoDraw()
			con.Printf("Đã tắt tự động xướng.")
			return false
		}
		interval := cfg.AutoDraw
		if interval <= 0 {
			interval = defaultAutoDraw
		}
		if err := host.Game.StartAutoDraw(interval); err != nil {
			con.Printf("%s", service.UserMessage(err))
			return false
		}
		con.Printf("Tự động xướng mỗi %s.", interval)
	case "r":
		host.Game.Reset()
		con.Printf("Ván mới đã bắt đầu.")
	case "s":
		printStatus(con, host)
	case "e":
		host.Game.SendEmote(c.arg)
	case "q", "quit", "exit":
		return true
	default:
		con.Printf(hostHelp)
	}
	return false
}

func printRoom(con *app.Console, code string) {
	con.Printf("Mã phòng: %s", code)
	if qr, err := qrcode.New(code, qrcode.Medium); err == nil {
		con.Printf("%s", qr.ToSmallString(false))
	}
}

func printStatus(con *app.Console, host *app.Host) {
	snap := host.Game.Snapshot()
	con.Printf("Phòng %s: %d/%d người chơi đang kết nối, còn %d số.",
		host.Session.RoomCode(), snap.Connected, len(snap.Players), snap.Remaining)
	for _, p := range snap.Players {
		state := "mất kết nối"
		if p.Connected {
			state = "đang chơi"
		}
		con.Printf("  - %s (%s)", p.Name, state)
	}
	con.Printf("%s", app.RenderBoard(snap.State))
	if snap.Winner != "" {
		con.Printf("Người thắng: %s", snap.Winner)
	}
	if snap.AutoDraw {
		con.Printf("Đang tự động xướng.")
	}
}
