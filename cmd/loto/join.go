package main

import (
	"context"
	"errors"
	"io"
	"lototet/internal/app"
	"lototet/internal/config"
	"lototet/internal/service"
	"lototet/internal/session"
	"lototet/internal/speech"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const playerHelp = `Lệnh:
  m <số>     đánh dấu số
  k          Kinh!
  n          đổi vé (trước khi bắt đầu)
  v          xem vé
  b          xem các số đã xướng
  e <emoji>  gửi biểu cảm
  q          rời phòng`

func newJoinCmd(cfg *config.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "join [room-code | join-url]",
		Short: "Join a room, or rejoin the last one when no code is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			code := ""
			if len(args) == 1 {
				code = service.ParseScannedCode(args[0])
			}
			return runJoin(cmd.Context(), a, code, cmd.InOrStdin(), logger)
		},
	}
}

func runJoin(parent context.Context, a *app.App, code string, in io.Reader, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	con := a.Console
	lines := readLines(in)

	player := a.NewPlayer()
	defer player.Close()
	game := player.Game

	events, unsub := game.Events(64)
	defer unsub()

	if code == "" {
		con.Printf("Đang vào lại phòng cũ...")
		if err := game.Resume(ctx); err != nil {
			return errors.New(service.UserMessage(err))
		}
	} else {
		name := a.Config.Name
		for name == "" {
			con.Printf("Tên của bạn:")
			line, ok := <-lines
			if !ok {
				return errors.New("no name given")
			}
			name = strings.Join(strings.Fields(line), " ")
		}
		if err := game.Join(ctx, code, name); err != nil {
			return errors.New(service.UserMessage(err))
		}
	}
	con.Printf(playerHelp)

	sigs := interrupts(ctx)
	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if !printPlayerEvent(con, game, ev) {
					cancel()
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.Config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-cont:
				logger.Debug("resumed from background, checking host link")
			case <-gctx.Done():
				return nil
			}
			if err := player.Session.CheckHealth(gctx); err != nil {
				logger.Debug("health check", zap.Error(err))
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		armed := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigs:
				if armed || !game.ActiveGame() {
					return nil
				}
				armed = true
				con.Printf("Ván đang diễn ra. Nhấn Ctrl+C lần nữa để thoát, bạn có thể vào lại bằng 'loto join'.")
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				armed = false
				if quit := playerCommand(gctx, con, game, parseCommand(line)); quit {
					return nil
				}
			}
		}
	})
	return g.Wait()
}

func playerCommand(ctx context.Context, con *app.Console, game *service.PlayerService, c command) (quit bool) {
	switch c.verb {
	case "m":
		n, err := strconv.Atoi(c.arg)
		if err != nil {
			con.Printf("Gõ: m <số>")
			return false
		}
		marked, err := game.Mark(n)
		if err != nil {
			con.Printf("%s", service.UserMessage(err))
			return false
		}
		if marked {
			con.Printf("Đã đánh dấu %d.", n)
		} else {
			con.Printf("Đã bỏ đánh dấu %d.", n)
		}
	case "k":
		if err := game.ClaimWin(); err != nil {
			con.Printf("%s", service.UserMessage(err))
			return false
		}
		con.Printf("Đã Kinh! Đang chờ chủ xướng kiểm tra...")
	case "n":
		sheet, err := game.NewSheet()
		if err != nil {
			con.Printf("%s", service.UserMessage(err))
			return false
		}
		con.Printf("%s", app.RenderSheet(sheet, nil))
	case "v":
		con.Printf("%s", app.RenderSheet(game.Sheet(), game.Marked))
	case "b":
		con.Printf("%s", app.RenderBoard(game.State()))
	case "e":
		if err := game.SendEmote(c.arg); err != nil {
			con.Printf("%s", service.UserMessage(err))
		}
	case "q", "quit", "exit":
		if err := game.Leave(ctx); err != nil {
			con.Printf("%s", service.UserMessage(err))
		}
		return true
	default:
		con.Printf(playerHelp)
	}
	return false
}

// printPlayerEvent reports false once the player can no longer play.
func printPlayerEvent(con *app.Console, game *service.PlayerService, ev service.PlayerEvent) bool {
	switch ev := ev.(type) {
	case service.Welcomed:
		con.Printf("Chào %s! Đã vào phòng %s.", ev.Name, game.RoomCode())
		con.Printf("%s", app.RenderSheet(ev.Sheet, game.Marked))
		if len(ev.State.CalledNumbers) > 0 {
			con.Printf("%s", app.RenderBoard(ev.State))
		}
	case service.NumberCalled:
		con.Printf("🎱 %2d  %s", ev.Number, speech.Announcement(ev.Number))
		if game.Marked(ev.Number) {
			con.Printf("✓ Có %d trên vé của bạn.", ev.Number)
		}
		if game.HasWin() {
			con.Printf("Bạn đã đủ một hàng! Gõ k để Kinh.")
		}
	case service.WaitAnnounced:
		con.Printf("Bạn đang ĐỢI ở vé %d, hàng %d!", ev.Ticket+1, ev.Row+1)
	case service.WinAnnounced:
		con.Printf("🏆 %s", speech.WinnerAnnouncement(ev.WinnerName))
	case service.ClaimRejected:
		con.Printf("Kinh chưa hợp lệ, kiểm tra lại vé.")
	case service.ClaimTimedOut:
		con.Printf("Chủ xướng không phản hồi. Bạn có thể Kinh lại.")
	case service.GameWasReset:
		con.Printf("Ván mới! Gõ n để đổi vé.")
	case service.ToastReceived:
		con.Notify(ev.Style, ev.Message)
	case service.EmoteReceived:
		con.Printf("%s %s", ev.Emoji, ev.SenderID)
	case service.ConnectionChanged:
		switch e := ev.Event.(type) {
		case session.Reconnecting:
			con.Printf("Mất kết nối, thử lại (%d/%d) sau %s...", e.Attempt, e.Max, e.Delay)
		case session.Reconnected:
			con.Printf("Đã kết nối lại phòng %s.", e.RoomCode)
		case session.Disconnected:
			if e.Err != nil {
				con.Printf("%s", service.UserMessage(e.Err))
			}
			con.Printf("Đã mất kết nối với chủ xướng. Gõ 'loto join' để vào lại.")
			return false
		}
	}
	return true
}
