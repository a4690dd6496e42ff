package app

import (
	"context"
	"fmt"
	"io"
	"lototet/internal/model"
	"lototet/internal/protocol"
	"lototet/internal/speech"
	"strings"
	"sync"
	"time"
)

// DefaultPace is how long an announced number stays the latest before the
// next draw may start.
const DefaultPace = 1500 * time.Millisecond

var toastPrefix = map[protocol.ToastStyle]string{
	protocol.ToastInfo:    "i",
	protocol.ToastSuccess: "✓",
	protocol.ToastWarning: "!",
	protocol.ToastError:   "✗",
}

// Console prints announcements and notices to a terminal. It is the
// Announcer and Notifier of terminal hosts.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	pace time.Duration
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w, pace: DefaultPace}
}

// SetPace changes the pause after each announced number.
func (c *Console) SetPace(d time.Duration) {
	c.mu.Lock()
	c.pace = d
	c.mu.Unlock()
}

// Printf writes one line.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) AnnounceNumber(ctx context.Context, n int) error {
	c.mu.Lock()
	fmt.Fprintf(c.w, "🎱 %2d  %s\n", n, speech.Announcement(n))
	pace := c.pace
	c.mu.Unlock()

	if pace <= 0 {
		return nil
	}
	t := time.NewTimer(pace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) AnnounceWinner(_ context.Context, name string) error {
	c.Printf("🏆 %s", speech.WinnerAnnouncement(name))
	return nil
}

func (c *Console) Notify(style protocol.ToastStyle, message string) {
	prefix, ok := toastPrefix[style]
	if !ok {
		prefix = toastPrefix[protocol.ToastInfo]
	}
	c.Printf("[%s] %s", prefix, message)
}

// RenderSheet draws each ticket as a grid. Marked cells are bracketed.
func RenderSheet(sheet model.Sheet, marked func(int) bool) string {
	var b strings.Builder
	for i, t := range sheet {
		fmt.Fprintf(&b, "Vé %d\n", i+1)
		for r := range t {
			for c, n := range t[r] {
				if c > 0 {
					b.WriteByte(' ')
				}
				switch {
				case n == 0:
					b.WriteString("  · ")
				case marked != nil && marked(n):
					fmt.Fprintf(&b, "[%2d]", n)
				default:
					fmt.Fprintf(&b, " %2d ", n)
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RenderBoard lists called numbers in draw order, latest last.
func RenderBoard(state model.GameState) string {
	if len(state.CalledNumbers) == 0 {
		return "Chưa có số nào."
	}
	parts := make([]string, len(state.CalledNumbers))
	for i, n := range state.CalledNumbers {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("Đã xướng %d số: %s", len(parts), strings.Join(parts, " "))
}
