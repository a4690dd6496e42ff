package service

import (
	"context"
	"lototet/internal/protocol"
)

// Broadcaster delivers host messages to players (avoids import cycle)
type Broadcaster interface {
	SendTo(peerID string, m protocol.Message)
	Broadcast(m protocol.Message, exclude ...string)
}

// Announcer voices game events. The host waits on AnnounceNumber before the
// next draw.
type Announcer interface {
	AnnounceNumber(ctx context.Context, n int) error
	AnnounceWinner(ctx context.Context, name string) error
}

// Notifier shows transient notices.
type Notifier interface {
	Notify(style protocol.ToastStyle, message string)
}

type silentAnnouncer struct{}

func (silentAnnouncer) AnnounceNumber(context.Context, int) error    { return nil }
func (silentAnnouncer) AnnounceWinner(context.Context, string) error { return nil }

type silentNotifier struct{}

func (silentNotifier) Notify(protocol.ToastStyle, string) {}
