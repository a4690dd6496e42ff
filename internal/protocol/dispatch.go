package protocol

import "fmt"

// Handler receives decoded messages. from is the transport-level identity
// of the sender and is the only identity handlers should trust.
type Handler interface {
	OnWelcome(from string, m Welcome)
	OnNumberDrawn(from string, m NumberDrawn)
	OnWinClaim(from string, m WinClaim)
	OnWinConfirmed(from string, m WinConfirmed)
	OnWinRejected(from string, m WinRejected)
	OnTicketUpdate(from string, m TicketUpdate)
	OnWaitSignal(from string, m WaitSignal)
	OnToast(from string, m Toast)
	OnGameReset(from string, m GameReset)
	OnPing(from string, m Ping)
	OnPong(from string, m Pong)
	OnEmote(from string, m Emote)
}

// Dispatch routes m to the matching Handler method.
func Dispatch(from string, m Message, h Handler) error {
	switch msg := m.(type) {
	case Welcome:
		h.OnWelcome(from, msg)
	case NumberDrawn:
		h.OnNumberDrawn(from, msg)
	case WinClaim:
		h.OnWinClaim(from, msg)
	case WinConfirmed:
		h.OnWinConfirmed(from, msg)
	case WinRejected:
		h.OnWinRejected(from, msg)
	case TicketUpdate:
		h.OnTicketUpdate(from, msg)
	case WaitSignal:
		h.OnWaitSignal(from, msg)
	case Toast:
		h.OnToast(from, msg)
	case GameReset:
		h.OnGameReset(from, msg)
	case Ping:
		h.OnPing(from, msg)
	case Pong:
		h.OnPong(from, msg)
	case Emote:
		h.OnEmote(from, msg)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return nil
}

// NopHandler ignores every message. Embed it to handle a subset.
type NopHandler struct{}

func (NopHandler) OnWelcome(string, Welcome)           {}
func (NopHandler) OnNumberDrawn(string, NumberDrawn)   {}
func (NopHandler) OnWinClaim(string, WinClaim)         {}
func (NopHandler) OnWinConfirmed(string, WinConfirmed) {}
func (NopHandler) OnWinRejected(string, WinRejected)   {}
func (NopHandler) OnTicketUpdate(string, TicketUpdate) {}
func (NopHandler) OnWaitSignal(string, WaitSignal)     {}
func (NopHandler) OnToast(string, Toast)               {}
func (NopHandler) OnGameReset(string, GameReset)       {}
func (NopHandler) OnPing(string, Ping)                 {}
func (NopHandler) OnPong(string, Pong)                 {}
func (NopHandler) OnEmote(string, Emote)               {}
