// Package protocol defines the messages exchanged between host and players.
package protocol

import "lototet/internal/model"

// MessageType is the wire tag of a message
type MessageType string

// Host to player
const (
	TypeWelcome      MessageType = "welcome"
	TypeNumberDrawn  MessageType = "numberDrawn"
	TypeWinConfirmed MessageType = "winConfirmed"
	TypeWinRejected  MessageType = "winRejected"
	TypeToast        MessageType = "toast"
	TypeGameReset    MessageType = "gameReset"
)

// Player to host
const (
	TypeWinClaim     MessageType = "winClaim"
	TypeTicketUpdate MessageType = "ticketUpdate"
	TypeWaitSignal   MessageType = "waitSignal"
)

// Either direction
const (
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeEmote MessageType = "emote"
)

// HostSenderID marks emotes originated by the host.
const HostSenderID = "HOST"

// Message is implemented by every protocol message
type Message interface {
	Type() MessageType
	isMessage()
}

// Welcome carries the authoritative sheet and draw state to a new connection
type Welcome struct {
	Name      string          `json:"name"`
	Ticket    model.Sheet     `json:"ticket"`
	GameState model.GameState `json:"gameState"`
}

// NumberDrawn announces a draw
type NumberDrawn struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// WinClaim asks the host to verify the sender's sheet
type WinClaim struct{}

// WinConfirmed names the verified winner
type WinConfirmed struct {
	WinnerName string `json:"winnerName"`
}

// WinRejected tells a claimant verification failed
type WinRejected struct{}

// TicketUpdate proposes a new sheet before the game starts
type TicketUpdate struct {
	Ticket model.Sheet `json:"ticket"`
}

// WaitSignal tells the host the sender is one number away
type WaitSignal struct{}

// ToastStyle selects how a toast is shown
type ToastStyle string

const (
	ToastInfo    ToastStyle = "info"
	ToastSuccess ToastStyle = "success"
	ToastWarning ToastStyle = "warning"
	ToastError   ToastStyle = "error"
)

// Toast is a short notice for every player
type Toast struct {
	Message string     `json:"message"`
	Style   ToastStyle `json:"style"`
}

// GameReset clears the draw state
type GameReset struct{}

// Ping is a liveness probe
type Ping struct{}

// Pong answers a Ping
type Pong struct{}

// Emote is a reaction relayed to everyone but its sender
type Emote struct {
	Emoji    string `json:"emoji"`
	SenderID string `json:"senderId"`
}

func (Welcome) Type() MessageType      { return TypeWelcome }
func (NumberDrawn) Type() MessageType  { return TypeNumberDrawn }
func (WinClaim) Type() MessageType     { return TypeWinClaim }
func (WinConfirmed) Type() MessageType { return TypeWinConfirmed }
func (WinRejected) Type() MessageType  { return TypeWinRejected }
func (TicketUpdate) Type() MessageType { return TypeTicketUpdate }
func (WaitSignal) Type() MessageType   { return TypeWaitSignal }
func (Toast) Type() MessageType        { return TypeToast }
func (GameReset) Type() MessageType    { return TypeGameReset }
func (Ping) Type() MessageType         { return TypePing }
func (Pong) Type() MessageType         { return TypePong }
func (Emote) Type() MessageType        { return TypeEmote }

func (Welcome) isMessage()      {}
func (NumberDrawn) isMessage()  {}
func (WinClaim) isMessage()     {}
func (WinConfirmed) isMessage() {}
func (WinRejected) isMessage()  {}
func (TicketUpdate) isMessage() {}
func (WaitSignal) isMessage()   {}
func (Toast) isMessage()        {}
func (GameReset) isMessage()    {}
func (Ping) isMessage()         {}
func (Pong) isMessage()         {}
func (Emote) isMessage()        {}
