package transport

import (
	"encoding/json"
	"sync"
)

const receiveBuffer = 256

// Channel is the Conn used by the network implementations. The owning
// network pushes inbound data with Deliver and tears it down with Shutdown.
type Channel struct {
	id       string
	remote   string
	metadata json.RawMessage

	send    func([]byte) error
	onClose func()

	opened    chan struct{}
	openOnce  sync.Once
	recv      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates an unopened channel. send writes to the wire; onClose
// runs once when the local side closes it.
func NewChannel(id, remote string, metadata json.RawMessage, send func([]byte) error, onClose func()) *Channel {
	return &Channel{
		id:       id,
		remote:   remote,
		metadata: metadata,
		send:     send,
		onClose:  onClose,
		opened:   make(chan struct{}),
		recv:     make(chan []byte, receiveBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Channel) ID() string                { return c.id }
func (c *Channel) Peer() string              { return c.remote }
func (c *Channel) Metadata() json.RawMessage { return c.metadata }
func (c *Channel) Opened() <-chan struct{}   { return c.opened }
func (c *Channel) Receive() <-chan []byte    { return c.recv }
func (c *Channel) Done() <-chan struct{}     { return c.done }

// IsOpen reports whether the channel opened and has not closed since.
func (c *Channel) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.opened:
		return true
	default:
		return false
	}
}

// MarkOpen signals that both ends are ready.
func (c *Channel) MarkOpen() {
	c.openOnce.Do(func() { close(c.opened) })
}

// Send writes data to the remote side.
func (c *Channel) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	return c.send(data)
}

// Deliver queues inbound data. It blocks while the buffer is full and
// returns false once the channel is closed.
func (c *Channel) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.recv <- data:
		return true
	case <-c.done:
		return false
	}
}

// Close closes the channel from the local side.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// Shutdown closes the channel because the remote side or the network went
// away. onClose does not run.
func (c *Channel) Shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}
