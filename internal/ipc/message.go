// Package ipc models the kernel's message connections: bidirectional,
// message-oriented endpoints carrying requests, replies and fire-and-forget
// signals, each with a small fixed argument block, an optional data section
// and an optional attached handle.
package ipc

import (
	"fmt"

	"github.com/srg/terminald/internal/status"
)

// ArgCount is the number of argument words in a message.
const ArgCount = 6

// Kind distinguishes requests, replies and signals.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindReply
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handle is a kernel object handle that can be attached to a message.
type Handle interface {
	// Name identifies the object the handle refers to.
	Name() string
	Close() error
}

// Message is a single unit of transfer on an Endpoint.
type Message struct {
	Kind   Kind
	ID     uint32
	Serial uint64
	Args   [ArgCount]uint64
	Data   []byte
	Handle Handle
}

// Errors returned by endpoints. They are kernel statuses so that status.Of
// reports them faithfully.
var (
	ErrWouldBlock error = status.WouldBlock
	ErrHungUp     error = status.ConnHungUp
	ErrCancelled  error = status.Cancelled
	ErrNoMemory   error = status.NoMemory
)

// NewRequest creates a request message.
func NewRequest(id uint32, serial uint64, data []byte) *Message {
	return &Message{Kind: KindRequest, ID: id, Serial: serial, Data: data}
}

// NewReply creates a reply correlated with req.
func NewReply(req *Message, data []byte) *Message {
	return &Message{Kind: KindReply, ID: req.ID, Serial: req.Serial, Data: data}
}

// NewSignal creates a signal message.
func NewSignal(id uint32, data []byte) *Message {
	return &Message{Kind: KindSignal, ID: id, Data: data}
}

// Endpoint is one side of a message connection.
//
// Receive never blocks: it returns ErrWouldBlock when nothing is queued and
// ErrHungUp once the peer has gone and the queue is drained. Ready is
// signalled after new messages arrive; callers drain with Receive until
// ErrWouldBlock before waiting again.
type Endpoint interface {
	Receive() (*Message, error)
	Send(msg *Message) error
	Ready() <-chan struct{}
	HungUp() <-chan struct{}
	Close() error
}
