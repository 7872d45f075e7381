package ipc

import (
	"sync"
)

// link is the state shared by both ends of a pipe.
type link struct {
	once   sync.Once
	hungUp chan struct{}
}

func (l *link) hangup() {
	l.once.Do(func() { close(l.hungUp) })
}

func (l *link) isHungUp() bool {
	select {
	case <-l.hungUp:
		return true
	default:
		return false
	}
}

type pipeEnd struct {
	in   *Queue
	peer *pipeEnd
	link *link
}

// Pipe returns two connected in-memory endpoints. Closing either end hangs up
// the connection for both.
func Pipe(capacity uint32) (Endpoint, Endpoint) {
	l := &link{hungUp: make(chan struct{})}

	a := &pipeEnd{in: NewQueue(capacity), link: l}
	b := &pipeEnd{in: NewQueue(capacity), link: l}
	a.peer, b.peer = b, a

	return a, b
}

func (p *pipeEnd) Receive() (*Message, error) {
	if msg, ok := p.in.Take(); ok {
		return msg, nil
	}

	if p.link.isHungUp() {
		return nil, ErrHungUp
	}
	return nil, ErrWouldBlock
}

func (p *pipeEnd) Send(msg *Message) error {
	if p.link.isHungUp() {
		return ErrHungUp
	}
	return p.peer.in.Put(msg)
}

func (p *pipeEnd) Ready() <-chan struct{} {
	return p.in.Ready()
}

func (p *pipeEnd) HungUp() <-chan struct{} {
	return p.link.hungUp
}

func (p *pipeEnd) Close() error {
	p.link.hangup()
	return nil
}
