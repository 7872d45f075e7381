package wire

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/ipc"
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// EndpointOptions configures an Endpoint.
type EndpointOptions struct {
	// Name labels the endpoint's goroutines and log entries.
	Name string

	// QueueCapacity bounds both the inbound and the outbound queue; zero
	// selects ipc.DefaultQueueCapacity.
	QueueCapacity uint32

	Logger *logrus.Logger
}

// Endpoint adapts a FrameConn into an ipc.Endpoint. A reader goroutine
// decodes inbound frames into a bounded queue and a writer goroutine sends
// outbound frames in order, so Send never blocks on the network.
//
// Handles attached to sent messages are encoded as tokens and then closed;
// the endpoint takes ownership of them.
type Endpoint struct {
	fc     FrameConn
	codec  *Codec
	logger *logrus.Entry

	in  *ipc.Queue
	out chan []byte

	mu     sync.Mutex
	closed bool

	hangupOnce sync.Once
	hungUp     chan struct{}
	done       chan struct{}
}

var _ ipc.Endpoint = (*Endpoint)(nil)

// NewEndpoint starts the endpoint's goroutines on fc.
func NewEndpoint(ctx context.Context, fc FrameConn, codec *Codec, opts EndpointOptions) *Endpoint {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	capacity := opts.QueueCapacity
	if capacity == 0 {
		capacity = ipc.DefaultQueueCapacity
	}

	e := &Endpoint{
		fc:     fc,
		codec:  codec,
		logger: logger.WithField("conn", opts.Name),
		in:     ipc.NewQueue(capacity),
		out:    make(chan []byte, capacity),
		hungUp: make(chan struct{}),
		done:   make(chan struct{}),
	}

	groutine.Go(ctx, opts.Name+"-reader", e.readLoop)
	groutine.Go(ctx, opts.Name+"-writer", e.writeLoop)
	return e
}

func (e *Endpoint) readLoop(_ context.Context) {
	defer e.hangup()

	for {
		frame, err := e.fc.ReadFrame()
		if err != nil {
			e.logger.WithError(err).Debug("Connection read ended")
			return
		}

		msg, err := e.codec.Decode(frame)
		if err != nil {
			e.logger.WithError(err).Warn("Dropping undecodable frame")
			continue
		}

		if err := e.in.Put(msg); err != nil {
			e.logger.WithFields(logrus.Fields{
				"kind": msg.Kind,
				"id":   msg.ID,
			}).Warn("Inbound queue full, dropping message")
		}
	}
}

func (e *Endpoint) writeLoop(_ context.Context) {
	defer close(e.done)
	defer func() { _ = e.fc.Close() }()

	failed := false
	for frame := range e.out {
		if failed {
			continue
		}
		if err := e.fc.WriteFrame(frame); err != nil {
			e.logger.WithError(err).Debug("Connection write failed")
			failed = true
			e.hangup()
		}
	}
}

func (e *Endpoint) hangup() {
	e.hangupOnce.Do(func() {
		close(e.hungUp)
		e.in.Notify()
	})
}

func (e *Endpoint) isHungUp() bool {
	select {
	case <-e.hungUp:
		return true
	default:
		return false
	}
}

// Receive returns the next inbound message without blocking.
func (e *Endpoint) Receive() (*ipc.Message, error) {
	if msg, ok := e.in.Take(); ok {
		return msg, nil
	}
	if e.isHungUp() {
		return nil, ipc.ErrHungUp
	}
	return nil, ipc.ErrWouldBlock
}

// Send queues msg for the writer. It fails with ipc.ErrNoMemory when the
// outbound queue is full and ipc.ErrHungUp once the connection is gone.
func (e *Endpoint) Send(msg *ipc.Message) error {
	frame, err := e.codec.Encode(msg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.isHungUp() {
		return ipc.ErrHungUp
	}

	select {
	case e.out <- frame:
	default:
		return ipc.ErrNoMemory
	}

	if msg.Handle != nil {
		_ = msg.Handle.Close()
	}
	return nil
}

func (e *Endpoint) Ready() <-chan struct{} {
	return e.in.Ready()
}

func (e *Endpoint) HungUp() <-chan struct{} {
	return e.hungUp
}

// Close flushes queued frames and closes the connection.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
	e.mu.Unlock()

	e.hangup()
	return nil
}

// Done is closed once the connection has been closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}
