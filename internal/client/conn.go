// Package client connects to a terminald service as a terminal master or as
// a user of a terminal's slave file.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
	"github.com/srg/terminald/internal/wire"
)

var (
	// ErrClosed is returned by calls on a closed or hung up client.
	ErrClosed = errors.New("client connection closed")
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Options configures a client connection.
type Options struct {
	// Network and Address name the service, e.g. "unix" and a socket path.
	// A "ws" or "wss" network dials Address as a websocket URL.
	Network string
	Address string

	CompressThreshold int
	QueueCapacity     uint32
	Logger            *logrus.Logger
}

// DefaultOptions returns options for the service's Unix socket at path.
func DefaultOptions(path string) Options {
	return Options{
		Network:           "unix",
		Address:           path,
		CompressThreshold: 4096,
	}
}

// conn multiplexes calls over one endpoint and hands signals to onSignal.
type conn struct {
	ep     *wire.Endpoint
	codec  *wire.Codec
	logger *logrus.Logger

	mu      sync.Mutex
	serial  uint64
	pending map[uint64]chan *ipc.Message

	onSignal  func(*ipc.Message)
	done      chan struct{}
	closeOnce sync.Once
}

func dial(ctx context.Context, opts Options, hello wire.Hello, onSignal func(*ipc.Message)) (*conn, string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	fc, err := dialFrames(ctx, opts)
	if err != nil {
		return nil, "", err
	}

	codec, err := wire.NewCodec(opts.CompressThreshold)
	if err != nil {
		_ = fc.Close()
		return nil, "", err
	}

	if hello.PID == 0 {
		hello.PID = int32(os.Getpid())
	}

	file, err := wire.Handshake(fc, codec, hello)
	if err != nil {
		_ = fc.Close()
		codec.Close()
		return nil, "", err
	}

	c := &conn{
		codec:    codec,
		logger:   logger,
		pending:  make(map[uint64]chan *ipc.Message),
		onSignal: onSignal,
		done:     make(chan struct{}),
	}
	c.ep = wire.NewEndpoint(context.Background(), fc, codec, wire.EndpointOptions{
		Name:          "client-" + hello.Role.String(),
		QueueCapacity: opts.QueueCapacity,
		Logger:        logger,
	})

	groutine.Go(context.Background(), "client-dispatch", c.dispatch)
	return c, file, nil
}

func dialFrames(ctx context.Context, opts Options) (wire.FrameConn, error) {
	switch opts.Network {
	case "ws", "wss":
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, opts.Address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", opts.Address, err)
		}
		return wire.NewWebSocketConn(ws), nil
	default:
		var d net.Dialer
		nc, err := d.DialContext(ctx, opts.Network, opts.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", opts.Address, err)
		}
		return wire.NewStreamConn(nc), nil
	}
}

// dispatch routes replies to their callers and signals to onSignal.
func (c *conn) dispatch(_ context.Context) {
	defer c.shutdown()

	for {
		select {
		case <-c.ep.Ready():
		case <-c.ep.HungUp():
		}

		for {
			msg, err := c.ep.Receive()
			if errors.Is(err, ipc.ErrWouldBlock) {
				break
			}
			if err != nil {
				return
			}

			switch msg.Kind {
			case ipc.KindReply:
				c.complete(msg)
			case ipc.KindSignal:
				if c.onSignal != nil {
					c.onSignal(msg)
				}
			default:
				c.logger.WithField("id", msg.ID).Debug("Ignoring unexpected request")
			}
		}
	}
}

func (c *conn) complete(reply *ipc.Message) {
	c.mu.Lock()
	ch, ok := c.pending[reply.Serial]
	delete(c.pending, reply.Serial)
	c.mu.Unlock()

	if ok {
		ch <- reply
	}
}

func (c *conn) shutdown() {
	_ = c.ep.Close()
	close(c.done)
}

// call sends msg under a fresh serial and waits for its reply. When ctx ends
// first and withdraw is set, the service is asked to cancel the operation and
// the call waits for its final reply: an operation that completed anyway
// returns normally.
func (c *conn) call(ctx context.Context, msg *ipc.Message, withdraw bool) (*ipc.Message, error) {
	ch := make(chan *ipc.Message, 1)

	c.mu.Lock()
	c.serial++
	serial := c.serial
	c.pending[serial] = ch
	c.mu.Unlock()

	msg.Serial = serial

	if err := c.ep.Send(msg); err != nil {
		c.forget(serial)
		return nil, mapErr(err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
	}

	if !withdraw {
		c.forget(serial)
		return nil, ctx.Err()
	}

	_ = c.ep.Send(&ipc.Message{Kind: ipc.KindSignal, ID: wire.SignalCancel, Serial: serial})

	select {
	case reply := <-ch:
		if userfile.ReplyStatus(reply) == status.Cancelled {
			return nil, ctx.Err()
		}
		return reply, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *conn) forget(serial uint64) {
	c.mu.Lock()
	delete(c.pending, serial)
	c.mu.Unlock()
}

func (c *conn) close() error {
	err := c.ep.Close()
	<-c.ep.Done()
	<-c.done
	c.closeOnce.Do(c.codec.Close)
	return err
}

func mapErr(err error) error {
	if errors.Is(err, ipc.ErrHungUp) {
		return ErrClosed
	}
	return err
}
