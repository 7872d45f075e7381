// Package service hosts terminals for remote masters and slave users. It
// owns the user-file kernel, the terminal registry and the listeners that
// accept wire connections.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/metrics"
	"github.com/srg/terminald/internal/session"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/terminal"
	"github.com/srg/terminald/internal/userfile"
	"github.com/srg/terminald/internal/wire"
)

var (
	// ErrClosed is returned once the service has shut down.
	ErrClosed = errors.New("service is shut down")
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Transport names used in logs and metrics.
const (
	TransportUnix      = "unix"
	TransportWebSocket = "websocket"
)

// Options configures a Service.
type Options struct {
	// Sessions is required.
	Sessions session.Service

	// Kernel defaults to a new in-process kernel.
	Kernel *userfile.Kernel

	Metrics *metrics.Metrics
	Logger  *logrus.Logger

	// QueueCapacity bounds message queues; zero selects the default.
	QueueCapacity uint32

	// CompressThreshold is passed to the frame codec.
	CompressThreshold int
}

// Service runs terminals.
type Service struct {
	kernel   *userfile.Kernel
	sessions session.Service
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	codec    *wire.Codec
	capacity uint32

	terminals *hashmap.Map[uint64, *terminal.Terminal]
	nextID    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
	closeOnce sync.Once

	upgrader websocket.Upgrader
}

// New creates a service. Call Shutdown to release it.
func New(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("service requires a session service")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	kernel := opts.Kernel
	if kernel == nil {
		kernel = userfile.NewKernel(opts.QueueCapacity, logger)
	}

	codec, err := wire.NewCodec(opts.CompressThreshold)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		kernel:    kernel,
		sessions:  opts.Sessions,
		metrics:   opts.Metrics,
		logger:    logger,
		codec:     codec,
		capacity:  opts.QueueCapacity,
		terminals: hashmap.New[uint64, *terminal.Terminal](),
		ctx:       ctx,
		cancel:    cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// Kernel returns the user-file kernel the service publishes slave files in.
func (s *Service) Kernel() *userfile.Kernel {
	return s.kernel
}

// Start creates a terminal driven by master and runs it. The terminal is
// registered until it exits.
func (s *Service) Start(master ipc.Endpoint) (*terminal.Terminal, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}

	id := s.nextID.Add(1)
	term := terminal.New(id, master, terminal.Options{
		Kernel:   s.kernel,
		Sessions: s.sessions,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	if err := term.Run(s.ctx); err != nil {
		return nil, err
	}

	s.terminals.Set(id, term)
	s.group.Go(s.ctx, fmt.Sprintf("terminal-%d-reaper", id), func(context.Context) {
		<-term.Done()
		s.terminals.Del(id)
		s.logger.WithField("terminal", term.Name()).Info("Terminal exited")
	})

	s.logger.WithField("terminal", term.Name()).Info("Terminal started")
	return term, nil
}

// Terminal looks up a running terminal by id.
func (s *Service) Terminal(id uint64) (*terminal.Terminal, bool) {
	return s.terminals.Get(id)
}

// Terminals returns the running terminals ordered by id.
func (s *Service) Terminals() []*terminal.Terminal {
	terms := make([]*terminal.Terminal, 0, s.terminals.Len())
	s.terminals.Range(func(_ uint64, t *terminal.Terminal) bool {
		terms = append(terms, t)
		return true
	})
	sort.Slice(terms, func(i, j int) bool { return terms[i].ID() < terms[j].ID() })
	return terms
}

// Serve accepts wire connections on ln until the service shuts down or ln
// fails.
func (s *Service) Serve(ln net.Listener) error {
	if err := s.track(ln); err != nil {
		return err
	}

	s.logger.WithField("addr", ln.Addr().String()).Info("Listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		pid, err := wire.PeerPID(conn)
		if err != nil {
			s.logger.WithError(err).Debug("Peer credentials unavailable")
			pid = 0
		}

		fc := wire.NewStreamConn(conn)
		s.group.Go(s.ctx, "conn-"+conn.RemoteAddr().String(), func(ctx context.Context) {
			s.handle(ctx, fc, TransportUnix, pid)
		})
	}
}

// WebSocketHandler serves wire connections over websockets.
func (s *Service) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ctx.Err() != nil {
			http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}

		fc := wire.NewWebSocketConn(conn)
		s.group.Go(s.ctx, "ws-"+r.RemoteAddr, func(ctx context.Context) {
			s.handle(ctx, fc, TransportWebSocket, 0)
		})
	})
}

func (s *Service) track(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.listeners = append(s.listeners, ln)
	return nil
}

// handle runs one connection from its hello to its end.
func (s *Service) handle(ctx context.Context, fc wire.FrameConn, transport string, peerPID int32) {
	// A peer that never says hello must not hold up Shutdown.
	stop := context.AfterFunc(ctx, func() { _ = fc.Close() })
	hello, err := wire.AcceptHello(fc, s.codec)
	if !stop() {
		return
	}
	if err != nil {
		s.logger.WithError(err).Debug("Handshake failed")
		_ = fc.Close()
		return
	}

	pid := peerPID
	if pid == 0 {
		pid = hello.PID
	}

	log := s.logger.WithFields(logrus.Fields{
		"role":      hello.Role,
		"transport": transport,
		"pid":       pid,
	})

	switch hello.Role {
	case wire.RoleMaster:
		s.serveMaster(ctx, fc, transport, log)
	case wire.RoleSlave:
		s.serveSlave(ctx, fc, hello, pid, transport, log)
	default:
		log.Warn("Unknown connection role")
		_ = wire.RefuseHello(fc, s.codec, status.InvalidArg)
		_ = fc.Close()
	}
}

func (s *Service) endpoint(ctx context.Context, fc wire.FrameConn, name string) *wire.Endpoint {
	return wire.NewEndpoint(ctx, fc, s.codec, wire.EndpointOptions{
		Name:          name,
		QueueCapacity: s.capacity,
		Logger:        s.logger,
	})
}

func (s *Service) serveMaster(ctx context.Context, fc wire.FrameConn, transport string, log *logrus.Entry) {
	ep := s.endpoint(ctx, fc, "master")

	term, err := s.Start(ep)
	if err != nil {
		log.WithError(err).Warn("Failed to start terminal")
		_ = ep.Send(wire.HelloReply(status.Of(err), ""))
		_ = ep.Close()
		return
	}

	defer s.metrics.ConnectionOpened(wire.RoleMaster.String(), transport)()

	if err := ep.Send(wire.HelloReply(status.Success, term.Name())); err != nil {
		log.WithError(err).Warn("Failed to answer hello")
		_ = ep.Close()
	}

	// The terminal owns the endpoint from here on and closes it on exit.
	<-term.Done()
	<-ep.Done()
	log.WithField("terminal", term.Name()).Debug("Master connection closed")
}

// Shutdown stops accepting connections, hangs up every terminal and waits
// for their goroutines until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	for _, ln := range listeners {
		_ = ln.Close()
	}

	if err := s.group.WaitContext(ctx); err != nil {
		return err
	}

	s.closeOnce.Do(s.codec.Close)
	return nil
}
