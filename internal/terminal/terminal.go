// Package terminal implements a pseudo-terminal: the line discipline between
// a master connection, which supplies input and renders output, and a slave
// user file used by processes as their controlling terminal.
//
// Each terminal is driven by a single goroutine. Every piece of terminal
// state is owned by that goroutine and is never touched from anywhere else,
// so nothing in this package takes a lock on it.
package terminal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/metrics"
	"github.com/srg/terminald/internal/session"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

// SupportedOps are the user-file operations the slave file serves.
const SupportedOps = userfile.SupportsRead |
	userfile.SupportsWrite |
	userfile.SupportsInfo |
	userfile.SupportsRequest |
	userfile.SupportsWait |
	userfile.SupportsUnwait

var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("terminal is already running")
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// closedChan is always ready; selecting on it re-drains a backlog.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Options configures a terminal.
type Options struct {
	// Kernel publishes the slave file. Required.
	Kernel *userfile.Kernel

	// Sessions resolves sessions, delivers signals and records the
	// controlling terminal. Required.
	Sessions session.Service

	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

// Stats is a snapshot of a terminal's counters.
type Stats struct {
	InputBytes     uint64
	DroppedInput   uint64
	EchoBytes      uint64
	OutputBytes    uint64
	Signals        uint64
	ReadsCompleted uint64
}

type counters struct {
	inputBytes     atomic.Uint64
	droppedInput   atomic.Uint64
	echoBytes      atomic.Uint64
	outputBytes    atomic.Uint64
	signals        atomic.Uint64
	readsCompleted atomic.Uint64
}

// pendingRead is a slave read that could not be completed on arrival. The
// mode bits are those in force when the read arrived.
type pendingRead struct {
	serial   uint64
	size     int
	canon    bool
	nonblock bool
}

// Terminal is one pseudo-terminal instance.
type Terminal struct {
	id   uint64
	name string

	master    ipc.Endpoint
	slave     *userfile.Handle
	slaveConn ipc.Endpoint

	kernel   *userfile.Kernel
	sessions session.Service
	metrics  *metrics.Metrics
	logger   *logrus.Entry

	termios   termios.Termios
	winsize   termios.Winsize
	escaped   bool
	inhibited bool
	ring      inputRing

	reads      []pendingRead
	readEvents *orderedmap.OrderedMap[uint64, struct{}]

	// Controlling terminal binding. leader is non-nil iff sessionID != 0.
	sessionID int32
	pgid      int32
	leader    session.Process

	// slaveBacklog is set when a batch of file messages was cut short.
	slaveBacklog bool

	stats   counters
	started atomic.Bool
	done    chan struct{}
}

// New creates terminal id driven by master. Run must be called to publish
// the slave file and start processing.
func New(id uint64, master ipc.Endpoint, opts Options) *Terminal {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	name := fmt.Sprintf("terminal-%d", id)

	return &Terminal{
		id:         id,
		name:       name,
		master:     master,
		kernel:     opts.Kernel,
		sessions:   opts.Sessions,
		metrics:    opts.Metrics,
		logger:     logger.WithField("terminal", name),
		termios:    termios.Default(),
		winsize:    termios.DefaultWinsize(),
		readEvents: orderedmap.New[uint64, struct{}](),
		done:       make(chan struct{}),
	}
}

// ID returns the terminal's id.
func (t *Terminal) ID() uint64 {
	return t.id
}

// Name returns the name of the slave file.
func (t *Terminal) Name() string {
	return t.name
}

// Done is closed once the terminal has shut down.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// Stats returns the terminal's counters. It is safe to call from any
// goroutine.
func (t *Terminal) Stats() Stats {
	return Stats{
		InputBytes:     t.stats.inputBytes.Load(),
		DroppedInput:   t.stats.droppedInput.Load(),
		EchoBytes:      t.stats.echoBytes.Load(),
		OutputBytes:    t.stats.outputBytes.Load(),
		Signals:        t.stats.signals.Load(),
		ReadsCompleted: t.stats.readsCompleted.Load(),
	}
}

// Run publishes the slave file and starts the terminal's goroutine. The
// terminal exits when the master hangs up or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	conn, slave, err := t.kernel.Create(
		t.name, userfile.TypeChar, userfile.AccessRead|userfile.AccessWrite, SupportedOps)
	if err != nil {
		close(t.done)
		return fmt.Errorf("failed to create user file: %w", err)
	}

	t.slaveConn = conn
	t.slave = slave
	t.metrics.TerminalStarted()

	groutine.Go(ctx, t.name, t.loop)
	return nil
}

func (t *Terminal) loop(ctx context.Context) {
	defer t.destroy()

	t.logger.Debug("Terminal started")

	for {
		var death <-chan struct{}
		if t.leader != nil {
			death = t.leader.Death()
		}

		slaveReady := t.slaveConn.Ready()
		if t.slaveBacklog {
			slaveReady = closedChan
		}

		select {
		case <-ctx.Done():
			t.logger.Debug("Terminal cancelled")
			return

		case <-t.master.HungUp():
			t.logger.Debug("Master hung up, closing terminal")
			return

		case <-t.master.Ready():
			if t.handleMasterMessages() {
				return
			}

		case <-t.slaveConn.HungUp():
			t.logger.Error("User file connection hung up unexpectedly")
			return

		case <-slaveReady:
			if t.handleFileMessages() {
				return
			}

		case <-death:
			t.leaderDied()
		}
	}
}

// destroy releases everything the terminal holds. The controlling terminal
// binding is cleared before the slave file is released.
func (t *Terminal) destroy() {
	if t.sessionID != 0 {
		if err := t.sessions.SetSessionTerminal(t.sessionID, nil); err != nil {
			t.logger.WithError(err).Warn("Failed to clear controlling terminal")
		}
		t.unbind()
	}

	_ = t.slave.Close()
	_ = t.slaveConn.Close()
	_ = t.master.Close()

	t.metrics.TerminalExited()
	t.logger.Debug("Terminal exiting")
	close(t.done)
}

// handleMasterMessages drains the master connection. It reports whether the
// terminal should exit.
func (t *Terminal) handleMasterMessages() bool {
	for {
		msg, err := t.master.Receive()
		switch {
		case errors.Is(err, ipc.ErrWouldBlock):
			return false
		case errors.Is(err, ipc.ErrHungUp):
			return true
		case err != nil:
			t.logger.WithError(err).Warn("Failed to receive master message")
			return false
		}

		if msg.Kind != ipc.KindRequest {
			t.logger.WithField("kind", msg.Kind).Warn("Unexpected master message")
			continue
		}

		var reply *ipc.Message
		switch msg.ID {
		case RequestOpenHandle:
			reply = t.masterOpenHandle(msg)
		case RequestInput:
			reply = t.masterInput(msg)
		default:
			t.logger.WithField("id", msg.ID).Warn("Unhandled master request")
		}

		if reply != nil {
			if err := t.master.Send(reply); err != nil {
				t.logger.WithError(err).Warn("Failed to send master reply")
			}
		}
	}
}

func (t *Terminal) masterOpenHandle(req *ipc.Message) *ipc.Message {
	if len(req.Data) != 4 {
		return resultReply(req, status.InvalidArg)
	}
	access := binary.LittleEndian.Uint32(req.Data)

	handle, err := t.slave.Reopen(access)
	if err != nil {
		t.logger.WithError(err).WithField("access", access).Debug("Failed to reopen slave")
		return resultReply(req, status.TryAgain)
	}

	reply := resultReply(req, status.Success)
	reply.Handle = handle
	return reply
}

func (t *Terminal) masterInput(req *ipc.Message) *ipc.Message {
	t.stats.inputBytes.Add(uint64(len(req.Data)))
	t.metrics.Input(len(req.Data))

	for _, b := range req.Data {
		t.addInput(b)
	}

	return resultReply(req, status.Success)
}

// handleFileMessages drains the slave connection. It reports whether the
// terminal should exit.
func (t *Terminal) handleFileMessages() bool {
	t.slaveBacklog = false

	for {
		msg, err := t.slaveConn.Receive()
		switch {
		case errors.Is(err, ipc.ErrWouldBlock):
			return false
		case errors.Is(err, ipc.ErrHungUp):
			t.logger.Error("User file connection hung up unexpectedly")
			return true
		case err != nil:
			t.logger.WithError(err).Error("Failed to receive file message")
			return true
		}

		if err := t.handleFileMessage(msg); err != nil {
			t.logger.WithError(err).WithField("op", msg.ID).Warn("Failed to send file message")
			t.slaveBacklog = true
			return false
		}
	}
}

// handleFileMessage serves one user-file operation. It returns an error only
// if a reply could not be delivered.
func (t *Terminal) handleFileMessage(msg *ipc.Message) error {
	switch msg.ID {
	case userfile.OpRead:
		t.fileRead(msg)
		return nil
	case userfile.OpWrite:
		return t.fileWrite(msg)
	case userfile.OpInfo:
		return t.sendFile(userfile.InfoReply(userfile.Serial(msg), userfile.FileInfo{BlockSize: 4096, Links: 1}))
	case userfile.OpRequest:
		return t.fileRequest(msg)
	case userfile.OpWait:
		return t.fileWait(msg)
	case userfile.OpUnwait:
		t.fileUnwait(msg)
		return nil
	default:
		t.logger.WithField("op", msg.ID).Warn("Unknown file operation")
		return nil
	}
}

// sendFile sends a reply on the slave connection. A reply to an operation
// its caller has abandoned is dropped without error.
func (t *Terminal) sendFile(reply *ipc.Message) error {
	err := t.slaveConn.Send(reply)
	if err == nil || errors.Is(err, ipc.ErrCancelled) {
		return nil
	}
	return err
}

func (t *Terminal) fileWrite(msg *ipc.Message) error {
	data := userfile.WriteData(msg)

	transferred := 0
	st := t.sendOutput(data)
	if st == status.Success {
		transferred = len(data)
		t.stats.outputBytes.Add(uint64(transferred))
		t.metrics.Output(transferred)
	}

	return t.sendFile(userfile.WriteReply(userfile.Serial(msg), st, transferred))
}

// sendOutput forwards bytes to the master as an OUTPUT signal.
func (t *Terminal) sendOutput(data []byte) status.Status {
	out := make([]byte, len(data))
	copy(out, data)

	if err := t.master.Send(ipc.NewSignal(SignalOutput, out)); err != nil {
		t.logger.WithError(err).Warn("Failed to send output")
		if errors.Is(err, ipc.ErrNoMemory) {
			return status.NoMemory
		}
		return status.DeviceError
	}
	return status.Success
}
