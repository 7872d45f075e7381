// Package console attaches the local terminal to a remote terminald
// terminal. Keystrokes are polled from the input file and handed to an
// InputFunc. Output is queued in a ring buffer and flushed by a background
// goroutine, so a slow local terminal never stalls the connection.
//
// # Poll Timeout Tuning
//
// The poll timeout bounds how long the input loop sleeps before checking
// for cancellation. Interactive use is fine with the default; lower it for
// faster detach, raise it to reduce idle wakeups.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/termios"
)

const (
	// DefaultPollTimeoutMs is the input poll timeout used when Options
	// leaves it zero.
	DefaultPollTimeoutMs = 50

	// DefaultOutputCap is the output ring capacity in bytes.
	DefaultOutputCap = 64 * 1024
)

var (
	// ErrNotTerminal is returned by operations that need a tty input.
	ErrNotTerminal = errors.New("console input is not a terminal")
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// InputFunc delivers bytes typed on the console. It runs on the input
// goroutine; returning an error stops the console.
type InputFunc func(ctx context.Context, data []byte) error

// ResizeFunc is told about every window size change of the console.
type ResizeFunc func(ws termios.Winsize)

// Options configures a Console.
type Options struct {
	In  *os.File  // keystrokes; usually os.Stdin
	Out io.Writer // terminal output; usually os.Stdout

	OutputCap     int // output ring capacity (0 = DefaultOutputCap)
	PollTimeoutMs int // input poll timeout (0 = DefaultPollTimeoutMs)

	OnResize ResizeFunc
	Logger   *logrus.Logger
}

// Stats holds console counters.
type Stats struct {
	OutputQueueLen int
	OutputQueueCap int

	DroppedOutput uint64 // bytes lost to a full output ring
	InputBytes    uint64
	OutputBytes   uint64 // bytes written to Out
}

// Console bridges a local terminal and a remote one.
type Console struct {
	in     *os.File
	out    io.Writer
	logger *logrus.Logger

	onResize      ResizeFunc
	pollTimeoutMs int

	outBuf    *ringbuffer.RingBuffer
	outNotify chan struct{}

	droppedOutput atomic.Uint64
	inputBytes    atomic.Uint64
	outputBytes   atomic.Uint64

	mu      sync.Mutex
	restore *term.State

	closed atomic.Bool
}

// New creates a console. Nothing runs until Run is called.
func New(opts Options) (*Console, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, fmt.Errorf("console requires input and output")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	capacity := opts.OutputCap
	if capacity == 0 {
		capacity = DefaultOutputCap
	}

	pollTimeout := opts.PollTimeoutMs
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeoutMs
	}

	return &Console{
		in:            opts.In,
		out:           opts.Out,
		logger:        logger,
		onResize:      opts.OnResize,
		pollTimeoutMs: pollTimeout,
		outBuf:        ringbuffer.New(capacity),
		outNotify:     make(chan struct{}, 1),
	}, nil
}

// IsTerminal reports whether the console input is a tty.
func (c *Console) IsTerminal() bool {
	return term.IsTerminal(int(c.in.Fd()))
}

// MakeRaw puts the input terminal into raw mode until Restore. Line editing
// is then left to the remote terminal's discipline.
func (c *Console) MakeRaw() error {
	if !c.IsTerminal() {
		return ErrNotTerminal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.restore != nil {
		return nil
	}

	state, err := term.MakeRaw(int(c.in.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set console to raw mode: %w", err)
	}
	c.restore = state
	return nil
}

// Restore undoes MakeRaw. It is safe to call without MakeRaw.
func (c *Console) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.restore == nil {
		return nil
	}

	err := term.Restore(int(c.in.Fd()), c.restore)
	c.restore = nil
	return err
}

// Size returns the console's window size.
func (c *Console) Size() (termios.Winsize, error) {
	ws, err := pty.GetsizeFull(c.in)
	if err != nil {
		return termios.Winsize{}, fmt.Errorf("failed to read console size: %w", err)
	}
	return termios.Winsize{Row: ws.Rows, Col: ws.Cols}, nil
}

// Write queues terminal output. It never blocks; bytes that do not fit in
// the ring are dropped and counted.
func (c *Console) Write(data []byte) (int, error) {
	if c.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := c.outBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return written, err
	}

	if written < len(data) {
		dropped := len(data) - written
		c.droppedOutput.Add(uint64(dropped))
		c.logger.Warnf("Console output overflow: dropped %d of %d bytes", dropped, len(data))
	}

	if written > 0 {
		select {
		case c.outNotify <- struct{}{}:
		default:
		}
	}
	return written, nil
}

// Run pumps the console until ctx is done, input reaches end of file or
// input fails. Output queued with Write is flushed throughout.
func (c *Console) Run(ctx context.Context, input InputFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	groutine.Go(ctx, "console-output", func(ctx context.Context) {
		defer wg.Done()
		c.outputLoop(ctx)
	})

	if c.onResize != nil && c.IsTerminal() {
		wg.Add(1)
		groutine.Go(ctx, "console-resize", func(ctx context.Context) {
			defer wg.Done()
			c.resizeLoop(ctx)
		})
	}

	err := c.inputLoop(ctx, input)
	cancel()
	wg.Wait()
	c.flush()
	return err
}

// Close stops accepting output.
func (c *Console) Close() error {
	c.closed.Store(true)
	return c.Restore()
}

// Stats returns instantaneous counters.
func (c *Console) Stats() Stats {
	return Stats{
		OutputQueueLen: c.outBuf.Length(),
		OutputQueueCap: c.outBuf.Capacity(),
		DroppedOutput:  c.droppedOutput.Load(),
		InputBytes:     c.inputBytes.Load(),
		OutputBytes:    c.outputBytes.Load(),
	}
}

func (c *Console) inputLoop(ctx context.Context, input InputFunc) error {
	fd := int(c.in.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		nReady, err := unix.Poll(pollFd, c.pollTimeoutMs)
		if errors.Is(err, syscall.EINTR) || nReady == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("console poll failed: %w", err)
		}

		n, err := c.in.Read(buf)
		if n > 0 {
			c.inputBytes.Add(uint64(n))
			if err := input(ctx, buf[:n]); err != nil {
				return err
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EAGAIN):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
				// EIO: the tty was hung up.
				c.logger.Debug("Console input reached end of file")
				return nil
			default:
				return fmt.Errorf("console read failed: %w", err)
			}
		}
	}
}

func (c *Console) outputLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.outNotify:
			c.flush()
		}
	}
}

// flush writes everything queued so far to the output.
func (c *Console) flush() {
	buf := make([]byte, 4096)

	for {
		n, err := c.outBuf.TryRead(buf)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			return
		}

		written, err := c.out.Write(buf[:n])
		c.outputBytes.Add(uint64(written))
		if err != nil {
			c.logger.WithError(err).Warn("Console output failed")
			return
		}
	}
}

func (c *Console) resizeLoop(ctx context.Context) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	// Report the starting size too.
	winch <- syscall.SIGWINCH

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			ws, err := c.Size()
			if err != nil {
				c.logger.WithError(err).Debug("Ignoring resize")
				continue
			}
			c.onResize(ws)
		}
	}
}
