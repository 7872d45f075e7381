package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/terminald/internal/groutine"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
)

// DefaultPollTimeoutMs bounds how long a death watch sleeps before checking
// whether it was closed.
const DefaultPollTimeoutMs = 100

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Host implements Service on top of the host kernel's sessions. The host has
// no notion of user-file controlling terminals, so bindings are kept in a
// registry owned by the Host.
type Host struct {
	terminals *hashmap.Map[int32, string]
	logger    *logrus.Logger
}

// NewHost creates a session service backed by the running kernel.
func NewHost(logger *logrus.Logger) *Host {
	if logger == nil {
		logger = noopLogger
	}

	return &Host{
		terminals: hashmap.New[int32, string](),
		logger:    logger,
	}
}

// GetSID resolves the session of pid. Only real process ids are accepted;
// getsid(0) would name the service's own session.
func (h *Host) GetSID(pid int32) (int32, error) {
	if pid <= 0 {
		return 0, status.NotFound
	}

	sid, err := unix.Getsid(int(pid))
	if err != nil {
		return 0, fmt.Errorf("getsid %d: %w", pid, mapErrno(err))
	}
	return int32(sid), nil
}

// GetPgrpSession resolves the session through the group leader, whose pid
// equals the group id. A group whose leader has exited is not found.
func (h *Host) GetPgrpSession(pgid int32) (int32, error) {
	if pgid <= 0 {
		return 0, status.NotFound
	}

	pg, err := unix.Getpgid(int(pgid))
	if err != nil {
		return 0, fmt.Errorf("getpgid %d: %w", pgid, mapErrno(err))
	}
	if int32(pg) != pgid {
		return 0, status.NotFound
	}

	return h.GetSID(pgid)
}

func (h *Host) SetSessionTerminal(sid int32, terminal *userfile.Handle) error {
	if terminal == nil {
		h.terminals.Del(sid)
		h.logger.WithField("sid", sid).Debug("Controlling terminal cleared")
		return nil
	}

	h.terminals.Set(sid, terminal.Name())
	h.logger.WithFields(logrus.Fields{
		"sid":      sid,
		"terminal": terminal.Name(),
	}).Debug("Controlling terminal set")
	return nil
}

// Terminal returns the name of the controlling terminal of session sid.
func (h *Host) Terminal(sid int32) (string, bool) {
	return h.terminals.Get(sid)
}

func (h *Host) Kill(pid int32, sig unix.Signal) error {
	if err := unix.Kill(int(pid), sig); err != nil {
		return fmt.Errorf("kill %d: %w", pid, mapErrno(err))
	}
	return nil
}

func (h *Host) OpenProcess(pid int32) (Process, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		return nil, fmt.Errorf("pidfd_open %d: %w", pid, mapErrno(err))
	}

	p := &hostProcess{
		pid:     pid,
		fd:      fd,
		death:   make(chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	groutine.Go(context.Background(), fmt.Sprintf("death-watch-%d", pid), p.watch)
	return p, nil
}

type hostProcess struct {
	pid       int32
	fd        int
	death     chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (p *hostProcess) ID() int32 {
	return p.pid
}

func (p *hostProcess) Death() <-chan struct{} {
	return p.death
}

// watch polls the pidfd, which becomes readable when the process exits.
func (p *hostProcess) watch(_ context.Context) {
	defer close(p.stopped)

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := unix.Poll(fds, DefaultPollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			close(p.death)
			return
		}
	}
}

func (p *hostProcess) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.stopped
		_ = unix.Close(p.fd)
	})
	return nil
}

func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}

	switch errno {
	case unix.ESRCH:
		return status.NotFound
	case unix.EPERM:
		return status.PermDenied
	case unix.EINVAL:
		return status.InvalidArg
	case unix.ENOMEM:
		return status.NoMemory
	default:
		return err
	}
}
