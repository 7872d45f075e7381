// Package session is the POSIX session and process-group service used by
// terminals to resolve session ids, deliver signals, register controlling
// terminals and watch session leaders.
package session

import (
	"golang.org/x/sys/unix"

	"github.com/srg/terminald/internal/userfile"
)

// Service is the session service a terminal talks to.
type Service interface {
	// GetSID returns the session id of process pid.
	GetSID(pid int32) (int32, error)

	// GetPgrpSession returns the session id owning process group pgid.
	GetPgrpSession(pgid int32) (int32, error)

	// SetSessionTerminal sets the controlling terminal of session sid.
	// A nil terminal clears it.
	SetSessionTerminal(sid int32, terminal *userfile.Handle) error

	// OpenProcess opens a handle to process pid that can watch for its death.
	OpenProcess(pid int32) (Process, error)

	// Kill delivers sig to pid; a negative pid targets a process group.
	Kill(pid int32, sig unix.Signal) error
}

// Process is an open process handle.
type Process interface {
	ID() int32

	// Death is closed once the process has exited.
	Death() <-chan struct{}

	Close() error
}
