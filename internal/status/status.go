// Package status defines the kernel status codes exchanged over message
// connections and user-file replies.
//
// A Status is an error, so handlers can return it directly and callers can
// compare with errors.Is. Success is the zero value and is never returned as
// a non-nil error by the helpers in this module.
package status

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status is a kernel status code.
type Status uint32

// Kernel status codes. The numbering is part of the wire format.
const (
	Success        Status = 0
	NotImplemented Status = 1
	NotSupported   Status = 2
	WouldBlock     Status = 3
	Interrupted    Status = 4
	TimedOut       Status = 5
	InvalidArg     Status = 7
	InvalidHandle  Status = 8
	InvalidRequest Status = 10
	InvalidEvent   Status = 11
	NoMemory       Status = 13
	PermDenied     Status = 18
	AccessDenied   Status = 19
	NotFound       Status = 24
	AlreadyExists  Status = 26
	InUse          Status = 35
	DeviceError    Status = 36
	TryAgain       Status = 42
	ConnHungUp     Status = 45
	Cancelled      Status = 46
)

var names = map[Status]string{
	Success:        "success",
	NotImplemented: "not implemented",
	NotSupported:   "not supported",
	WouldBlock:     "would block",
	Interrupted:    "interrupted",
	TimedOut:       "timed out",
	InvalidArg:     "invalid argument",
	InvalidHandle:  "invalid handle",
	InvalidRequest: "invalid request",
	InvalidEvent:   "invalid event",
	NoMemory:       "out of memory",
	PermDenied:     "permission denied",
	AccessDenied:   "access denied",
	NotFound:       "not found",
	AlreadyExists:  "already exists",
	InUse:          "in use",
	DeviceError:    "device error",
	TryAgain:       "try again",
	ConnHungUp:     "connection hung up",
	Cancelled:      "cancelled",
}

func (s Status) Error() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", uint32(s))
}

// String returns the same text as Error.
func (s Status) String() string {
	return s.Error()
}

// OK reports whether s is Success.
func (s Status) OK() bool {
	return s == Success
}

// Err returns nil for Success and s otherwise.
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return s
}

// Of maps an error to a status code. Wrapped statuses are preserved and any
// other error is reported as DeviceError.
func Of(err error) Status {
	if err == nil {
		return Success
	}

	var s Status
	if errors.As(err, &s) {
		return s
	}

	return DeviceError
}

// Errno translates a status to the POSIX errno a libc would surface.
func (s Status) Errno() unix.Errno {
	switch s {
	case Success:
		return 0
	case NotImplemented, NotSupported:
		return unix.ENOSYS
	case WouldBlock, TryAgain:
		return unix.EAGAIN
	case Interrupted, Cancelled:
		return unix.EINTR
	case TimedOut:
		return unix.ETIMEDOUT
	case InvalidArg, InvalidEvent:
		return unix.EINVAL
	case InvalidHandle:
		return unix.EBADF
	case InvalidRequest:
		return unix.ENOTTY
	case NoMemory:
		return unix.ENOMEM
	case PermDenied:
		return unix.EPERM
	case AccessDenied:
		return unix.EACCES
	case NotFound:
		return unix.ESRCH
	case AlreadyExists:
		return unix.EEXIST
	case InUse:
		return unix.EBUSY
	case ConnHungUp:
		return unix.EPIPE
	default:
		return unix.EIO
	}
}
