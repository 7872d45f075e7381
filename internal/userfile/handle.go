package userfile

import (
	"context"
	"sync/atomic"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// Handle is an open reference to a user file. It implements ipc.Handle so it
// can be attached to messages.
type Handle struct {
	obj    *object
	access uint32
	closed atomic.Bool
}

// Name returns the published name of the file.
func (h *Handle) Name() string {
	return h.obj.name
}

// Access returns the access rights the handle was opened with.
func (h *Handle) Access() uint32 {
	return h.access
}

// Type returns the file type the object was published as.
func (h *Handle) Type() FileType {
	return h.obj.typ
}

// Reopen opens another handle to the same object.
func (h *Handle) Reopen(access uint32) (*Handle, error) {
	if h.closed.Load() {
		return nil, status.InvalidHandle
	}
	return h.obj.open(access)
}

// Close releases the handle. The object is destroyed when its last handle
// closes.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return status.InvalidHandle
	}
	h.obj.release()
	return nil
}

func (h *Handle) call(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	if h.closed.Load() {
		return nil, status.InvalidHandle
	}
	if h.obj.ops&(1<<msg.ID) == 0 {
		return nil, status.NotSupported
	}
	if h.obj.isDead() {
		return nil, ipc.ErrHungUp
	}

	serial, ch := h.obj.register()
	SetSerial(msg, serial)

	if err := h.obj.inbox.Put(msg); err != nil {
		h.obj.unregister(serial)
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		if h.obj.unregister(serial) {
			if msg.ID == OpWait {
				// Unwait has no reply; a full queue only delays the server noticing.
				_ = h.obj.inbox.Put(UnwaitOp(msg.Args[ArgEventNum], serial))
			}
			return nil, ctx.Err()
		}
		// The server claimed the operation before we gave up on it.
		return <-ch, nil
	case <-h.obj.dead:
		h.obj.unregister(serial)
		return nil, ipc.ErrHungUp
	}
}

// Read reads up to size bytes. A non-nil error may accompany data: a short
// non-blocking read returns its bytes with status.WouldBlock.
func (h *Handle) Read(ctx context.Context, size int, flags uint64) ([]byte, error) {
	if h.access&AccessRead == 0 {
		return nil, status.AccessDenied
	}

	reply, err := h.call(ctx, ReadOp(size, flags))
	if err != nil {
		return nil, err
	}
	return ParseRead(reply)
}

// Write writes data and returns the number of bytes accepted.
func (h *Handle) Write(ctx context.Context, data []byte, flags uint64) (int, error) {
	if h.access&AccessWrite == 0 {
		return 0, status.AccessDenied
	}

	reply, err := h.call(ctx, WriteOp(data, flags))
	if err != nil {
		return 0, err
	}
	return ParseWrite(reply)
}

// Info returns the file's information.
func (h *Handle) Info(ctx context.Context) (FileInfo, error) {
	reply, err := h.call(ctx, InfoOp())
	if err != nil {
		return FileInfo{}, err
	}

	info, err := ParseInfo(reply)
	if err != nil {
		return info, err
	}
	info.Type = h.obj.typ
	return info, nil
}

// Request performs a file-specific request on behalf of process pid.
func (h *Handle) Request(ctx context.Context, code uint64, pid int32, in []byte) ([]byte, error) {
	reply, err := h.call(ctx, RequestOp(code, pid, in))
	if err != nil {
		return nil, err
	}
	return ParseRequest(reply)
}

// Wait blocks until event is signalled on the file. Cancelling ctx withdraws
// the wait.
func (h *Handle) Wait(ctx context.Context, event uint64) error {
	reply, err := h.call(ctx, WaitOp(event))
	if err != nil {
		return err
	}
	return ParseEvent(reply)
}
