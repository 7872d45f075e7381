package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

func (h *harness) wait(event uint64) uint64 {
	return h.op(userfile.OpWait, map[int]uint64{userfile.ArgEventNum: event}, nil)
}

func TestEvents_Readable(t *testing.T) {
	h := newHarness(t)

	serial := h.wait(userfile.EventReadable)
	assert.Nil(t, h.reply())

	h.input("x")
	assert.Nil(t, h.reply(), "a partial line MUST NOT be readable in canonical mode")

	h.input("\r")
	msg := h.reply()
	require.NotNil(t, msg)
	assert.Equal(t, userfile.OpWait, msg.ID)
	assert.Equal(t, serial, userfile.Serial(msg))
	assert.Equal(t, userfile.EventReadable, msg.Args[userfile.ArgEventNum])
	assert.Equal(t, uint64(status.Success), msg.Args[userfile.ArgEventStatus])
	assert.Equal(t, 0, h.term.readEvents.Len())
}

func TestEvents_ReadableNow(t *testing.T) {
	h := newHarness(t)
	h.term.termios.Lflag &^= termios.ICANON

	h.input("x")
	h.wait(userfile.EventReadable)
	assert.NotNil(t, h.reply())
}

func TestEvents_Writable(t *testing.T) {
	h := newHarness(t)

	h.wait(userfile.EventWritable)
	msg := h.reply()
	require.NotNil(t, msg)
	assert.Equal(t, uint64(status.Success), msg.Args[userfile.ArgEventStatus])
}

func TestEvents_Invalid(t *testing.T) {
	h := newHarness(t)

	h.wait(7)
	msg := h.reply()
	require.NotNil(t, msg)
	assert.Equal(t, uint64(status.InvalidEvent), msg.Args[userfile.ArgEventStatus])
}

func TestEvents_Unwait(t *testing.T) {
	h := newHarness(t)

	serial := h.wait(userfile.EventReadable)
	h.op(userfile.OpUnwait, map[int]uint64{
		userfile.ArgEventNum:    userfile.EventReadable,
		userfile.ArgEventSerial: serial,
	}, nil)
	assert.Equal(t, 0, h.term.readEvents.Len())

	h.input("x\r")
	assert.Nil(t, h.reply())
}

func TestEvents_NewestFirstAfterReads(t *testing.T) {
	h := newHarness(t)

	w1 := h.wait(userfile.EventReadable)
	w2 := h.wait(userfile.EventReadable)
	rd := h.read(1, false)

	h.input("ab\r")

	msg := h.reply()
	require.NotNil(t, msg)
	assert.Equal(t, userfile.OpRead, msg.ID, "pending reads MUST be served before waiters")
	assert.Equal(t, rd, userfile.Serial(msg))

	assert.Equal(t, w2, userfile.Serial(h.reply()))
	assert.Equal(t, w1, userfile.Serial(h.reply()))
}
