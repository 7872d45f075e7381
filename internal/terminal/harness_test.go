package terminal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/session/sessiontest"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
)

// sendHook wraps an endpoint so a test can make sends fail.
type sendHook struct {
	ipc.Endpoint
	err error
}

func (s *sendHook) Send(msg *ipc.Message) error {
	if s.err != nil {
		return s.err
	}
	return s.Endpoint.Send(msg)
}

// harness drives a terminal's handlers directly from the test goroutine,
// standing in for the event loop.
type harness struct {
	t        *testing.T
	term     *Terminal
	master   ipc.Endpoint
	slave    ipc.Endpoint
	hook     *sendHook
	sessions *sessiontest.Fake
	serial   uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	masterClient, masterServer := ipc.Pipe(ringCapacity * 2)
	slavePeer, slaveServer := ipc.Pipe(1024)
	kernel := userfile.NewKernel(0, nil)
	fake := sessiontest.NewFake()

	term := New(1, masterServer, Options{Kernel: kernel, Sessions: fake})

	_, handle, err := kernel.Create(term.Name(), userfile.TypeChar,
		userfile.AccessRead|userfile.AccessWrite, SupportedOps)
	require.NoError(t, err, "slave file MUST be created")

	hook := &sendHook{Endpoint: slaveServer}
	term.slave = handle
	term.slaveConn = hook

	return &harness{
		t:        t,
		term:     term,
		master:   masterClient,
		slave:    slavePeer,
		hook:     hook,
		sessions: fake,
	}
}

func (h *harness) input(s string) {
	for i := 0; i < len(s); i++ {
		h.term.addInput(s[i])
	}
}

// echoes returns each OUTPUT signal sent since the last call.
func (h *harness) echoes() []string {
	var out []string
	for {
		msg, err := h.master.Receive()
		if err != nil {
			return out
		}
		if msg.Kind == ipc.KindSignal && msg.ID == SignalOutput {
			out = append(out, string(msg.Data))
		}
	}
}

func (h *harness) echo() string {
	s := ""
	for _, e := range h.echoes() {
		s += e
	}
	return s
}

func (h *harness) nextSerial() uint64 {
	h.serial++
	return h.serial
}

func (h *harness) op(id uint32, args map[int]uint64, data []byte) uint64 {
	serial := h.nextSerial()
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: id, Serial: serial, Data: data}
	msg.Args[userfile.ArgSerial] = serial
	for i, v := range args {
		msg.Args[i] = v
	}
	require.NoError(h.t, h.term.handleFileMessage(msg))
	return serial
}

func (h *harness) read(size int, nonblock bool) uint64 {
	flags := uint64(0)
	if nonblock {
		flags = userfile.FlagNonblock
	}
	return h.op(userfile.OpRead, map[int]uint64{
		userfile.ArgReadSize: uint64(size),
		userfile.ArgFlags:    flags,
	}, nil)
}

// reply returns the next file reply, or nil if none was sent.
func (h *harness) reply() *ipc.Message {
	msg, err := h.slave.Receive()
	if err != nil {
		return nil
	}
	return msg
}

type readResult struct {
	serial uint64
	status status.Status
	data   string
}

func (h *harness) readReply() *readResult {
	msg := h.reply()
	if msg == nil {
		return nil
	}
	require.Equal(h.t, userfile.OpRead, msg.ID)

	n := int(msg.Args[userfile.ArgReadTransferred])
	data := msg.Data
	if n <= userfile.InlineDataMax {
		data = userfile.UnpackInline(msg.Args[:], n)
	}

	return &readResult{
		serial: userfile.Serial(msg),
		status: status.Status(msg.Args[userfile.ArgReadStatus]),
		data:   string(data),
	}
}

func (h *harness) request(code uint64, pid int32, in []byte) ([]byte, status.Status) {
	h.op(userfile.OpRequest, map[int]uint64{
		userfile.ArgRequestNum:     code,
		userfile.ArgRequestProcess: uint64(uint32(pid)),
	}, in)

	msg := h.reply()
	require.NotNil(h.t, msg, "request MUST be replied to")
	return msg.Data, status.Status(msg.Args[userfile.ArgRequestStatus])
}

func (h *harness) checkRing() {
	h.t.Helper()
	require.LessOrEqual(h.t, h.term.ring.size, ringCapacity)
	require.Equal(h.t, countLines(&h.term.ring), h.term.ring.lines, "line count MUST match newline tags")
}
