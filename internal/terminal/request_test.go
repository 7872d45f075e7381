package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

func TestRequest_Drain(t *testing.T) {
	h := newHarness(t)

	out, st := h.request(termios.TIOCDRAIN, 1, nil)
	assert.Equal(t, status.Success, st)
	assert.Empty(t, out)
}

func TestRequest_Flow(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		want   status.Status
		inhibt bool
	}{
		{name: "input off", in: termios.EncodeInt(termios.TCIOFF), want: status.Success, inhibt: true},
		{name: "output off", in: termios.EncodeInt(termios.TCOOFF), want: status.NotImplemented},
		{name: "output on", in: termios.EncodeInt(termios.TCOON), want: status.NotImplemented},
		{name: "bad action", in: termios.EncodeInt(9), want: status.InvalidArg},
		{name: "bad size", in: []byte{1}, want: status.InvalidArg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.term.termios.Iflag |= termios.IXON

			_, st := h.request(termios.TCXONC, 1, tt.in)
			assert.Equal(t, tt.want, st)
			assert.Equal(t, tt.inhibt, h.term.inhibited)
		})
	}
}

func TestRequest_FlowRestart(t *testing.T) {
	h := newHarness(t)
	h.term.termios.Iflag |= termios.IXON

	_, st := h.request(termios.TCXONC, 1, termios.EncodeInt(termios.TCIOFF))
	require.Equal(t, status.Success, st)
	h.input("dropped")
	assert.Equal(t, 0, h.term.ring.size)

	_, st = h.request(termios.TCXONC, 1, termios.EncodeInt(termios.TCION))
	require.Equal(t, status.Success, st)
	assert.False(t, h.term.inhibited)
	assert.Equal(t, 0, h.term.ring.size, "VSTART MUST be consumed")
}

func TestRequest_Flush(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		want  status.Status
		after int
	}{
		{name: "input", in: termios.EncodeInt(termios.TCIFLUSH), want: status.Success, after: 0},
		{name: "both", in: termios.EncodeInt(termios.TCIOFLUSH), want: status.Success, after: 0},
		{name: "output", in: termios.EncodeInt(termios.TCOFLUSH), want: status.Success, after: 3},
		{name: "bad action", in: termios.EncodeInt(0), want: status.InvalidArg, after: 3},
		{name: "bad size", in: nil, want: status.InvalidArg, after: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.input("ab\r")

			_, st := h.request(termios.TCFLSH, 1, tt.in)
			assert.Equal(t, tt.want, st)
			assert.Equal(t, tt.after, h.term.ring.size)
			h.checkRing()
		})
	}
}

func TestRequest_AttrRoundTrip(t *testing.T) {
	h := newHarness(t)

	out, st := h.request(termios.TCGETA, 1, nil)
	require.Equal(t, status.Success, st)

	var got termios.Termios
	require.NoError(t, got.UnmarshalBinary(out))
	assert.Equal(t, termios.Default(), got)

	want := termios.Default()
	want.MakeRaw()
	want.CC[termios.VINTR] = 0x18
	in, _ := want.MarshalBinary()

	h.input("kept\r")
	_, st = h.request(termios.TCSETA, 1, in)
	require.Equal(t, status.Success, st)
	assert.Equal(t, 5, h.term.ring.size, "TCSETA MUST NOT flush input")

	out, st = h.request(termios.TCGETA, 1, nil)
	require.Equal(t, status.Success, st)
	require.NoError(t, got.UnmarshalBinary(out))
	assert.Equal(t, want, got)

	_, st = h.request(termios.TCSETAF, 1, in)
	require.Equal(t, status.Success, st)
	assert.Equal(t, 0, h.term.ring.size, "TCSETAF MUST flush input")

	_, st = h.request(termios.TCSETAW, 1, in[:10])
	assert.Equal(t, status.InvalidArg, st)
}

func TestRequest_Winsize(t *testing.T) {
	h := newHarness(t)

	out, st := h.request(termios.TIOCGWINSZ, 1, nil)
	require.Equal(t, status.Success, st)

	var ws termios.Winsize
	require.NoError(t, ws.UnmarshalBinary(out))
	assert.Equal(t, termios.Winsize{Row: 25, Col: 80}, ws)

	in, _ := termios.Winsize{Row: 50, Col: 132}.MarshalBinary()
	_, st = h.request(termios.TIOCSWINSZ, 1, in)
	require.Equal(t, status.Success, st)

	out, _ = h.request(termios.TIOCGWINSZ, 1, nil)
	require.NoError(t, ws.UnmarshalBinary(out))
	assert.Equal(t, termios.Winsize{Row: 50, Col: 132}, ws)

	_, st = h.request(termios.TIOCSWINSZ, 1, []byte{1, 2, 3})
	assert.Equal(t, status.InvalidArg, st)
}

func TestRequest_Unknown(t *testing.T) {
	h := newHarness(t)

	out, st := h.request(0x5401, 1, []byte("junk"))
	assert.Equal(t, status.InvalidRequest, st)
	assert.Empty(t, out, "failed requests MUST NOT carry a payload")
}

func TestFile_Info(t *testing.T) {
	h := newHarness(t)

	h.op(userfile.OpInfo, nil, nil)
	msg := h.reply()
	require.NotNil(t, msg)

	var info userfile.FileInfo
	require.NoError(t, info.UnmarshalBinary(msg.Data))
	assert.Equal(t, userfile.FileInfo{BlockSize: 4096, Links: 1}, info)
}

func TestFile_Write(t *testing.T) {
	h := newHarness(t)

	payload := []byte("hi from a process\n")
	require.LessOrEqual(t, len(payload), userfile.InlineDataMax)

	serial := h.nextSerial()
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: userfile.OpWrite, Serial: serial}
	msg.Args[userfile.ArgSerial] = serial
	msg.Args[userfile.ArgWriteSize] = uint64(len(payload))
	userfile.PackInline(msg.Args[:], payload)
	require.NoError(t, h.term.handleFileMessage(msg))

	assert.Equal(t, []string{string(payload)}, h.echoes())

	reply := h.reply()
	require.NotNil(t, reply)
	assert.Equal(t, uint64(status.Success), reply.Args[userfile.ArgWriteStatus])
	assert.Equal(t, uint64(len(payload)), reply.Args[userfile.ArgWriteTransferred])
	assert.Equal(t, uint64(len(payload)), h.term.Stats().OutputBytes)
}

func TestFile_WriteMasterGone(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.master.Close())

	serial := h.op(userfile.OpWrite, map[int]uint64{userfile.ArgWriteSize: 100}, make([]byte, 100))

	reply := h.reply()
	require.NotNil(t, reply)
	assert.Equal(t, serial, userfile.Serial(reply))
	assert.Equal(t, uint64(status.DeviceError), reply.Args[userfile.ArgWriteStatus])
	assert.Equal(t, uint64(0), reply.Args[userfile.ArgWriteTransferred], "a failed write MUST transfer nothing")
}
