package terminal

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

func (t *Terminal) fileRequest(msg *ipc.Message) error {
	code := msg.Args[userfile.ArgRequestNum]
	caller := int32(uint32(msg.Args[userfile.ArgRequestProcess]))

	out, st := t.dispatch(code, caller, msg.Data)

	t.metrics.Request(termios.RequestName(code), st.String())
	t.logger.WithFields(logrus.Fields{
		"request": termios.RequestName(code),
		"pid":     caller,
		"status":  st,
	}).Debug("Handled request")

	return t.sendFile(userfile.RequestReply(userfile.Serial(msg), st, out))
}

// dispatch performs control request code on behalf of process caller.
func (t *Terminal) dispatch(code uint64, caller int32, in []byte) ([]byte, status.Status) {
	switch code {
	case termios.TIOCDRAIN:
		// Output is never buffered, there is nothing to wait for.
		return nil, status.Success

	case termios.TCXONC:
		action, err := termios.DecodeInt(in)
		if err != nil {
			return nil, status.InvalidArg
		}

		switch action {
		case termios.TCIOFF:
			t.addInput(t.termios.CC[termios.VSTOP])
			return nil, status.Success
		case termios.TCION:
			t.addInput(t.termios.CC[termios.VSTART])
			return nil, status.Success
		case termios.TCOOFF, termios.TCOON:
			return nil, status.NotImplemented
		default:
			return nil, status.InvalidArg
		}

	case termios.TCFLSH:
		action, err := termios.DecodeInt(in)
		if err != nil {
			return nil, status.InvalidArg
		}

		switch action {
		case termios.TCIFLUSH, termios.TCIOFLUSH:
			t.ring.clear()
			return nil, status.Success
		case termios.TCOFLUSH:
			return nil, status.Success
		default:
			return nil, status.InvalidArg
		}

	case termios.TCGETA:
		out, _ := t.termios.MarshalBinary()
		return out, status.Success

	case termios.TCSETA, termios.TCSETAW, termios.TCSETAF:
		var tio termios.Termios
		if err := tio.UnmarshalBinary(in); err != nil {
			return nil, status.InvalidArg
		}

		// There is no output to drain or flush, only input.
		if code == termios.TCSETAF {
			t.ring.clear()
		}
		t.termios = tio
		return nil, status.Success

	case termios.TIOCGPGRP:
		pgid, st := t.getPgrp(caller)
		if st != status.Success {
			return nil, st
		}
		return termios.EncodeInt(pgid), status.Success

	case termios.TIOCSPGRP:
		pgid, err := termios.DecodeInt(in)
		if err != nil {
			return nil, status.InvalidArg
		}
		return nil, t.setPgrp(caller, pgid)

	case termios.TIOCGWINSZ:
		out, _ := t.winsize.MarshalBinary()
		return out, status.Success

	case termios.TIOCSWINSZ:
		var ws termios.Winsize
		if err := ws.UnmarshalBinary(in); err != nil {
			return nil, status.InvalidArg
		}
		t.winsize = ws
		return nil, status.Success

	default:
		return nil, status.InvalidRequest
	}
}
