package terminal

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/terminald/internal/termios"
)

// addInput runs one raw input byte through the line discipline.
func (t *Terminal) addInput(value byte) {
	ch := uint16(value)
	tio := &t.termios

	if tio.InputSet(termios.ISTRIP) {
		ch &= 0x7f
	}

	// VLNEXT is the only extended processing supported.
	if tio.LocalSet(termios.IEXTEN) {
		if t.escaped {
			ch |= tagEscaped
			t.escaped = false
		} else if t.isControl(ch, termios.VLNEXT) {
			t.escaped = true
			return
		}
	}

	switch ch {
	case '\r':
		if tio.InputSet(termios.IGNCR) {
			return
		} else if tio.InputSet(termios.ICRNL) {
			ch = '\n'
		}
	case '\n':
		if tio.InputSet(termios.INLCR) {
			ch = '\r'
		}
	}

	if ch&tagEscaped == 0 {
		if tio.InputSet(termios.IXON) && t.isControl(ch, termios.VSTOP) {
			t.inhibited = true
			return
		}

		if t.inhibited {
			switch {
			case tio.InputSet(termios.IXANY):
				// Any character restarts output and is kept.
				t.inhibited = false
			case t.isControl(ch, termios.VSTART):
				t.inhibited = false
				return
			default:
				return
			}
		}
	}

	if tio.LocalSet(termios.ICANON) {
		if t.isControl(ch, termios.VERASE) {
			if t.ring.eraseLastInLine() {
				if tio.LocalSet(termios.ECHOE) {
					t.echoErase()
				} else {
					t.echo(ch, false)
				}
			}
			return
		}

		if t.isControl(ch, termios.VKILL) {
			if erased := t.ring.eraseLine(); erased > 0 {
				if tio.LocalSet(termios.ECHOE) {
					for ; erased > 0; erased-- {
						t.echoErase()
					}
				}
				if tio.LocalSet(termios.ECHOK) {
					t.echo('\n', true)
				}
			}
			return
		}
	}

	// Without a foreground group INTR and QUIT are ordinary input.
	if tio.LocalSet(termios.ISIG) && t.pgid != 0 {
		if t.isControl(ch, termios.VINTR) {
			t.signalForeground(unix.SIGINT)
			return
		}
		if t.isControl(ch, termios.VQUIT) {
			t.signalForeground(unix.SIGQUIT)
			return
		}
	}

	if ch == '\n' || t.isControl(ch, termios.VEOF) || t.isControl(ch, termios.VEOL) {
		if t.isControl(ch, termios.VEOF) {
			ch |= tagEOF
		}
		ch |= tagNewLine
	}

	if t.ring.full() {
		t.stats.droppedInput.Add(1)
		t.metrics.Dropped(1)
		t.logger.WithField("char", byte(ch)).Debug("Input buffer full, dropping input")
		return
	}

	t.echo(ch, false)
	t.ring.push(ch)

	t.scheduleReads()
	t.signalReadEvents()
}

// isControl reports whether ch is the control character at index. Escaped
// characters and disabled slots never match.
func (t *Terminal) isControl(ch uint16, index int) bool {
	if ch&tagEscaped != 0 || ch == termios.Disabled {
		return false
	}
	return ch == uint16(t.termios.CC[index])
}

// echo copies an input character back to the master. Unless raw, control
// characters other than an unescaped newline, return or tab are shown as ^X.
func (t *Terminal) echo(ch uint16, raw bool) {
	b := byte(ch)

	if !t.termios.LocalSet(termios.ECHO) {
		// Newlines are still echoed when ECHONL and ICANON are both set.
		if b != '\n' || !t.termios.LocalSet(termios.ECHONL|termios.ICANON) {
			return
		}
	}

	buf := []byte{b}
	if !raw && b < ' ' {
		if ch&tagEscaped != 0 || (b != '\n' && b != '\r' && b != '\t') {
			buf = []byte{'^', '@' + b}
		}
	}

	t.stats.echoBytes.Add(uint64(len(buf)))
	t.metrics.Echo(len(buf))
	t.sendOutput(buf)
}

func (t *Terminal) echoErase() {
	t.echo('\b', true)
	t.echo(' ', true)
	t.echo('\b', true)
}

// signalForeground delivers sig to the foreground process group.
func (t *Terminal) signalForeground(sig unix.Signal) {
	log := t.logger.WithFields(logrus.Fields{
		"pgid":   t.pgid,
		"signal": unix.SignalName(sig),
	})

	if err := t.sessions.Kill(-t.pgid, sig); err != nil {
		log.WithError(err).Warn("Failed to signal foreground process group")
		return
	}

	t.stats.signals.Add(1)
	t.metrics.Signal(unix.SignalName(sig))
	log.Debug("Signalled foreground process group")
}
