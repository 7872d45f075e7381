package terminal

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
)

func (t *Terminal) fileRead(msg *ipc.Message) {
	// No read can return more than the ring holds.
	size := msg.Args[userfile.ArgReadSize]
	if size > ringCapacity {
		size = ringCapacity
	}

	op := pendingRead{
		serial:   userfile.Serial(msg),
		size:     int(size),
		canon:    t.termios.LocalSet(termios.ICANON),
		nonblock: msg.Args[userfile.ArgFlags]&userfile.FlagNonblock != 0,
	}

	if op.size == 0 {
		t.completeRead(op, status.Success, nil, 0, 0)
		return
	}

	if !t.readBuffer(op) {
		t.reads = append(t.reads, op)
		t.metrics.ReadQueued()
	}
}

// readBuffer tries to satisfy op from the input ring and reports whether the
// read is finished with, which includes a reply that could not be sent.
//
// A canonical read returns at most one line and may return less than asked
// for once a line is available. A non-blocking read always completes, short
// if need be.
func (t *Terminal) readBuffer(op pendingRead) bool {
	var allAvailable bool
	if op.canon {
		allAvailable = t.ring.lines > 0
	} else {
		allAvailable = t.ring.size >= op.size
	}

	if !op.nonblock && !allAvailable {
		return false
	}

	st := status.WouldBlock
	if allAvailable {
		st = status.Success
	}

	// A canonical read cannot return anything without a whole line.
	n := 0
	if !op.canon || allAvailable {
		n = min(op.size, t.ring.size)
	}

	data := make([]byte, 0, n)
	consumed, lines := 0, 0
	for consumed < n {
		ch := t.ring.at(consumed)
		consumed++

		if ch&tagNewLine != 0 {
			lines++

			if op.canon {
				// Newlines are returned, EOF is not.
				if ch&tagEOF == 0 {
					data = append(data, byte(ch))
				}
				break
			}
		}

		data = append(data, byte(ch))
	}

	t.completeRead(op, st, data, consumed, lines)
	return true
}

// completeRead replies to op and, only once the reply is delivered, removes
// the slots it covered from the ring.
func (t *Terminal) completeRead(op pendingRead, st status.Status, data []byte, consumed, lines int) {
	err := t.slaveConn.Send(userfile.ReadReply(op.serial, st, data))
	switch {
	case err == nil:
		t.ring.discard(consumed, lines)
		t.stats.readsCompleted.Add(1)
		t.metrics.ReadCompleted(st.String())
	case errors.Is(err, ipc.ErrCancelled):
		t.logger.WithField("serial", op.serial).Debug("Read cancelled before completion")
	default:
		t.logger.WithError(err).WithFields(logrus.Fields{
			"serial": op.serial,
			"op":     userfile.OpRead,
		}).Warn("Failed to send file message")
	}
}

// scheduleReads completes every pending read the ring can now satisfy.
func (t *Terminal) scheduleReads() {
	kept := t.reads[:0]
	for _, op := range t.reads {
		if !t.readBuffer(op) {
			kept = append(kept, op)
		}
	}
	t.reads = kept
}

func (t *Terminal) isReadable() bool {
	if t.termios.LocalSet(termios.ICANON) {
		return t.ring.lines > 0
	}
	return t.ring.size > 0
}
