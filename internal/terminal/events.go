package terminal

import (
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
)

func (t *Terminal) fileWait(msg *ipc.Message) error {
	serial := userfile.Serial(msg)
	event := msg.Args[userfile.ArgEventNum]

	switch event {
	case userfile.EventReadable:
		if !t.isReadable() {
			t.readEvents.Set(serial, struct{}{})
			return nil
		}
		return t.sendFile(userfile.EventReply(serial, event, status.Success))
	case userfile.EventWritable:
		// Output is never buffered, so the slave is always writable.
		return t.sendFile(userfile.EventReply(serial, event, status.Success))
	default:
		return t.sendFile(userfile.EventReply(serial, event, status.InvalidEvent))
	}
}

func (t *Terminal) fileUnwait(msg *ipc.Message) {
	if msg.Args[userfile.ArgEventNum] == userfile.EventReadable {
		t.readEvents.Delete(msg.Args[userfile.ArgEventSerial])
	}
}

// signalReadEvents completes every readable waiter if the terminal is
// readable, newest first.
func (t *Terminal) signalReadEvents() {
	if !t.isReadable() {
		return
	}

	for pair := t.readEvents.Newest(); pair != nil; pair = t.readEvents.Newest() {
		serial := pair.Key
		t.readEvents.Delete(serial)

		err := t.sendFile(userfile.EventReply(serial, userfile.EventReadable, status.Success))
		if err != nil {
			t.logger.WithError(err).WithField("serial", serial).Warn("Failed to send file message")
		}
	}
}
