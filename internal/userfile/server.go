package userfile

import (
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// Serial returns the operation serial carried by a request.
func Serial(req *ipc.Message) uint64 {
	return req.Args[ArgSerial]
}

func newReply(op uint32, serial uint64) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindReply, ID: op, Serial: serial}
	msg.Args[ArgSerial] = serial
	return msg
}

// ReadReply builds the reply completing read serial. Payloads up to
// InlineDataMax bytes travel in the argument words.
func ReadReply(serial uint64, st status.Status, data []byte) *ipc.Message {
	msg := newReply(OpRead, serial)
	msg.Args[ArgReadStatus] = uint64(st)
	msg.Args[ArgReadTransferred] = uint64(len(data))

	if len(data) > InlineDataMax {
		msg.Data = data
	} else if len(data) > 0 {
		PackInline(msg.Args[:], data)
	}
	return msg
}

// WriteData returns the payload of an OpWrite request.
func WriteData(req *ipc.Message) []byte {
	size := int(req.Args[ArgWriteSize])
	if size > InlineDataMax {
		return req.Data
	}
	return UnpackInline(req.Args[:], size)
}

// WriteReply builds the reply completing write serial.
func WriteReply(serial uint64, st status.Status, transferred int) *ipc.Message {
	msg := newReply(OpWrite, serial)
	msg.Args[ArgWriteStatus] = uint64(st)
	msg.Args[ArgWriteTransferred] = uint64(transferred)
	return msg
}

// InfoReply builds the reply completing info serial.
func InfoReply(serial uint64, info FileInfo) *ipc.Message {
	msg := newReply(OpInfo, serial)
	msg.Data, _ = info.MarshalBinary()
	return msg
}

// RequestReply builds the reply completing request serial. Non-success
// statuses never carry a payload.
func RequestReply(serial uint64, st status.Status, out []byte) *ipc.Message {
	msg := newReply(OpRequest, serial)
	msg.Args[ArgRequestStatus] = uint64(st)
	if st == status.Success {
		msg.Data = out
	}
	return msg
}

// EventReply builds the reply completing wait serial for event.
func EventReply(serial uint64, event uint64, st status.Status) *ipc.Message {
	msg := newReply(OpWait, serial)
	msg.Args[ArgEventNum] = event
	msg.Args[ArgEventStatus] = uint64(st)
	return msg
}

// ErrorReply builds a failed reply to operation op. Every operation reports
// its status in the same argument word.
func ErrorReply(op uint32, serial uint64, st status.Status) *ipc.Message {
	msg := newReply(op, serial)
	msg.Args[ArgReadStatus] = uint64(st)
	return msg
}

// ReplyStatus returns the status carried by a reply.
func ReplyStatus(reply *ipc.Message) status.Status {
	return status.Status(reply.Args[ArgReadStatus])
}
