package userfile

import (
	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// Operation builders and reply decoders shared by in-process handles and
// remote clients. The serial is filled in by whoever sends the operation.

// ReadOp builds a read of up to size bytes.
func ReadOp(size int, flags uint64) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: OpRead}
	msg.Args[ArgFlags] = flags
	msg.Args[ArgReadSize] = uint64(size)
	return msg
}

// WriteOp builds a write of data. Payloads up to InlineDataMax bytes travel
// in the argument words.
func WriteOp(data []byte, flags uint64) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: OpWrite}
	msg.Args[ArgFlags] = flags
	msg.Args[ArgWriteSize] = uint64(len(data))

	if len(data) > InlineDataMax {
		msg.Data = data
	} else {
		PackInline(msg.Args[:], data)
	}
	return msg
}

// InfoOp builds an info query.
func InfoOp() *ipc.Message {
	return &ipc.Message{Kind: ipc.KindRequest, ID: OpInfo}
}

// RequestOp builds control request code issued by process pid.
func RequestOp(code uint64, pid int32, in []byte) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: OpRequest, Data: in}
	msg.Args[ArgRequestNum] = code
	msg.Args[ArgRequestProcess] = uint64(uint32(pid))
	return msg
}

// WaitOp builds a wait for event.
func WaitOp(event uint64) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: OpWait}
	msg.Args[ArgEventNum] = event
	return msg
}

// UnwaitOp withdraws the wait with serial waitSerial. It has no reply.
func UnwaitOp(event, waitSerial uint64) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindRequest, ID: OpUnwait}
	msg.Args[ArgEventNum] = event
	msg.Args[ArgEventSerial] = waitSerial
	return msg
}

// SetSerial stamps an operation with its serial.
func SetSerial(msg *ipc.Message, serial uint64) {
	msg.Serial = serial
	msg.Args[ArgSerial] = serial
}

// ReadOpSize returns the size and flags of a read operation.
func ReadOpSize(msg *ipc.Message) (int, uint64) {
	return int(msg.Args[ArgReadSize]), msg.Args[ArgFlags]
}

// RequestOpArgs returns the code, issuing process and input of a request
// operation.
func RequestOpArgs(msg *ipc.Message) (uint64, int32, []byte) {
	return msg.Args[ArgRequestNum], int32(uint32(msg.Args[ArgRequestProcess])), msg.Data
}

// ParseRead decodes a read reply. A non-nil error may accompany data: a
// short non-blocking read returns its bytes with status.WouldBlock.
func ParseRead(reply *ipc.Message) ([]byte, error) {
	transferred := int(reply.Args[ArgReadTransferred])

	var data []byte
	if transferred > InlineDataMax {
		data = reply.Data
	} else if transferred > 0 {
		data = UnpackInline(reply.Args[:], transferred)
	}
	return data, ReplyStatus(reply).Err()
}

// ParseWrite decodes a write reply.
func ParseWrite(reply *ipc.Message) (int, error) {
	return int(reply.Args[ArgWriteTransferred]), ReplyStatus(reply).Err()
}

// ParseInfo decodes an info reply.
func ParseInfo(reply *ipc.Message) (FileInfo, error) {
	var info FileInfo
	if err := ReplyStatus(reply).Err(); err != nil {
		return info, err
	}
	if err := info.UnmarshalBinary(reply.Data); err != nil {
		return info, status.DeviceError
	}
	return info, nil
}

// ParseRequest decodes a control request reply.
func ParseRequest(reply *ipc.Message) ([]byte, error) {
	if err := ReplyStatus(reply).Err(); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// ParseEvent decodes a wait reply.
func ParseEvent(reply *ipc.Message) error {
	return ReplyStatus(reply).Err()
}
