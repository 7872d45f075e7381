package terminal

import (
	"encoding/binary"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// Master protocol message ids.
const (
	// RequestOpenHandle asks for a new slave handle; the data is the
	// requested access as a little-endian uint32.
	RequestOpenHandle uint32 = 0

	// RequestInput feeds its data to the line discipline.
	RequestInput uint32 = 1

	// SignalOutput carries bytes for the master to render.
	SignalOutput uint32 = 0
)

// OpenHandleRequest builds an OPEN_HANDLE request.
func OpenHandleRequest(serial uint64, access uint32) *ipc.Message {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, access)
	return ipc.NewRequest(RequestOpenHandle, serial, data)
}

// InputRequest builds an INPUT request.
func InputRequest(serial uint64, data []byte) *ipc.Message {
	return ipc.NewRequest(RequestInput, serial, data)
}

// Result decodes the status of a master reply.
func Result(reply *ipc.Message) status.Status {
	if len(reply.Data) < 4 {
		return status.InvalidArg
	}
	return status.Status(binary.LittleEndian.Uint32(reply.Data))
}

func resultReply(req *ipc.Message, st status.Status) *ipc.Message {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(st))
	return ipc.NewReply(req, data)
}
