// Package userfile implements the user-file mechanism: file objects whose
// operations are served by a user-space process over a message connection.
//
// Every operation on a user file is delivered to the serving endpoint as a
// message carrying a serial number. The server replies with the same serial;
// replies may be sent in any order. If the operation was abandoned by the
// caller in the meantime, the reply send fails with status.Cancelled and the
// server must not assume the data was consumed.
package userfile

import (
	"encoding/binary"
	"fmt"
)

// Operation ids, used as the message ID.
const (
	OpRead    uint32 = 0
	OpWrite   uint32 = 1
	OpInfo    uint32 = 2
	OpRequest uint32 = 3
	OpWait    uint32 = 4
	OpUnwait  uint32 = 5
)

// Supported operation bits advertised at creation.
const (
	SupportsRead    uint64 = 1 << OpRead
	SupportsWrite   uint64 = 1 << OpWrite
	SupportsInfo    uint64 = 1 << OpInfo
	SupportsRequest uint64 = 1 << OpRequest
	SupportsWait    uint64 = 1 << OpWait
	SupportsUnwait  uint64 = 1 << OpUnwait
)

// Message argument indices.
const (
	ArgSerial = 0
	ArgFlags  = 1

	ArgReadSize        = 2
	ArgReadStatus      = 1
	ArgReadTransferred = 2

	ArgWriteSize        = 2
	ArgWriteStatus      = 1
	ArgWriteTransferred = 2

	ArgRequestNum     = 2
	ArgRequestProcess = 3
	ArgRequestStatus  = 1

	ArgEventNum    = 2
	ArgEventSerial = 3
	ArgEventStatus = 1

	// ArgInline is the first argument word used for inline payloads.
	ArgInline = 3
)

// InlineDataMax is the largest payload carried in argument words.
const InlineDataMax = 3 * 8

// File events for OpWait/OpUnwait.
const (
	EventReadable uint64 = 0
	EventWritable uint64 = 1
)

// Handle flags.
const (
	FlagNonblock uint64 = 1 << 0
)

// Access rights.
const (
	AccessRead  uint32 = 1 << 0
	AccessWrite uint32 = 1 << 1
)

// FileType is the type a user file is published as.
type FileType uint32

const (
	TypeRegular FileType = iota + 1
	TypeDir
	TypeSymlink
	TypeBlock
	TypeChar
	TypePipe
	TypeSocket
)

// FileInfoSize is the encoded size of a FileInfo.
const FileInfoSize = 8*3 + 4*2 + 8*3

// FileInfo is the reply payload of OpInfo.
type FileInfo struct {
	ID        uint64
	Mount     uint64
	Size      uint64
	Type      FileType
	BlockSize uint32
	Links     uint64
	Created   uint64
	Accessed  uint64
}

// MarshalBinary encodes the info in its fixed little-endian layout.
func (fi FileInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FileInfoSize)
	binary.LittleEndian.PutUint64(buf[0:], fi.ID)
	binary.LittleEndian.PutUint64(buf[8:], fi.Mount)
	binary.LittleEndian.PutUint64(buf[16:], fi.Size)
	binary.LittleEndian.PutUint32(buf[24:], uint32(fi.Type))
	binary.LittleEndian.PutUint32(buf[28:], fi.BlockSize)
	binary.LittleEndian.PutUint64(buf[32:], fi.Links)
	binary.LittleEndian.PutUint64(buf[40:], fi.Created)
	binary.LittleEndian.PutUint64(buf[48:], fi.Accessed)
	return buf, nil
}

// UnmarshalBinary decodes an info payload.
func (fi *FileInfo) UnmarshalBinary(data []byte) error {
	if len(data) != FileInfoSize {
		return fmt.Errorf("file info: want %d bytes, got %d", FileInfoSize, len(data))
	}

	fi.ID = binary.LittleEndian.Uint64(data[0:])
	fi.Mount = binary.LittleEndian.Uint64(data[8:])
	fi.Size = binary.LittleEndian.Uint64(data[16:])
	fi.Type = FileType(binary.LittleEndian.Uint32(data[24:]))
	fi.BlockSize = binary.LittleEndian.Uint32(data[28:])
	fi.Links = binary.LittleEndian.Uint64(data[32:])
	fi.Created = binary.LittleEndian.Uint64(data[40:])
	fi.Accessed = binary.LittleEndian.Uint64(data[48:])
	return nil
}

// PackInline stores data (at most InlineDataMax bytes) in args starting at
// ArgInline.
func PackInline(args []uint64, data []byte) {
	var buf [InlineDataMax]byte
	copy(buf[:], data)

	for i := 0; i < InlineDataMax/8; i++ {
		args[ArgInline+i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
}

// UnpackInline extracts size bytes packed by PackInline.
func UnpackInline(args []uint64, size int) []byte {
	if size > InlineDataMax {
		size = InlineDataMax
	}

	var buf [InlineDataMax]byte
	for i := 0; i < InlineDataMax/8; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], args[ArgInline+i])
	}

	out := make([]byte, size)
	copy(out, buf[:size])
	return out
}
