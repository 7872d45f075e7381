package wire

import (
	"errors"
	"fmt"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// HelloID is the message id of the handshake request and reply.
const HelloID uint32 = 0xffff

// SignalCancel withdraws a slave operation; its serial names the operation.
const SignalCancel uint32 = 0xfffe

// Role says what a connection is for.
type Role uint32

const (
	// RoleMaster creates a new terminal driven by the connection.
	RoleMaster Role = iota + 1

	// RoleSlave attaches to an existing terminal's slave file.
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return fmt.Sprintf("role(%d)", uint32(r))
	}
}

// Hello is the first frame a client sends.
type Hello struct {
	Role Role

	// File and Access select the slave file for RoleSlave.
	File   string
	Access uint32

	// PID is the process the client acts for. Servers prefer the peer
	// credentials of the socket when they are available.
	PID int32
}

// ErrBadHello is returned when the first frame is not a handshake.
var ErrBadHello = errors.New("wire: expected hello")

const (
	argHelloRole   = 0
	argHelloAccess = 1
	argHelloPID    = 2
	argHelloStatus = 0
)

// Message encodes the hello.
func (h Hello) Message() *ipc.Message {
	msg := ipc.NewRequest(HelloID, 0, []byte(h.File))
	msg.Args[argHelloRole] = uint64(h.Role)
	msg.Args[argHelloAccess] = uint64(h.Access)
	msg.Args[argHelloPID] = uint64(uint32(h.PID))
	return msg
}

// ParseHello decodes a hello request.
func ParseHello(msg *ipc.Message) (Hello, error) {
	if msg.Kind != ipc.KindRequest || msg.ID != HelloID {
		return Hello{}, ErrBadHello
	}

	return Hello{
		Role:   Role(msg.Args[argHelloRole]),
		File:   string(msg.Data),
		Access: uint32(msg.Args[argHelloAccess]),
		PID:    int32(uint32(msg.Args[argHelloPID])),
	}, nil
}

// HelloReply answers a hello. For a master the data names the new
// terminal's slave file.
func HelloReply(st status.Status, file string) *ipc.Message {
	msg := &ipc.Message{Kind: ipc.KindReply, ID: HelloID, Data: []byte(file)}
	msg.Args[argHelloStatus] = uint64(st)
	return msg
}

// ParseHelloReply returns the file named by a hello reply, or the status the
// server refused the hello with.
func ParseHelloReply(msg *ipc.Message) (string, error) {
	if msg.Kind != ipc.KindReply || msg.ID != HelloID {
		return "", ErrBadHello
	}
	if err := status.Status(msg.Args[argHelloStatus]).Err(); err != nil {
		return "", err
	}
	return string(msg.Data), nil
}

// Handshake sends hello on fc and waits for the reply. It must be called
// before an Endpoint is started on fc.
func Handshake(fc FrameConn, codec *Codec, hello Hello) (string, error) {
	frame, err := codec.Encode(hello.Message())
	if err != nil {
		return "", err
	}
	if err := fc.WriteFrame(frame); err != nil {
		return "", fmt.Errorf("failed to send hello: %w", err)
	}

	frame, err = fc.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("failed to read hello reply: %w", err)
	}

	reply, err := codec.Decode(frame)
	if err != nil {
		return "", err
	}
	return ParseHelloReply(reply)
}

// AcceptHello reads the client's hello from fc.
func AcceptHello(fc FrameConn, codec *Codec) (Hello, error) {
	frame, err := fc.ReadFrame()
	if err != nil {
		return Hello{}, fmt.Errorf("failed to read hello: %w", err)
	}

	msg, err := codec.Decode(frame)
	if err != nil {
		return Hello{}, err
	}
	return ParseHello(msg)
}

// RefuseHello answers a hello with a failure status directly on fc.
func RefuseHello(fc FrameConn, codec *Codec, st status.Status) error {
	frame, err := codec.Encode(HelloReply(st, ""))
	if err != nil {
		return err
	}
	return fc.WriteFrame(frame)
}
