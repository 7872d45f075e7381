package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// FrameConn moves whole frames over a connection. ReadFrame is called from
// one goroutine and WriteFrame from another.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// maxFrameSize bounds a frame on any transport.
const maxFrameSize = HeaderSize + MaxTokenSize + MaxDataSize

// streamConn frames a byte stream with a little-endian uint32 length prefix.
type streamConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStreamConn frames conn with length prefixes.
func NewStreamConn(conn net.Conn) FrameConn {
	return &streamConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *streamConn) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.reader, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, ErrTooLarge
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(s.reader, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *streamConn) WriteFrame(frame []byte) error {
	if len(frame) > maxFrameSize {
		return ErrTooLarge
	}

	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write(buf)
	return err
}

func (s *streamConn) Close() error {
	return s.conn.Close()
}

// webSocketConn sends each frame as one binary websocket message.
type webSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketConn frames conn with websocket binary messages.
func NewWebSocketConn(conn *websocket.Conn) FrameConn {
	conn.SetReadLimit(maxFrameSize)
	return &webSocketConn{conn: conn}
}

func (w *webSocketConn) ReadFrame() ([]byte, error) {
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
		// Text messages carry nothing for us.
	}
}

func (w *webSocketConn) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *webSocketConn) Close() error {
	w.mu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
	return w.conn.Close()
}

// ErrNoCredentials is returned for connections that cannot report a peer.
var ErrNoCredentials = errors.New("wire: peer credentials unavailable")

// PeerPID returns the process id of the peer of a Unix socket connection.
func PeerPID(conn net.Conn) (int32, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, ErrNoCredentials
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("failed to access socket: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to access socket: %w", err)
	}
	if credErr != nil {
		return 0, fmt.Errorf("failed to read peer credentials: %w", credErr)
	}
	return cred.Pid, nil
}
