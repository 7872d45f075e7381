// Package wire carries ipc messages over byte-stream and websocket
// connections so that masters and slave users can live in other processes.
//
// Every frame holds one message: a fixed little-endian header, an optional
// handle token and the data section. Data larger than the codec's threshold
// is zstd compressed. Handles cannot cross a process boundary, so an attached
// handle travels as a token naming the file and the access it grants; the
// receiving side uses it to open a slave session.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/srg/terminald/internal/ipc"
)

const (
	frameMagic   uint16 = 0x7464
	frameVersion uint8  = 1

	// HeaderSize is the encoded size of a frame header.
	HeaderSize = 2 + 1 + 1 + 4 + 8 + 8*ipc.ArgCount + 1 + 1 + 2 + 4 + 4

	// MaxDataSize bounds the decoded data section of a frame.
	MaxDataSize = 1 << 20

	// MaxTokenSize bounds an encoded handle token.
	MaxTokenSize = 4 + 255
)

const (
	flagCompressed uint8 = 1 << 0
	flagHandle     uint8 = 1 << 1
)

var (
	ErrBadMagic   = errors.New("wire: bad frame magic")
	ErrBadVersion = errors.New("wire: unsupported frame version")
	ErrTruncated  = errors.New("wire: truncated frame")
	ErrTooLarge   = errors.New("wire: frame too large")
)

// HandleToken stands in for a handle on the far side of a connection.
type HandleToken struct {
	File   string
	Access uint32
}

var _ ipc.Handle = HandleToken{}

func (h HandleToken) Name() string {
	return h.File
}

// Close is a no-op; a token owns nothing.
func (h HandleToken) Close() error {
	return nil
}

// accessor is implemented by handles that know their access rights.
type accessor interface {
	Access() uint32
}

// Codec encodes and decodes frames. It is safe for concurrent use.
type Codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec creates a codec that compresses data sections longer than
// threshold bytes. A threshold of zero or less disables compression, though
// compressed frames are still accepted.
func NewCodec(threshold int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDataSize))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Codec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

// Close releases the compressor state.
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

// Encode serialises msg into a single frame.
func (c *Codec) Encode(msg *ipc.Message) ([]byte, error) {
	if len(msg.Data) > MaxDataSize {
		return nil, ErrTooLarge
	}

	var flags uint8
	var token []byte
	if msg.Handle != nil {
		name := msg.Handle.Name()
		if len(name) > MaxTokenSize-4 {
			return nil, ErrTooLarge
		}

		var access uint32
		if a, ok := msg.Handle.(accessor); ok {
			access = a.Access()
		}

		token = make([]byte, 4+len(name))
		binary.LittleEndian.PutUint32(token, access)
		copy(token[4:], name)
		flags |= flagHandle
	}

	data := msg.Data
	if c.threshold > 0 && len(data) > c.threshold {
		data = c.encoder.EncodeAll(msg.Data, make([]byte, 0, len(msg.Data)/2))
		flags |= flagCompressed
	}

	buf := make([]byte, HeaderSize+len(token)+len(data))
	binary.LittleEndian.PutUint16(buf[0:], frameMagic)
	buf[2] = frameVersion
	buf[3] = uint8(msg.Kind)
	binary.LittleEndian.PutUint32(buf[4:], msg.ID)
	binary.LittleEndian.PutUint64(buf[8:], msg.Serial)

	off := 16
	for _, arg := range msg.Args {
		binary.LittleEndian.PutUint64(buf[off:], arg)
		off += 8
	}

	buf[off] = flags
	buf[off+1] = 0
	binary.LittleEndian.PutUint16(buf[off+2:], uint16(len(token)))
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(len(msg.Data)))
	off += 12

	copy(buf[off:], token)
	copy(buf[off+len(token):], data)
	return buf, nil
}

// Decode parses a frame produced by Encode. An attached handle is returned
// as a HandleToken.
func (c *Codec) Decode(frame []byte) (*ipc.Message, error) {
	if len(frame) < HeaderSize {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint16(frame[0:]) != frameMagic {
		return nil, ErrBadMagic
	}
	if frame[2] != frameVersion {
		return nil, ErrBadVersion
	}

	msg := &ipc.Message{
		Kind:   ipc.Kind(frame[3]),
		ID:     binary.LittleEndian.Uint32(frame[4:]),
		Serial: binary.LittleEndian.Uint64(frame[8:]),
	}

	off := 16
	for i := range msg.Args {
		msg.Args[i] = binary.LittleEndian.Uint64(frame[off:])
		off += 8
	}

	flags := frame[off]
	tokenLen := int(binary.LittleEndian.Uint16(frame[off+2:]))
	dataLen := int(binary.LittleEndian.Uint32(frame[off+4:]))
	rawLen := int(binary.LittleEndian.Uint32(frame[off+8:]))
	off += 12

	if rawLen > MaxDataSize || tokenLen > MaxTokenSize {
		return nil, ErrTooLarge
	}
	if len(frame) != off+tokenLen+dataLen {
		return nil, ErrTruncated
	}

	if flags&flagHandle != 0 {
		if tokenLen < 4 {
			return nil, ErrTruncated
		}
		token := frame[off : off+tokenLen]
		msg.Handle = HandleToken{
			File:   string(token[4:]),
			Access: binary.LittleEndian.Uint32(token),
		}
	}
	off += tokenLen

	data := frame[off:]
	switch {
	case flags&flagCompressed != 0:
		raw, err := c.decoder.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decompress data: %w", err)
		}
		if len(raw) != rawLen {
			return nil, fmt.Errorf("wire: decompressed %d bytes, header says %d", len(raw), rawLen)
		}
		msg.Data = raw
	case dataLen > 0:
		msg.Data = append([]byte(nil), data...)
	}

	return msg, nil
}
