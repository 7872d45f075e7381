// Package termios holds the terminal settings structures and the platform
// constants used by the terminal service: flag bits, control character
// indices, request codes and their binary encodings.
package termios

import (
	"encoding/binary"
	"fmt"
)

// NCCS is the number of control character slots.
const NCCS = 32

// Disabled is _POSIX_VDISABLE: a control character slot holding it never
// matches any input.
const Disabled = 0

// Control character indices.
const (
	VEOF   = 0
	VEOL   = 1
	VERASE = 2
	VINTR  = 3
	VKILL  = 4
	VMIN   = 5
	VQUIT  = 6
	VSTART = 7
	VSTOP  = 8
	VSUSP  = 9
	VTIME  = 10
	VLNEXT = 12
)

// Input flags.
const (
	BRKINT uint32 = 1 << 0
	ICRNL  uint32 = 1 << 1
	IGNBRK uint32 = 1 << 2
	IGNCR  uint32 = 1 << 3
	IGNPAR uint32 = 1 << 4
	INLCR  uint32 = 1 << 5
	INPCK  uint32 = 1 << 6
	ISTRIP uint32 = 1 << 7
	IXANY  uint32 = 1 << 8
	IXOFF  uint32 = 1 << 9
	IXON   uint32 = 1 << 10
	PARMRK uint32 = 1 << 11
)

// Output flags.
const (
	OPOST  uint32 = 1 << 0
	ONLCR  uint32 = 1 << 1
	OCRNL  uint32 = 1 << 2
	ONOCR  uint32 = 1 << 3
	ONLRET uint32 = 1 << 4
	OFILL  uint32 = 1 << 5
)

// Control flags.
const (
	CSIZE  uint32 = 0x0003
	CS5    uint32 = 0x0000
	CS6    uint32 = 0x0001
	CS7    uint32 = 0x0002
	CS8    uint32 = 0x0003
	CSTOPB uint32 = 1 << 2
	CREAD  uint32 = 1 << 3
	PARENB uint32 = 1 << 4
	PARODD uint32 = 1 << 5
	HUPCL  uint32 = 1 << 6
	CLOCAL uint32 = 1 << 7
)

// Local flags.
const (
	ECHO   uint32 = 1 << 0
	ECHOE  uint32 = 1 << 1
	ECHOK  uint32 = 1 << 2
	ECHONL uint32 = 1 << 3
	ICANON uint32 = 1 << 4
	IEXTEN uint32 = 1 << 5
	ISIG   uint32 = 1 << 6
	NOFLSH uint32 = 1 << 7
	TOSTOP uint32 = 1 << 8
)

// Baud rate symbols.
const (
	B0      uint32 = 0
	B9600   uint32 = 13
	B19200  uint32 = 14
	B38400  uint32 = 15
	B57600  uint32 = 16
	B115200 uint32 = 17
)

// Size is the encoded size of a Termios.
const Size = 4*4 + NCCS + 4*2

// Termios is the POSIX terminal settings structure.
type Termios struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	CC     [NCCS]uint8
	Ispeed uint32
	Ospeed uint32
}

// Control returns the control character for a letter, e.g. Control('C') is 0x03.
func Control(ch byte) uint8 {
	return ch & 0x1f
}

// Default returns the settings a new terminal starts with.
func Default() Termios {
	t := Termios{
		Iflag:  ICRNL,
		Oflag:  OPOST | ONLCR,
		Cflag:  CREAD | CS8 | HUPCL | CLOCAL,
		Lflag:  ICANON | IEXTEN | ISIG | ECHO | ECHOE | ECHONL,
		Ispeed: B38400,
		Ospeed: B38400,
	}

	t.CC[VEOF] = Control('D')
	t.CC[VEOL] = Disabled
	t.CC[VERASE] = Control('H')
	t.CC[VINTR] = Control('C')
	t.CC[VKILL] = Control('U')
	t.CC[VMIN] = Disabled
	t.CC[VQUIT] = Control('\\')
	t.CC[VSTART] = Control('Q')
	t.CC[VSTOP] = Control('S')
	t.CC[VSUSP] = Control('Z')
	t.CC[VTIME] = Disabled
	t.CC[VLNEXT] = Control('V')

	return t
}

// InputSet reports whether all bits of flag are set in Iflag.
func (t *Termios) InputSet(flag uint32) bool { return t.Iflag&flag == flag }

// LocalSet reports whether all bits of flag are set in Lflag.
func (t *Termios) LocalSet(flag uint32) bool { return t.Lflag&flag == flag }

// MakeRaw switches the settings to raw mode as cfmakeraw does.
func (t *Termios) MakeRaw() {
	t.Iflag &^= IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON
	t.Oflag &^= OPOST
	t.Lflag &^= ECHO | ECHONL | ICANON | ISIG | IEXTEN
	t.Cflag &^= CSIZE | PARENB
	t.Cflag |= CS8
	t.CC[VMIN] = 1
	t.CC[VTIME] = 0
}

// MarshalBinary encodes the structure in its fixed little-endian layout.
func (t Termios) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:], t.Iflag)
	binary.LittleEndian.PutUint32(buf[4:], t.Oflag)
	binary.LittleEndian.PutUint32(buf[8:], t.Cflag)
	binary.LittleEndian.PutUint32(buf[12:], t.Lflag)
	copy(buf[16:16+NCCS], t.CC[:])
	binary.LittleEndian.PutUint32(buf[16+NCCS:], t.Ispeed)
	binary.LittleEndian.PutUint32(buf[20+NCCS:], t.Ospeed)
	return buf, nil
}

// UnmarshalBinary decodes a structure produced by MarshalBinary.
func (t *Termios) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("termios: want %d bytes, got %d", Size, len(data))
	}

	t.Iflag = binary.LittleEndian.Uint32(data[0:])
	t.Oflag = binary.LittleEndian.Uint32(data[4:])
	t.Cflag = binary.LittleEndian.Uint32(data[8:])
	t.Lflag = binary.LittleEndian.Uint32(data[12:])
	copy(t.CC[:], data[16:16+NCCS])
	t.Ispeed = binary.LittleEndian.Uint32(data[16+NCCS:])
	t.Ospeed = binary.LittleEndian.Uint32(data[20+NCCS:])
	return nil
}

// WinsizeSize is the encoded size of a Winsize.
const WinsizeSize = 4

// Winsize is the terminal window size.
type Winsize struct {
	Row uint16
	Col uint16
}

// DefaultWinsize is the size a new terminal reports until told otherwise.
func DefaultWinsize() Winsize {
	return Winsize{Row: 25, Col: 80}
}

// MarshalBinary encodes the window size.
func (w Winsize) MarshalBinary() ([]byte, error) {
	buf := make([]byte, WinsizeSize)
	binary.LittleEndian.PutUint16(buf[0:], w.Row)
	binary.LittleEndian.PutUint16(buf[2:], w.Col)
	return buf, nil
}

// UnmarshalBinary decodes a window size.
func (w *Winsize) UnmarshalBinary(data []byte) error {
	if len(data) != WinsizeSize {
		return fmt.Errorf("winsize: want %d bytes, got %d", WinsizeSize, len(data))
	}

	w.Row = binary.LittleEndian.Uint16(data[0:])
	w.Col = binary.LittleEndian.Uint16(data[2:])
	return nil
}
