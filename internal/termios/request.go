package termios

import (
	"encoding/binary"
	"fmt"
)

// Request codes accepted by a terminal's slave file.
const (
	TIOCDRAIN  = 0  // tcdrain()
	TCXONC     = 1  // tcflow()
	TCFLSH     = 2  // tcflush()
	TCGETA     = 3  // tcgetattr()
	TCSETA     = 4  // tcsetattr(TCSANOW)
	TCSETAW    = 5  // tcsetattr(TCSADRAIN)
	TCSETAF    = 6  // tcsetattr(TCSAFLUSH)
	TIOCGPGRP  = 7  // tcgetpgrp()
	TIOCSPGRP  = 8  // tcsetpgrp()
	TIOCGWINSZ = 9  // get window size
	TIOCSWINSZ = 10 // set window size
)

// tcflow actions.
const (
	TCIOFF = 0
	TCION  = 1
	TCOOFF = 2
	TCOON  = 3
)

// tcflush queue selectors.
const (
	TCIFLUSH  = 1
	TCOFLUSH  = 2
	TCIOFLUSH = 3
)

// tcsetattr actions.
const (
	TCSANOW   = 1
	TCSADRAIN = 2
	TCSAFLUSH = 3
)

// IntSize is the encoded size of a C int request argument.
const IntSize = 4

// EncodeInt encodes a C int request argument.
func EncodeInt(v int32) []byte {
	buf := make([]byte, IntSize)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

// DecodeInt decodes a C int request argument.
func DecodeInt(data []byte) (int32, error) {
	if len(data) != IntSize {
		return 0, fmt.Errorf("int argument: want %d bytes, got %d", IntSize, len(data))
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

var requestNames = map[uint64]string{
	TIOCDRAIN:  "TIOCDRAIN",
	TCXONC:     "TCXONC",
	TCFLSH:     "TCFLSH",
	TCGETA:     "TCGETA",
	TCSETA:     "TCSETA",
	TCSETAW:    "TCSETAW",
	TCSETAF:    "TCSETAF",
	TIOCGPGRP:  "TIOCGPGRP",
	TIOCSPGRP:  "TIOCSPGRP",
	TIOCGWINSZ: "TIOCGWINSZ",
	TIOCSWINSZ: "TIOCSWINSZ",
}

// RequestName returns a printable name for a request code.
func RequestName(code uint64) string {
	if name, ok := requestNames[code]; ok {
		return name
	}
	return fmt.Sprintf("request(%d)", code)
}
