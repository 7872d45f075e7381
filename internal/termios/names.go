package termios

import (
	"fmt"
	"strings"
)

// Flag names a single bit in one of the flag words.
type Flag struct {
	Name string
	Bit  uint32
}

// Flag tables in stty print order.
var (
	InputFlags = []Flag{
		{"brkint", BRKINT}, {"icrnl", ICRNL}, {"ignbrk", IGNBRK}, {"igncr", IGNCR},
		{"ignpar", IGNPAR}, {"inlcr", INLCR}, {"inpck", INPCK}, {"istrip", ISTRIP},
		{"ixany", IXANY}, {"ixoff", IXOFF}, {"ixon", IXON}, {"parmrk", PARMRK},
	}
	OutputFlags = []Flag{
		{"opost", OPOST}, {"onlcr", ONLCR}, {"ocrnl", OCRNL}, {"onocr", ONOCR},
		{"onlret", ONLRET}, {"ofill", OFILL},
	}
	ControlFlags = []Flag{
		{"cstopb", CSTOPB}, {"cread", CREAD}, {"parenb", PARENB}, {"parodd", PARODD},
		{"hupcl", HUPCL}, {"clocal", CLOCAL},
	}
	LocalFlags = []Flag{
		{"echo", ECHO}, {"echoe", ECHOE}, {"echok", ECHOK}, {"echonl", ECHONL},
		{"icanon", ICANON}, {"iexten", IEXTEN}, {"isig", ISIG}, {"noflsh", NOFLSH},
		{"tostop", TOSTOP},
	}
)

var controlChars = []struct {
	name  string
	index int
}{
	{"intr", VINTR}, {"quit", VQUIT}, {"erase", VERASE}, {"kill", VKILL},
	{"eof", VEOF}, {"eol", VEOL}, {"start", VSTART}, {"stop", VSTOP},
	{"susp", VSUSP}, {"lnext", VLNEXT},
}

// SetFlag turns a named flag on or off. It returns false if no flag has
// that name.
func (t *Termios) SetFlag(name string, on bool) bool {
	tables := []struct {
		flags []Flag
		word  *uint32
	}{
		{InputFlags, &t.Iflag},
		{OutputFlags, &t.Oflag},
		{ControlFlags, &t.Cflag},
		{LocalFlags, &t.Lflag},
	}

	for _, table := range tables {
		for _, f := range table.flags {
			if f.Name != name {
				continue
			}
			if on {
				*table.word |= f.Bit
			} else {
				*table.word &^= f.Bit
			}
			return true
		}
	}

	return false
}

func describeChar(c uint8) string {
	switch {
	case c == Disabled:
		return "<undef>"
	case c < 0x20:
		return "^" + string(rune('@'+c))
	case c == 0x7f:
		return "^?"
	default:
		return string(rune(c))
	}
}

func describeFlags(flags []Flag, word uint32) string {
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		if word&f.Bit != 0 {
			parts = append(parts, f.Name)
		} else {
			parts = append(parts, "-"+f.Name)
		}
	}
	return strings.Join(parts, " ")
}

// String renders the settings the way stty -a does.
func (t Termios) String() string {
	var b strings.Builder

	chars := make([]string, 0, len(controlChars))
	for _, cc := range controlChars {
		chars = append(chars, fmt.Sprintf("%s = %s;", cc.name, describeChar(t.CC[cc.index])))
	}
	b.WriteString(strings.Join(chars, " "))
	b.WriteString("\n")

	fmt.Fprintf(&b, "min = %d; time = %d;\n", t.CC[VMIN], t.CC[VTIME])
	b.WriteString(describeFlags(InputFlags, t.Iflag) + "\n")
	b.WriteString(describeFlags(OutputFlags, t.Oflag) + "\n")
	fmt.Fprintf(&b, "cs%d %s\n", 5+t.Cflag&CSIZE, describeFlags(ControlFlags, t.Cflag))
	b.WriteString(describeFlags(LocalFlags, t.Lflag))

	return b.String()
}
