package terminal

// ringCapacity is the number of character slots in the input ring.
const ringCapacity = 8192

// Tag bits stored above the character byte in each ring slot.
const (
	tagEscaped uint16 = 1 << 8  // admitted literally after VLNEXT
	tagNewLine uint16 = 1 << 9  // terminates a line for canonical reads
	tagEOF     uint16 = 1 << 10 // VEOF: consumed but never returned
)

// inputRing is the fixed-capacity buffer of committed input characters.
// lines always equals the number of stored slots tagged tagNewLine.
type inputRing struct {
	buf   [ringCapacity]uint16
	start int
	size  int
	lines int
}

func (r *inputRing) full() bool {
	return r.size == ringCapacity
}

// push appends ch. The caller checks full first.
func (r *inputRing) push(ch uint16) {
	r.buf[(r.start+r.size)%ringCapacity] = ch
	r.size++
	if ch&tagNewLine != 0 {
		r.lines++
	}
}

// at returns the i'th oldest slot.
func (r *inputRing) at(i int) uint16 {
	return r.buf[(r.start+i)%ringCapacity]
}

func (r *inputRing) popFront() uint16 {
	ch := r.buf[r.start]
	r.start = (r.start + 1) % ringCapacity
	r.size--
	if ch&tagNewLine != 0 {
		r.lines--
	}
	return ch
}

// discard drops the n oldest slots, lines of which were newlines.
func (r *inputRing) discard(n, lines int) {
	r.start = (r.start + n) % ringCapacity
	r.size -= n
	r.lines -= lines
}

// eraseLastInLine removes the most recent slot unless it ends a line.
func (r *inputRing) eraseLastInLine() bool {
	if r.size == 0 {
		return false
	}
	if r.at(r.size-1)&tagNewLine != 0 {
		return false
	}
	r.size--
	return true
}

// eraseLine removes the current partial line and returns how many slots went.
func (r *inputRing) eraseLine() int {
	erased := 0
	for r.eraseLastInLine() {
		erased++
	}
	return erased
}

func (r *inputRing) clear() {
	r.start = 0
	r.size = 0
	r.lines = 0
}
