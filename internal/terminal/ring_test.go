package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countLines recounts newline tags the slow way.
func countLines(r *inputRing) int {
	n := 0
	for i := 0; i < r.size; i++ {
		if r.at(i)&tagNewLine != 0 {
			n++
		}
	}
	return n
}

func TestInputRing_PushPop(t *testing.T) {
	var r inputRing

	r.push('a')
	r.push('\n' | tagNewLine)
	r.push('b')
	assert.Equal(t, 3, r.size)
	assert.Equal(t, 1, r.lines)

	assert.Equal(t, uint16('a'), r.popFront())
	assert.Equal(t, '\n'|tagNewLine, r.popFront())
	assert.Equal(t, 0, r.lines)
	assert.Equal(t, 1, r.size)
	assert.Equal(t, uint16('b'), r.at(0))
}

func TestInputRing_Erase(t *testing.T) {
	var r inputRing

	assert.False(t, r.eraseLastInLine(), "empty ring MUST NOT erase")

	r.push('x')
	r.push('\n' | tagNewLine)
	assert.False(t, r.eraseLastInLine(), "erase MUST stop at a completed line")

	r.push('a')
	r.push('b')
	r.push('c')
	assert.Equal(t, 3, r.eraseLine())
	assert.Equal(t, 2, r.size)
	assert.Equal(t, 1, r.lines)
	assert.Equal(t, 0, r.eraseLine())
}

func TestInputRing_WrapAndDiscard(t *testing.T) {
	var r inputRing

	for i := 0; i < ringCapacity-2; i++ {
		r.push('.')
	}
	r.discard(ringCapacity-2, 0)
	require.Equal(t, 0, r.size)

	// The next pushes straddle the end of the buffer.
	for i := 0; i < 5; i++ {
		ch := uint16('0' + i)
		if i%2 == 1 {
			ch |= tagNewLine
		}
		r.push(ch)
	}
	assert.Equal(t, 2, r.lines)
	assert.Equal(t, countLines(&r), r.lines)
	assert.Equal(t, uint16('0'), r.at(0))
	assert.Equal(t, uint16('4'), r.at(4))

	r.discard(2, 1)
	assert.Equal(t, 3, r.size)
	assert.Equal(t, countLines(&r), r.lines)
}

func TestInputRing_Full(t *testing.T) {
	var r inputRing

	for !r.full() {
		r.push('z')
	}
	assert.Equal(t, ringCapacity, r.size)

	r.clear()
	assert.False(t, r.full())
	assert.Equal(t, 0, r.size)
	assert.Equal(t, 0, r.lines)
}
