package terminal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
)

// twoSessions declares session 100 (leader 100, group 110) and session 200
// (leader 200, group 210).
func twoSessions(h *harness) {
	h.sessions.AddProcess(100, 100)
	h.sessions.AddProcess(101, 100)
	h.sessions.AddGroup(110, 100)
	h.sessions.AddProcess(200, 200)
	h.sessions.AddGroup(210, 200)
}

func (h *harness) setPgrp(caller, pgid int32) status.Status {
	_, st := h.request(termios.TIOCSPGRP, caller, termios.EncodeInt(pgid))
	return st
}

func (h *harness) getPgrp(caller int32) (int32, status.Status) {
	out, st := h.request(termios.TIOCGPGRP, caller, nil)
	if st != status.Success {
		return 0, st
	}
	pgid, err := termios.DecodeInt(out)
	require.NoError(h.t, err)
	return pgid, st
}

func TestCtty_GetPgrpUnbound(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	_, st := h.getPgrp(101)
	assert.Equal(t, status.InvalidRequest, st)
}

func TestCtty_CallerMustBeAProcess(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)
	// A session service that resolves pid 0 to its own session.
	h.sessions.AddProcess(0, 100)

	assert.Equal(t, status.NotFound, h.setPgrp(0, 110), "pid 0 MUST NOT acquire the terminal")
	assert.Equal(t, status.NotFound, h.setPgrp(-100, 110), "a negative pid MUST NOT acquire the terminal")
	assert.Equal(t, int32(0), h.term.sessionID, "a rejected caller MUST leave the terminal unbound")
	assert.Equal(t, int32(0), h.term.pgid)

	require.Equal(t, status.Success, h.setPgrp(101, 110))
	_, st := h.getPgrp(0)
	assert.Equal(t, status.InvalidRequest, st, "pid 0 MUST NOT read the foreground group")
}

func TestCtty_FirstTouchBinds(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	require.Equal(t, status.Success, h.setPgrp(101, 110))
	assert.Equal(t, int32(100), h.term.sessionID)
	assert.Equal(t, int32(110), h.term.pgid)
	assert.Equal(t, 1, h.sessions.Watchers(100), "the session leader MUST be watched")

	name, ok := h.sessions.Terminal(100)
	require.True(t, ok)
	assert.Equal(t, h.term.Name(), name)

	pgid, st := h.getPgrp(101)
	require.Equal(t, status.Success, st)
	assert.Equal(t, int32(110), pgid)

	_, st = h.getPgrp(200)
	assert.Equal(t, status.InvalidRequest, st, "another session MUST see ENOTTY")
}

func TestCtty_NoForegroundGroup(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	require.Equal(t, status.Success, h.setPgrp(101, 110))
	h.term.pgid = 0

	pgid, st := h.getPgrp(101)
	require.Equal(t, status.Success, st)
	assert.Equal(t, int32(math.MaxInt32), pgid)
}

func TestCtty_SetPgrpErrors(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	assert.Equal(t, status.NotFound, h.setPgrp(999, 110), "unknown caller")
	assert.Equal(t, status.NotFound, h.setPgrp(101, 999), "unknown group")
	assert.Equal(t, status.PermDenied, h.setPgrp(101, 210), "group in another session")
	assert.Equal(t, int32(0), h.term.sessionID)

	_, st := h.request(termios.TIOCSPGRP, 101, []byte{1})
	assert.Equal(t, status.InvalidArg, st)
}

func TestCtty_OtherSessionWhileBound(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	require.Equal(t, status.Success, h.setPgrp(101, 110))
	assert.Equal(t, status.InvalidRequest, h.setPgrp(200, 210))
	assert.Equal(t, int32(100), h.term.sessionID)
	assert.Equal(t, int32(110), h.term.pgid)
}

func TestCtty_BindFailures(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	h.sessions.FailOpen = true
	assert.Equal(t, status.TryAgain, h.setPgrp(101, 110))
	assert.Equal(t, int32(0), h.term.sessionID)
	assert.Nil(t, h.term.leader)

	h.sessions.FailOpen = false
	h.sessions.FailSetTerminal = true
	assert.Equal(t, status.TryAgain, h.setPgrp(101, 110))
	assert.Equal(t, int32(0), h.term.sessionID)
	assert.Equal(t, 0, h.sessions.Watchers(100), "a failed bind MUST release the leader")

	h.sessions.FailSetTerminal = false
	assert.Equal(t, status.Success, h.setPgrp(101, 110))
}

func TestCtty_LeaderDeathAndRebind(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	require.Equal(t, status.Success, h.setPgrp(100, 110))

	h.sessions.Exit(100)
	<-h.term.leader.Death()
	h.term.leaderDied()

	assert.Equal(t, int32(0), h.term.sessionID)
	assert.Equal(t, int32(0), h.term.pgid)
	assert.Nil(t, h.term.leader)
	_, ok := h.sessions.Terminal(100)
	assert.False(t, ok)

	require.Equal(t, status.Success, h.setPgrp(200, 210))
	assert.Equal(t, int32(200), h.term.sessionID)
	assert.Equal(t, int32(210), h.term.pgid)
}

func TestCtty_DestroyClearsBinding(t *testing.T) {
	h := newHarness(t)
	twoSessions(h)

	require.Equal(t, status.Success, h.setPgrp(101, 110))
	h.term.destroy()

	_, ok := h.sessions.Terminal(100)
	assert.False(t, ok)
	assert.Equal(t, 0, h.sessions.Watchers(100))

	select {
	case <-h.term.Done():
	default:
		t.Fatal("destroy MUST close Done")
	}
}
