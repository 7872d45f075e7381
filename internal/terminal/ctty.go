package terminal

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/status"
)

// getPgrp returns the foreground process group for a caller in the
// terminal's session. With no foreground group it returns a value that
// matches no real group.
func (t *Terminal) getPgrp(caller int32) (int32, status.Status) {
	if caller <= 0 {
		return 0, status.InvalidRequest
	}

	sid, err := t.sessions.GetSID(caller)
	if err != nil || t.sessionID == 0 || sid != t.sessionID {
		return 0, status.InvalidRequest
	}

	if t.pgid == 0 {
		return math.MaxInt32, status.Success
	}
	return t.pgid, status.Success
}

// setPgrp makes pgid the foreground process group. The first successful call
// on an unbound terminal also makes it the caller's controlling terminal.
func (t *Terminal) setPgrp(caller, pgid int32) status.Status {
	if caller <= 0 {
		return status.NotFound
	}

	callerSID, err := t.sessions.GetSID(caller)
	if err != nil {
		return status.NotFound
	}

	groupSID, err := t.sessions.GetPgrpSession(pgid)
	if err != nil {
		return status.NotFound
	}

	if callerSID != groupSID {
		return status.PermDenied
	}

	if t.sessionID == 0 {
		if st := t.bind(callerSID); st != status.Success {
			return st
		}
	} else if t.sessionID != callerSID {
		return status.InvalidRequest
	}

	t.pgid = pgid
	t.logger.WithFields(logrus.Fields{
		"sid":  t.sessionID,
		"pgid": pgid,
	}).Debug("Foreground process group set")
	return status.Success
}

// bind makes the terminal the controlling terminal of session sid and starts
// watching the session leader. State is untouched on failure.
func (t *Terminal) bind(sid int32) status.Status {
	log := t.logger.WithField("sid", sid)

	// A session leader's pid is its session id.
	leader, err := t.sessions.OpenProcess(sid)
	if err != nil {
		log.WithError(err).Debug("Failed to open session leader")
		return status.TryAgain
	}

	if err := t.sessions.SetSessionTerminal(sid, t.slave); err != nil {
		_ = leader.Close()
		log.WithError(err).Debug("Failed to set controlling terminal")
		return status.TryAgain
	}

	t.sessionID = sid
	t.leader = leader
	log.Debug("Bound as controlling terminal")
	return status.Success
}

// leaderDied drops the binding once the session leader has exited. The slave
// file stays open and another session may bind later.
func (t *Terminal) leaderDied() {
	t.logger.WithField("sid", t.sessionID).Debug("Session leader exited")

	if err := t.sessions.SetSessionTerminal(t.sessionID, nil); err != nil {
		t.logger.WithError(err).Warn("Failed to clear controlling terminal")
	}
	t.unbind()
}

func (t *Terminal) unbind() {
	_ = t.leader.Close()
	t.leader = nil
	t.sessionID = 0
	t.pgid = 0
}
