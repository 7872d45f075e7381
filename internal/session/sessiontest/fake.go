// Package sessiontest provides a scripted in-memory session service.
package sessiontest

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/srg/terminald/internal/session"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
)

// Kill records one signal delivery.
type Kill struct {
	PID    int32
	Signal unix.Signal
}

// Fake is a session.Service whose processes and groups are declared by the
// test. It is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	sessions  map[int32]int32 // pid -> sid
	groups    map[int32]int32 // pgid -> sid
	watchers  map[int32][]*process
	terminals map[int32]string
	kills     []Kill

	// Failure injection for the binding path.
	FailOpen        bool
	FailSetTerminal bool
}

var _ session.Service = (*Fake)(nil)

// NewFake creates an empty fake.
func NewFake() *Fake {
	return &Fake{
		sessions:  make(map[int32]int32),
		groups:    make(map[int32]int32),
		watchers:  make(map[int32][]*process),
		terminals: make(map[int32]string),
	}
}

// AddProcess declares a live process in session sid. A process whose pid
// equals sid is the session leader.
func (f *Fake) AddProcess(pid, sid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[pid] = sid
}

// AddGroup declares process group pgid in session sid.
func (f *Fake) AddGroup(pgid, sid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[pgid] = sid
}

// Exit terminates pid, firing the death of every open handle to it.
func (f *Fake) Exit(pid int32) {
	f.mu.Lock()
	delete(f.sessions, pid)
	watchers := f.watchers[pid]
	delete(f.watchers, pid)
	f.mu.Unlock()

	for _, p := range watchers {
		p.die()
	}
}

// Kills returns the signal deliveries so far.
func (f *Fake) Kills() []Kill {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Kill(nil), f.kills...)
}

// Terminal returns the controlling terminal registered for sid.
func (f *Fake) Terminal(sid int32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.terminals[sid]
	return name, ok
}

// Watchers returns how many open handles watch pid.
func (f *Fake) Watchers(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, p := range f.watchers[pid] {
		if !p.isClosed() {
			n++
		}
	}
	return n
}

func (f *Fake) GetSID(pid int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sid, ok := f.sessions[pid]
	if !ok {
		return 0, status.NotFound
	}
	return sid, nil
}

func (f *Fake) GetPgrpSession(pgid int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sid, ok := f.groups[pgid]
	if !ok {
		return 0, status.NotFound
	}
	return sid, nil
}

func (f *Fake) SetSessionTerminal(sid int32, terminal *userfile.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if terminal == nil {
		delete(f.terminals, sid)
		return nil
	}
	if f.FailSetTerminal {
		return status.PermDenied
	}
	f.terminals[sid] = terminal.Name()
	return nil
}

func (f *Fake) OpenProcess(pid int32) (session.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailOpen {
		return nil, status.NoMemory
	}
	if _, ok := f.sessions[pid]; !ok {
		return nil, status.NotFound
	}

	p := &process{pid: pid, death: make(chan struct{})}
	f.watchers[pid] = append(f.watchers[pid], p)
	return p, nil
}

func (f *Fake) Kill(pid int32, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.kills = append(f.kills, Kill{PID: pid, Signal: sig})
	return nil
}

type process struct {
	pid    int32
	death  chan struct{}
	mu     sync.Mutex
	dead   bool
	closed bool
}

func (p *process) ID() int32 {
	return p.pid
}

func (p *process) Death() <-chan struct{} {
	return p.death
}

func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *process) die() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dead {
		p.dead = true
		close(p.death)
	}
}
