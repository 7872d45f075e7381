package client

import (
	"context"
	"fmt"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/terminal"
	"github.com/srg/terminald/internal/wire"
)

// OutputFunc receives terminal output. It runs on the client's dispatch
// goroutine and must not retain data.
type OutputFunc func(data []byte)

// Master drives a terminal: it feeds input and receives output.
type Master struct {
	c    *conn
	file string
}

// DialMaster asks the service for a new terminal. onOutput may be nil.
func DialMaster(ctx context.Context, opts Options, onOutput OutputFunc) (*Master, error) {
	onSignal := func(msg *ipc.Message) {
		if msg.ID == terminal.SignalOutput && onOutput != nil {
			onOutput(msg.Data)
		}
	}

	c, file, err := dial(ctx, opts, wire.Hello{Role: wire.RoleMaster}, onSignal)
	if err != nil {
		return nil, err
	}
	return &Master{c: c, file: file}, nil
}

// File returns the name of the terminal's slave file.
func (m *Master) File() string {
	return m.file
}

// Input feeds data to the terminal's line discipline.
func (m *Master) Input(ctx context.Context, data []byte) error {
	reply, err := m.c.call(ctx, terminal.InputRequest(0, data), false)
	if err != nil {
		return err
	}
	return terminal.Result(reply).Err()
}

// OpenHandle asks the terminal for a slave handle with access. The result
// is a token for DialSlave.
func (m *Master) OpenHandle(ctx context.Context, access uint32) (wire.HandleToken, error) {
	reply, err := m.c.call(ctx, terminal.OpenHandleRequest(0, access), false)
	if err != nil {
		return wire.HandleToken{}, err
	}
	if err := terminal.Result(reply).Err(); err != nil {
		return wire.HandleToken{}, err
	}

	token, ok := reply.Handle.(wire.HandleToken)
	if !ok {
		return wire.HandleToken{}, fmt.Errorf("open handle reply carried no handle")
	}
	return token, nil
}

// Done is closed when the terminal has gone away.
func (m *Master) Done() <-chan struct{} {
	return m.c.done
}

// Close hangs up, which shuts the terminal down.
func (m *Master) Close() error {
	return m.c.close()
}
