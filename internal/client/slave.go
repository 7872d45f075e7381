package client

import (
	"context"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/userfile"
	"github.com/srg/terminald/internal/wire"
)

// Slave is an open slave file of a remote terminal. Its methods mirror the
// operations a process performs on its terminal.
type Slave struct {
	c      *conn
	file   string
	access uint32
}

// DialSlave opens the slave file named file with access.
func DialSlave(ctx context.Context, opts Options, file string, access uint32) (*Slave, error) {
	hello := wire.Hello{Role: wire.RoleSlave, File: file, Access: access}

	c, _, err := dial(ctx, opts, hello, nil)
	if err != nil {
		return nil, err
	}
	return &Slave{c: c, file: file, access: access}, nil
}

// DialToken opens the slave file a master's OpenHandle granted.
func DialToken(ctx context.Context, opts Options, token wire.HandleToken) (*Slave, error) {
	return DialSlave(ctx, opts, token.File, token.Access)
}

// File returns the slave file's name.
func (s *Slave) File() string {
	return s.file
}

func (s *Slave) call(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	return s.c.call(ctx, msg, true)
}

// Read reads up to size bytes. A short non-blocking read returns its bytes
// together with status.WouldBlock.
func (s *Slave) Read(ctx context.Context, size int, flags uint64) ([]byte, error) {
	reply, err := s.call(ctx, userfile.ReadOp(size, flags))
	if err != nil {
		return nil, err
	}
	return userfile.ParseRead(reply)
}

// Write writes data to the terminal's output.
func (s *Slave) Write(ctx context.Context, data []byte) (int, error) {
	reply, err := s.call(ctx, userfile.WriteOp(data, 0))
	if err != nil {
		return 0, err
	}
	return userfile.ParseWrite(reply)
}

// Info returns the slave file's information.
func (s *Slave) Info(ctx context.Context) (userfile.FileInfo, error) {
	reply, err := s.call(ctx, userfile.InfoOp())
	if err != nil {
		return userfile.FileInfo{}, err
	}
	return userfile.ParseInfo(reply)
}

// Request issues a raw control request. The service attributes it to the
// connecting process.
func (s *Slave) Request(ctx context.Context, code uint64, in []byte) ([]byte, error) {
	reply, err := s.call(ctx, userfile.RequestOp(code, 0, in))
	if err != nil {
		return nil, err
	}
	return userfile.ParseRequest(reply)
}

// Wait blocks until event is signalled.
func (s *Slave) Wait(ctx context.Context, event uint64) error {
	reply, err := s.call(ctx, userfile.WaitOp(event))
	if err != nil {
		return err
	}
	return userfile.ParseEvent(reply)
}

// GetAttr returns the terminal's termios.
func (s *Slave) GetAttr(ctx context.Context) (termios.Termios, error) {
	var tio termios.Termios

	out, err := s.Request(ctx, termios.TCGETA, nil)
	if err != nil {
		return tio, err
	}
	err = tio.UnmarshalBinary(out)
	return tio, err
}

// SetAttr replaces the terminal's termios. action is one of TCSANOW,
// TCSADRAIN or TCSAFLUSH.
func (s *Slave) SetAttr(ctx context.Context, action int, tio termios.Termios) error {
	code := uint64(termios.TCSETA)
	switch action {
	case termios.TCSADRAIN:
		code = termios.TCSETAW
	case termios.TCSAFLUSH:
		code = termios.TCSETAF
	}

	in, _ := tio.MarshalBinary()
	_, err := s.Request(ctx, code, in)
	return err
}

// GetWinsize returns the terminal's window size.
func (s *Slave) GetWinsize(ctx context.Context) (termios.Winsize, error) {
	var ws termios.Winsize

	out, err := s.Request(ctx, termios.TIOCGWINSZ, nil)
	if err != nil {
		return ws, err
	}
	err = ws.UnmarshalBinary(out)
	return ws, err
}

// SetWinsize records the terminal's window size.
func (s *Slave) SetWinsize(ctx context.Context, ws termios.Winsize) error {
	in, _ := ws.MarshalBinary()
	_, err := s.Request(ctx, termios.TIOCSWINSZ, in)
	return err
}

// Drain waits for output to be transmitted.
func (s *Slave) Drain(ctx context.Context) error {
	_, err := s.Request(ctx, termios.TIOCDRAIN, nil)
	return err
}

// Flush discards queued data; queue is TCIFLUSH, TCOFLUSH or TCIOFLUSH.
func (s *Slave) Flush(ctx context.Context, queue int32) error {
	_, err := s.Request(ctx, termios.TCFLSH, termios.EncodeInt(queue))
	return err
}

// Flow suspends or restarts transmission; action is TCIOFF, TCION, TCOOFF
// or TCOON.
func (s *Slave) Flow(ctx context.Context, action int32) error {
	_, err := s.Request(ctx, termios.TCXONC, termios.EncodeInt(action))
	return err
}

// GetPgrp returns the foreground process group.
func (s *Slave) GetPgrp(ctx context.Context) (int32, error) {
	out, err := s.Request(ctx, termios.TIOCGPGRP, nil)
	if err != nil {
		return 0, err
	}
	return termios.DecodeInt(out)
}

// SetPgrp makes pgid the foreground process group. On an unbound terminal
// this also makes it the caller's controlling terminal.
func (s *Slave) SetPgrp(ctx context.Context, pgid int32) error {
	_, err := s.Request(ctx, termios.TIOCSPGRP, termios.EncodeInt(pgid))
	return err
}

// Close releases the slave file.
func (s *Slave) Close() error {
	return s.c.close()
}
