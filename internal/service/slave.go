package service

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/userfile"
	"github.com/srg/terminald/internal/wire"
)

// slaveSession proxies the operations of a remote slave user onto a slave
// handle. Each operation runs on its own goroutine so that a blocked read
// does not hold up writes; a cancel signal from the client withdraws it.
type slaveSession struct {
	handle *userfile.Handle
	ep     *wire.Endpoint
	pid    int32
	logger *logrus.Entry

	mu  sync.Mutex
	ops map[uint64]context.CancelFunc
	wg  sync.WaitGroup
}

func (s *Service) serveSlave(ctx context.Context, fc wire.FrameConn, hello wire.Hello, pid int32, transport string, log *logrus.Entry) {
	log = log.WithField("file", hello.File)

	handle, err := s.kernel.Open(hello.File, hello.Access)
	if err != nil {
		log.WithError(err).Debug("Failed to open slave file")
		_ = wire.RefuseHello(fc, s.codec, status.Of(err))
		_ = fc.Close()
		return
	}

	ep := s.endpoint(ctx, fc, "slave")
	if err := ep.Send(wire.HelloReply(status.Success, hello.File)); err != nil {
		_ = handle.Close()
		_ = ep.Close()
		return
	}

	defer s.metrics.ConnectionOpened(wire.RoleSlave.String(), transport)()

	session := &slaveSession{
		handle: handle,
		ep:     ep,
		pid:    pid,
		logger: log,
		ops:    make(map[uint64]context.CancelFunc),
	}
	session.run(ctx)
}

func (ss *slaveSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		ss.wg.Wait()
		_ = ss.handle.Close()
		_ = ss.ep.Close()
		ss.logger.Debug("Slave connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.ep.HungUp():
			ss.drain(ctx)
			return
		case <-ss.ep.Ready():
			ss.drain(ctx)
		}
	}
}

func (ss *slaveSession) drain(ctx context.Context) {
	for {
		msg, err := ss.ep.Receive()
		if err != nil {
			return
		}

		switch {
		case msg.Kind == ipc.KindSignal && msg.ID == wire.SignalCancel:
			ss.cancel(msg.Serial)
		case msg.Kind == ipc.KindRequest:
			ss.start(ctx, msg)
		default:
			ss.logger.WithFields(logrus.Fields{
				"kind": msg.Kind,
				"id":   msg.ID,
			}).Warn("Unexpected slave message")
		}
	}
}

func (ss *slaveSession) start(ctx context.Context, msg *ipc.Message) {
	opCtx, cancel := context.WithCancel(ctx)

	ss.mu.Lock()
	ss.ops[msg.Serial] = cancel
	ss.mu.Unlock()

	ss.wg.Add(1)
	go func() {
		defer ss.wg.Done()
		defer ss.finish(msg.Serial)

		reply := ss.perform(opCtx, msg)
		reply.Serial = msg.Serial
		reply.Args[userfile.ArgSerial] = msg.Serial

		if err := ss.ep.Send(reply); err != nil && !errors.Is(err, ipc.ErrHungUp) {
			ss.logger.WithError(err).WithField("serial", msg.Serial).Warn("Failed to send slave reply")
		}
	}()
}

func (ss *slaveSession) cancel(serial uint64) {
	ss.mu.Lock()
	cancel, ok := ss.ops[serial]
	ss.mu.Unlock()

	if ok {
		cancel()
	}
}

func (ss *slaveSession) finish(serial uint64) {
	ss.mu.Lock()
	cancel, ok := ss.ops[serial]
	delete(ss.ops, serial)
	ss.mu.Unlock()

	if ok {
		cancel()
	}
}

// perform runs one operation and builds its reply. A withdrawn operation is
// answered with status.Cancelled so the client knows nothing was consumed.
func (ss *slaveSession) perform(ctx context.Context, msg *ipc.Message) *ipc.Message {
	serial := msg.Serial

	var reply *ipc.Message
	var err error
	switch msg.ID {
	case userfile.OpRead:
		var data []byte
		size, flags := userfile.ReadOpSize(msg)
		data, err = ss.handle.Read(ctx, size, flags)
		reply = userfile.ReadReply(serial, status.Of(err), data)

	case userfile.OpWrite:
		var n int
		n, err = ss.handle.Write(ctx, userfile.WriteData(msg), msg.Args[userfile.ArgFlags])
		reply = userfile.WriteReply(serial, status.Of(err), n)

	case userfile.OpInfo:
		var info userfile.FileInfo
		info, err = ss.handle.Info(ctx)
		if err != nil {
			reply = userfile.ErrorReply(msg.ID, serial, status.Of(err))
		} else {
			reply = userfile.InfoReply(serial, info)
		}

	case userfile.OpRequest:
		var out []byte
		code, pid, in := userfile.RequestOpArgs(msg)
		if ss.pid != 0 {
			// The socket's peer is who is asking.
			pid = ss.pid
		}
		out, err = ss.handle.Request(ctx, code, pid, in)
		reply = userfile.RequestReply(serial, status.Of(err), out)

	case userfile.OpWait:
		event := msg.Args[userfile.ArgEventNum]
		err = ss.handle.Wait(ctx, event)
		reply = userfile.EventReply(serial, event, status.Of(err))

	default:
		reply = userfile.ErrorReply(msg.ID, serial, status.NotSupported)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return userfile.ErrorReply(msg.ID, serial, status.Cancelled)
	}
	return reply
}
