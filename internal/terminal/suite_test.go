package terminal

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/metrics"
	"github.com/srg/terminald/internal/session/sessiontest"
	"github.com/srg/terminald/internal/status"
	"github.com/srg/terminald/internal/termios"
	"github.com/srg/terminald/internal/testutils"
	"github.com/srg/terminald/internal/userfile"
)

const (
	replyTimeout = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

// TerminalSuite runs terminals on their own goroutine and talks to them
// through the master connection and slave handles only.
type TerminalSuite struct {
	suite.Suite

	kernel   *userfile.Kernel
	sessions *sessiontest.Fake
	metrics  *metrics.Metrics
	master   ipc.Endpoint
	term     *Terminal
	ctx      context.Context
	cancel   context.CancelFunc

	serial uint64
	output []string
	stray  []*ipc.Message
}

// SetupTest starts a fresh terminal before each test
func (suite *TerminalSuite) SetupTest() {
	suite.kernel = userfile.NewKernel(0, nil)
	suite.sessions = sessiontest.NewFake()
	suite.metrics = metrics.New()
	suite.output = nil
	suite.stray = nil
	suite.serial = 0

	client, server := ipc.Pipe(ringCapacity * 2)
	suite.master = client
	suite.term = New(1, server, Options{
		Kernel:   suite.kernel,
		Sessions: suite.sessions,
		Metrics:  suite.metrics,
	})

	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	suite.Require().NoError(suite.term.Run(suite.ctx), "terminal MUST start")
}

// TearDownTest stops the terminal and waits for it to release its resources
func (suite *TerminalSuite) TearDownTest() {
	suite.cancel()

	select {
	case <-suite.term.Done():
	case <-time.After(replyTimeout):
		suite.Fail("terminal did not shut down")
	}
}

// call sends a master request and waits for its reply. OUTPUT signals that
// arrive meanwhile are collected.
func (suite *TerminalSuite) call(msg *ipc.Message) *ipc.Message {
	suite.Require().NoError(suite.master.Send(msg))

	deadline := time.After(replyTimeout)
	for {
		reply, err := suite.master.Receive()
		if err == nil {
			switch {
			case reply.Kind == ipc.KindSignal && reply.ID == SignalOutput:
				suite.output = append(suite.output, string(reply.Data))
			case reply.Kind == ipc.KindReply && reply.Serial == msg.Serial:
				return reply
			default:
				suite.stray = append(suite.stray, reply)
			}
			continue
		}
		suite.Require().ErrorIs(err, ipc.ErrWouldBlock)

		select {
		case <-suite.master.Ready():
		case <-deadline:
			suite.FailNow("no reply from terminal", "request %d serial %d", msg.ID, msg.Serial)
		}
	}
}

func (suite *TerminalSuite) nextSerial() uint64 {
	suite.serial++
	return suite.serial
}

func (suite *TerminalSuite) input(s string) {
	reply := suite.call(InputRequest(suite.nextSerial(), []byte(s)))
	suite.Require().Equal(status.Success, Result(reply))
}

// drain collects OUTPUT signals already queued on the master connection.
func (suite *TerminalSuite) drain() {
	for {
		msg, err := suite.master.Receive()
		if err != nil {
			return
		}
		if msg.Kind == ipc.KindSignal && msg.ID == SignalOutput {
			suite.output = append(suite.output, string(msg.Data))
		} else {
			suite.stray = append(suite.stray, msg)
		}
	}
}

// takeOutput returns the collected OUTPUT signals and resets the collection.
func (suite *TerminalSuite) takeOutput() []string {
	suite.drain()
	out := suite.output
	suite.output = nil
	return out
}

func (suite *TerminalSuite) openSlave(access uint32) *userfile.Handle {
	reply := suite.call(OpenHandleRequest(suite.nextSerial(), access))
	suite.Require().Equal(status.Success, Result(reply))

	handle, ok := reply.Handle.(*userfile.Handle)
	suite.Require().True(ok, "OPEN_HANDLE reply MUST carry a slave handle")
	suite.T().Cleanup(func() { _ = handle.Close() })
	return handle
}

func (suite *TerminalSuite) setFlags(slave *userfile.Handle, flags map[string]bool) {
	out, err := slave.Request(suite.ctx, termios.TCGETA, 0, nil)
	suite.Require().NoError(err)

	var tio termios.Termios
	suite.Require().NoError(tio.UnmarshalBinary(out))
	for name, on := range flags {
		suite.Require().True(tio.SetFlag(name, on), "unknown flag %q", name)
	}

	in, _ := tio.MarshalBinary()
	_, err = slave.Request(suite.ctx, termios.TCSETA, 0, in)
	suite.Require().NoError(err)
}

func (suite *TerminalSuite) setPgrp(slave *userfile.Handle, caller, pgid int32) error {
	_, err := slave.Request(suite.ctx, termios.TIOCSPGRP, caller, termios.EncodeInt(pgid))
	return err
}

func (suite *TerminalSuite) getPgrp(slave *userfile.Handle, caller int32) (int32, error) {
	out, err := slave.Request(suite.ctx, termios.TIOCGPGRP, caller, nil)
	if err != nil {
		return 0, err
	}
	return termios.DecodeInt(out)
}

type disciplineScenario struct {
	Name     string          `yaml:"name"`
	Flags    map[string]bool `yaml:"flags"`
	Input    string          `yaml:"input"`
	Echo     string          `yaml:"echo"`
	Read     int             `yaml:"read"`
	Nonblock bool            `yaml:"nonblock"`
	Want     string          `yaml:"want"`
	Status   string          `yaml:"status"`
}

func loadDisciplineScenarios(t *testing.T) []disciplineScenario {
	t.Helper()

	raw, err := os.ReadFile("testdata/discipline.yaml")
	if err != nil {
		t.Fatalf("failed to read scenarios: %v", err)
	}

	var doc struct {
		Scenarios []disciplineScenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("failed to parse scenarios: %v", err)
	}
	return doc.Scenarios
}

func (suite *TerminalSuite) TestDisciplineScenarios() {
	scenarios := loadDisciplineScenarios(suite.T())
	suite.Require().NotEmpty(scenarios)

	for _, sc := range scenarios {
		suite.Run(sc.Name, func() {
			// Each scenario gets a terminal of its own.
			suite.TearDownTest()
			suite.SetupTest()

			slave := suite.openSlave(userfile.AccessRead | userfile.AccessWrite)
			if len(sc.Flags) > 0 {
				suite.setFlags(slave, sc.Flags)
			}

			suite.input(sc.Input)
			echo := strings.Join(suite.takeOutput(), "")
			testutils.NewTextAsserter(suite.T()).Assert(echo, sc.Echo)

			flags := uint64(0)
			if sc.Nonblock {
				flags = userfile.FlagNonblock
			}
			data, err := slave.Read(suite.ctx, sc.Read, flags)

			if sc.Status != "" {
				suite.Equal(sc.Status, status.Of(err).String())
			} else {
				suite.NoError(err)
			}
			testutils.NewTextAsserter(suite.T()).Assert(string(data), sc.Want)
		})
	}
}

func (suite *TerminalSuite) TestEchoedTyping() {
	slave := suite.openSlave(userfile.AccessRead)

	suite.input("hello\r")
	suite.Equal([]string{"h", "e", "l", "l", "o", "\n"}, suite.takeOutput())

	data, err := slave.Read(suite.ctx, 16, 0)
	suite.Require().NoError(err)
	suite.Equal("hello\n", string(data))

	stats := suite.term.Stats()
	suite.Equal(uint64(6), stats.InputBytes)
	suite.Equal(uint64(6), stats.EchoBytes)
	suite.Equal(uint64(1), stats.ReadsCompleted)
}

func (suite *TerminalSuite) TestInterruptSignalsForeground() {
	suite.sessions.AddProcess(40, 40)
	suite.sessions.AddGroup(42, 40)
	slave := suite.openSlave(userfile.AccessRead | userfile.AccessWrite)

	suite.Require().NoError(suite.setPgrp(slave, 40, 42))

	suite.input("\x03")
	suite.Empty(suite.takeOutput(), "interrupt MUST NOT be echoed")
	suite.Equal([]sessiontest.Kill{{PID: -42, Signal: unix.SIGINT}}, suite.sessions.Kills())
	suite.Equal(uint64(1), suite.term.Stats().Signals)

	_, err := slave.Read(suite.ctx, 16, userfile.FlagNonblock)
	suite.ErrorIs(err, status.WouldBlock, "interrupt MUST NOT be committed to the ring")
}

func (suite *TerminalSuite) TestBlockingReadCompletedByInput() {
	slave := suite.openSlave(userfile.AccessRead)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := slave.Read(suite.ctx, 16, 0)
		done <- result{data, err}
	}()

	suite.Eventually(func() bool {
		return testutil.ToFloat64(suite.metrics.ReadsQueued) == 1
	}, replyTimeout, pollInterval, "read MUST be queued while no line is available")

	suite.input("abc")
	select {
	case <-done:
		suite.Fail("canonical read MUST wait for a whole line")
	case <-time.After(20 * time.Millisecond):
	}

	suite.input("\r")
	select {
	case r := <-done:
		suite.Require().NoError(r.err)
		suite.Equal("abc\n", string(r.data))
	case <-time.After(replyTimeout):
		suite.FailNow("read was not completed")
	}
}

func (suite *TerminalSuite) TestCancelledReadLeavesInput() {
	slave := suite.openSlave(userfile.AccessRead)

	ctx, cancel := context.WithCancel(suite.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := slave.Read(ctx, 16, 0)
		done <- err
	}()

	suite.Eventually(func() bool {
		return testutil.ToFloat64(suite.metrics.ReadsQueued) == 1
	}, replyTimeout, pollInterval)
	cancel()
	suite.ErrorIs(<-done, context.Canceled)

	suite.input("abc\r")

	data, err := slave.Read(suite.ctx, 16, 0)
	suite.Require().NoError(err)
	suite.Equal("abc\n", string(data), "input MUST survive a cancelled read")
}

func (suite *TerminalSuite) TestWaitReadable() {
	slave := suite.openSlave(userfile.AccessRead)

	done := make(chan error, 1)
	go func() {
		done <- slave.Wait(suite.ctx, userfile.EventReadable)
	}()

	select {
	case <-done:
		suite.FailNow("empty terminal MUST NOT be readable")
	case <-time.After(20 * time.Millisecond):
	}

	suite.input("x\r")
	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(replyTimeout):
		suite.FailNow("waiter was not signalled")
	}

	suite.NoError(slave.Wait(suite.ctx, userfile.EventWritable), "slave MUST always be writable")
	suite.ErrorIs(slave.Wait(suite.ctx, 7), status.InvalidEvent)
}

func (suite *TerminalSuite) TestWaitCancelled() {
	slave := suite.openSlave(userfile.AccessRead)

	ctx, cancel := context.WithTimeout(suite.ctx, 20*time.Millisecond)
	defer cancel()
	suite.ErrorIs(slave.Wait(ctx, userfile.EventReadable), context.DeadlineExceeded)

	// The withdrawn waiter is gone, so input completes nothing stale and the
	// terminal keeps serving.
	suite.input("x\r")
	suite.NoError(slave.Wait(suite.ctx, userfile.EventReadable))
}

func (suite *TerminalSuite) TestWriteProducesOutput() {
	slave := suite.openSlave(userfile.AccessWrite)

	n, err := slave.Write(suite.ctx, []byte("prompt$ "), 0)
	suite.Require().NoError(err)
	suite.Equal(8, n)

	long := strings.Repeat("x", 100)
	n, err = slave.Write(suite.ctx, []byte(long), 0)
	suite.Require().NoError(err)
	suite.Equal(100, n)

	suite.Equal([]string{"prompt$ ", long}, suite.takeOutput())
	suite.Equal(uint64(108), suite.term.Stats().OutputBytes)
}

func (suite *TerminalSuite) TestInfo() {
	slave := suite.openSlave(userfile.AccessRead)

	info, err := slave.Info(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(userfile.TypeChar, info.Type)
	suite.Equal(uint32(4096), info.BlockSize)
	suite.Equal(uint64(1), info.Links)
}

func (suite *TerminalSuite) TestWindowSize() {
	slave := suite.openSlave(userfile.AccessRead | userfile.AccessWrite)

	in, _ := termios.Winsize{Row: 50, Col: 132}.MarshalBinary()
	_, err := slave.Request(suite.ctx, termios.TIOCSWINSZ, 0, in)
	suite.Require().NoError(err)

	out, err := slave.Request(suite.ctx, termios.TIOCGWINSZ, 0, nil)
	suite.Require().NoError(err)

	var ws termios.Winsize
	suite.Require().NoError(ws.UnmarshalBinary(out))
	suite.Equal(termios.Winsize{Row: 50, Col: 132}, ws)
}

func (suite *TerminalSuite) TestSessionRebinding() {
	suite.sessions.AddProcess(10, 10)
	suite.sessions.AddGroup(100, 10)
	suite.sessions.AddProcess(20, 20)
	suite.sessions.AddGroup(200, 20)
	slave := suite.openSlave(userfile.AccessRead | userfile.AccessWrite)

	suite.Require().NoError(suite.setPgrp(slave, 10, 100))
	pgid, err := suite.getPgrp(slave, 10)
	suite.Require().NoError(err)
	suite.Equal(int32(100), pgid)

	name, ok := suite.sessions.Terminal(10)
	suite.True(ok)
	suite.Equal(suite.term.Name(), name)

	suite.ErrorIs(suite.setPgrp(slave, 20, 200), status.InvalidRequest,
		"another session MUST NOT take a bound terminal")

	suite.sessions.Exit(10)
	suite.Eventually(func() bool {
		_, bound := suite.sessions.Terminal(10)
		return !bound
	}, replyTimeout, pollInterval, "leader death MUST clear the binding")

	suite.Require().NoError(suite.setPgrp(slave, 20, 200))
	pgid, err = suite.getPgrp(slave, 20)
	suite.Require().NoError(err)
	suite.Equal(int32(200), pgid)

	name, ok = suite.sessions.Terminal(20)
	suite.True(ok)
	suite.Equal(suite.term.Name(), name)
}

func (suite *TerminalSuite) TestUnknownMasterRequest() {
	unknown := ipc.NewRequest(9, suite.nextSerial(), nil)
	suite.Require().NoError(suite.master.Send(unknown))

	suite.input("a")
	suite.Empty(suite.stray, "unknown requests MUST NOT be replied to")
}

func (suite *TerminalSuite) TestOpenHandleFailures() {
	reply := suite.call(OpenHandleRequest(suite.nextSerial(), 1<<4))
	suite.Equal(status.TryAgain, Result(reply))
	suite.Nil(reply.Handle)

	reply = suite.call(ipc.NewRequest(RequestOpenHandle, suite.nextSerial(), []byte{1}))
	suite.Equal(status.InvalidArg, Result(reply))
}

func (suite *TerminalSuite) TestMasterHangup() {
	suite.sessions.AddProcess(10, 10)
	suite.sessions.AddGroup(100, 10)
	slave := suite.openSlave(userfile.AccessRead | userfile.AccessWrite)
	suite.Require().NoError(suite.setPgrp(slave, 10, 100))

	suite.Require().NoError(suite.master.Close())

	select {
	case <-suite.term.Done():
	case <-time.After(replyTimeout):
		suite.FailNow("terminal MUST exit when the master hangs up")
	}

	_, err := slave.Read(suite.ctx, 16, 0)
	suite.ErrorIs(err, ipc.ErrHungUp)
	_, err = slave.Write(suite.ctx, []byte("x"), 0)
	suite.ErrorIs(err, ipc.ErrHungUp)

	_, bound := suite.sessions.Terminal(10)
	suite.False(bound, "shutdown MUST clear the controlling terminal")
	suite.Zero(suite.sessions.Watchers(10))
	suite.NotContains(suite.kernel.Names(), suite.term.Name())
	suite.Zero(testutil.ToFloat64(suite.metrics.TerminalsActive))
}

func (suite *TerminalSuite) TestRunTwice() {
	suite.ErrorIs(suite.term.Run(suite.ctx), ErrAlreadyRunning)
}

func (suite *TerminalSuite) TestNameConflict() {
	_, server := ipc.Pipe(8)
	other := New(1, server, Options{Kernel: suite.kernel, Sessions: suite.sessions})

	err := other.Run(suite.ctx)
	suite.Require().Error(err)
	suite.True(errors.Is(err, status.AlreadyExists))

	select {
	case <-other.Done():
	default:
		suite.Fail("failed terminal MUST report done")
	}
}

// TestTerminalSuite runs the test suite
func TestTerminalSuite(t *testing.T) {
	suite.Run(t, new(TerminalSuite))
}
