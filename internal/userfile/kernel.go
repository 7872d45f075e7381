package userfile

import (
	"io"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/terminald/internal/ipc"
	"github.com/srg/terminald/internal/status"
)

// noopLogger discards everything; shared by kernels created without a logger.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Kernel is the in-process user-file layer. It owns the published file
// objects and serialises operations from any number of handles into each
// object's single server endpoint.
type Kernel struct {
	objects       *hashmap.Map[string, *object]
	logger        *logrus.Logger
	queueCapacity uint32
}

// NewKernel creates an empty user-file layer. queueCapacity bounds the number
// of operations queued per object; zero selects ipc.DefaultQueueCapacity.
func NewKernel(queueCapacity uint32, logger *logrus.Logger) *Kernel {
	if logger == nil {
		logger = noopLogger
	}

	return &Kernel{
		objects:       hashmap.New[string, *object](),
		logger:        logger,
		queueCapacity: queueCapacity,
	}
}

// Create publishes a file object. It returns the endpoint on which the
// server receives operations and a handle to the new object.
func (k *Kernel) Create(name string, typ FileType, access uint32, ops uint64) (ipc.Endpoint, *Handle, error) {
	obj := &object{
		kernel:  k,
		name:    name,
		typ:     typ,
		access:  access,
		ops:     ops,
		inbox:   ipc.NewQueue(k.queueCapacity),
		pending: make(map[uint64]chan *ipc.Message),
		handles: 1,
		dead:    make(chan struct{}),
	}

	if _, loaded := k.objects.GetOrInsert(name, obj); loaded {
		return nil, nil, status.AlreadyExists
	}

	k.logger.WithFields(logrus.Fields{
		"file":   name,
		"access": access,
	}).Debug("User file created")

	return &serverConn{obj: obj}, &Handle{obj: obj, access: access}, nil
}

// Open returns a new handle to a published object.
func (k *Kernel) Open(name string, access uint32) (*Handle, error) {
	obj, ok := k.objects.Get(name)
	if !ok {
		return nil, status.NotFound
	}
	return obj.open(access)
}

// Names lists the published objects in sorted order.
func (k *Kernel) Names() []string {
	names := make([]string, 0, k.objects.Len())
	k.objects.Range(func(name string, _ *object) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

type object struct {
	kernel *Kernel
	name   string
	typ    FileType
	access uint32
	ops    uint64
	inbox  *ipc.Queue

	mu      sync.Mutex
	serial  uint64
	pending map[uint64]chan *ipc.Message
	handles int

	deadOnce sync.Once
	dead     chan struct{}
}

func (o *object) isDead() bool {
	select {
	case <-o.dead:
		return true
	default:
		return false
	}
}

func (o *object) open(access uint32) (*Handle, error) {
	if access&^o.access != 0 {
		return nil, status.AccessDenied
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isDead() {
		return nil, status.ConnHungUp
	}

	o.handles++
	return &Handle{obj: o, access: access}, nil
}

func (o *object) release() {
	o.mu.Lock()
	o.handles--
	last := o.handles == 0
	o.mu.Unlock()

	if last {
		o.destroy()
	}
}

// destroy hangs up the server endpoint and fails outstanding operations.
func (o *object) destroy() {
	o.deadOnce.Do(func() {
		close(o.dead)
		o.inbox.Notify()
		o.kernel.objects.Del(o.name)
		o.kernel.logger.WithField("file", o.name).Debug("User file destroyed")
	})
}

// register allocates a serial and a reply slot for a new operation.
func (o *object) register() (uint64, chan *ipc.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.serial++
	ch := make(chan *ipc.Message, 1)
	o.pending[o.serial] = ch
	return o.serial, ch
}

// unregister abandons an operation. It reports false if the reply was already
// claimed by the server.
func (o *object) unregister(serial uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[serial]; !ok {
		return false
	}
	delete(o.pending, serial)
	return true
}

// complete hands a server reply to the waiting operation.
func (o *object) complete(reply *ipc.Message) error {
	serial := reply.Args[ArgSerial]

	o.mu.Lock()
	ch, ok := o.pending[serial]
	if ok {
		delete(o.pending, serial)
	}
	o.mu.Unlock()

	if !ok {
		return ipc.ErrCancelled
	}

	ch <- reply
	return nil
}

// serverConn is the endpoint handed to the object's creator.
type serverConn struct {
	obj *object
}

func (c *serverConn) Receive() (*ipc.Message, error) {
	if msg, ok := c.obj.inbox.Take(); ok {
		return msg, nil
	}

	if c.obj.isDead() {
		return nil, ipc.ErrHungUp
	}
	return nil, ipc.ErrWouldBlock
}

func (c *serverConn) Send(msg *ipc.Message) error {
	if c.obj.isDead() {
		return ipc.ErrHungUp
	}
	return c.obj.complete(msg)
}

func (c *serverConn) Ready() <-chan struct{} {
	return c.obj.inbox.Ready()
}

func (c *serverConn) HungUp() <-chan struct{} {
	return c.obj.dead
}

// Close withdraws the server; all handles see the object as hung up.
func (c *serverConn) Close() error {
	c.obj.destroy()
	return nil
}
