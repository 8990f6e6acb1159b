package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

var errFakeBroken = errors.New("fake connection broken")

// FakeDialer hands out in-memory connections. Dial can be made to fail or
// to block until Release.
type FakeDialer struct {
	mu    sync.Mutex
	err   error
	hold  chan struct{}
	dials int
	conns []*FakeConn
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Fail makes subsequent dials return err. A nil err restores success.
func (d *FakeDialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Hold makes subsequent dials block until Release or cancellation.
func (d *FakeDialer) Hold() {
	d.mu.Lock()
	d.hold = make(chan struct{})
	d.mu.Unlock()
}

func (d *FakeDialer) Release() {
	d.mu.Lock()
	if d.hold != nil {
		close(d.hold)
		d.hold = nil
	}
	d.mu.Unlock()
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns...)
}

// Last returns the most recently opened connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *FakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	hold := d.hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// FakeConn records written messages and replays pushed inbound ones.
type FakeConn struct {
	mu      sync.Mutex
	written [][]byte
	inbox   chan []byte
	stalled bool
	broken  chan struct{}
	closed  chan struct{}
	brkOnce sync.Once
	clsOnce sync.Once
}

func newFakeConn() *FakeConn {
	return &FakeConn{
		inbox:  make(chan []byte, 64),
		broken: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Push queues an inbound text message.
func (c *FakeConn) Push(msg string) {
	c.inbox <- []byte(msg)
}

// Break simulates a network failure: reads and writes start failing.
func (c *FakeConn) Break() {
	c.brkOnce.Do(func() { close(c.broken) })
}

// Stall makes writes block until the connection breaks or closes.
func (c *FakeConn) Stall() {
	c.mu.Lock()
	c.stalled = true
	c.mu.Unlock()
}

func (c *FakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *FakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	stalled := c.stalled
	c.mu.Unlock()
	if stalled {
		select {
		case <-c.broken:
		case <-c.closed:
		case <-ctx.Done():
		}
	}
	select {
	case <-c.broken:
		return errFakeBroken
	case <-c.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.broken:
		return nil, errFakeBroken
	case <-c.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *FakeConn) Close() error {
	c.clsOnce.Do(func() { close(c.closed) })
	return nil
}
