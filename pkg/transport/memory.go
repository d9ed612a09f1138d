package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

const memoryQueueLength = 256

type memoryEnd struct {
	lines  chan string
	closed chan struct{}
	once   sync.Once
}

func (e *memoryEnd) close() {
	e.once.Do(func() { close(e.closed) })
}

type memoryConn struct {
	name     string
	incoming *memoryEnd
	outgoing *memoryEnd
	self     *memoryEnd

	mut_deadline sync.Mutex
	deadline     chan struct{}
	timer        *time.Timer
}

// CreateMemoryPair returns two connected in-process ends. Writes are buffered, so a writer only
// blocks once the peer falls memoryQueueLength lines behind.
func CreateMemoryPair() (Conn, Conn) {
	a := &memoryEnd{lines: make(chan string, memoryQueueLength), closed: make(chan struct{})}
	b := &memoryEnd{lines: make(chan string, memoryQueueLength), closed: make(chan struct{})}

	left := &memoryConn{name: "memory:a", incoming: a, outgoing: b, self: a, deadline: make(chan struct{})}
	right := &memoryConn{name: "memory:b", incoming: b, outgoing: a, self: b, deadline: make(chan struct{})}
	return left, right
}

func (c *memoryConn) deadlineChan() chan struct{} {
	c.mut_deadline.Lock()
	defer c.mut_deadline.Unlock()
	return c.deadline
}

func (c *memoryConn) ReadLine() (string, error) {
	deadline := c.deadlineChan()

	// Drain whatever the peer wrote before it hung up.
	select {
	case line := <-c.incoming.lines:
		return line, nil
	default:
	}

	select {
	case line := <-c.incoming.lines:
		return line, nil
	case <-c.self.closed:
		return "", net.ErrClosed
	case <-c.outgoing.closed:
		select {
		case line := <-c.incoming.lines:
			return line, nil
		default:
			return "", io.EOF
		}
	case <-deadline:
		return "", os.ErrDeadlineExceeded
	}
}

func (c *memoryConn) WriteLine(line string) error {
	select {
	case <-c.self.closed:
		return net.ErrClosed
	case <-c.outgoing.closed:
		return io.ErrClosedPipe
	default:
	}

	select {
	case c.outgoing.lines <- line:
		return nil
	case <-c.self.closed:
		return net.ErrClosed
	case <-c.outgoing.closed:
		return io.ErrClosedPipe
	}
}

func (c *memoryConn) SetReadDeadline(t time.Time) error {
	c.mut_deadline.Lock()
	defer c.mut_deadline.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	select {
	case <-c.deadline:
		c.deadline = make(chan struct{})
	default:
	}

	if t.IsZero() {
		return nil
	}

	fire := c.deadline
	until := time.Until(t)
	if until <= 0 {
		close(fire)
		return nil
	}
	c.timer = time.AfterFunc(until, func() {
		c.mut_deadline.Lock()
		defer c.mut_deadline.Unlock()
		if c.deadline == fire {
			close(fire)
		}
	})
	return nil
}

func (c *memoryConn) RemoteAddr() string {
	return c.name
}

func (c *memoryConn) Close() error {
	c.self.close()
	return nil
}

type memoryListener struct {
	pending   chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// CreateMemoryListener accepts connections created by its own Dial method.
func CreateMemoryListener() *memoryListener {
	return &memoryListener{
		pending: make(chan Conn, memoryQueueLength),
		done:    make(chan struct{}),
	}
}

func (l *memoryListener) Dial() (Conn, error) {
	select {
	case <-l.done:
		return nil, syscall.ECONNREFUSED
	default:
	}

	local, remote := CreateMemoryPair()
	select {
	case l.pending <- remote:
		return local, nil
	case <-l.done:
		return nil, syscall.ECONNREFUSED
	}
}

func (l *memoryListener) Accept() (Conn, error) {
	select {
	case conn := <-l.pending:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memoryListener) Addr() string {
	return "memory"
}

func (l *memoryListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
