package internal

import "sync"

// ResponseCounter hands out the server-wide response number shared by every pong and keepalive.
type ResponseCounter struct {
	mut  sync.Mutex
	next uint64
}

func CreateResponseCounter() *ResponseCounter {
	return &ResponseCounter{}
}

// Stamp calls send with the current response number while holding the counter, and advances
// the counter only if send succeeds. send runs under the lock and must not block; callers
// hand the line to a connection's outgoing queue rather than writing it.
func (c *ResponseCounter) Stamp(send func(responseNum uint64) error) (uint64, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	responseNum := c.next
	if err := send(responseNum); err != nil {
		return responseNum, err
	}
	c.next++
	return responseNum, nil
}

// Peek returns the number the next response will carry.
func (c *ResponseCounter) Peek() uint64 {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.next
}
