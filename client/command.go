package client

import (
	"sync"

	"github.com/c360/streamwire/errors"
)

type commandKind int

const (
	cmdPublish commandKind = iota
	cmdSubscribe
	cmdUnsubscribe
	cmdPing
	cmdPong
	cmdFlush
	cmdBatch
)

// command is a unit of work for the writer loop. Instances are pooled;
// callers rent one, fill it, enqueue it, and the writer loop returns it to
// the pool after completion. The rented flag catches double returns, which
// would let two writers share one instance and corrupt the queue.
type command struct {
	kind    commandKind
	subject string
	reply   string
	queue   string
	sid     uint64
	maxMsgs int
	payload []byte

	// items carries the pre-encoded messages of a cmdBatch; they are written
	// back to back under a single dequeue.
	items []BatchMsg

	// done, when non-nil, receives the write outcome once the command's
	// bytes reach the transport buffer. It is buffered so the writer loop
	// never blocks on a waiter; waiters keep their own reference, which
	// stays valid after the command returns to the pool.
	done chan error

	rented bool
}

// commandPool recycles command instances to keep the publish path
// allocation-free in steady state.
type commandPool struct {
	pool sync.Pool
}

func newCommandPool() *commandPool {
	return &commandPool{
		pool: sync.Pool{
			New: func() any { return &command{} },
		},
	}
}

// rent takes a command from the pool. The zero payload slice is retained
// across rentals so publishes reuse its capacity.
func (p *commandPool) rent() *command {
	c := p.pool.Get().(*command)
	c.rented = true
	return c
}

// ret resets a command and returns it to the pool. Returning a command that
// is not currently rented is a programming error; the pool reports it
// instead of silently accepting the duplicate.
func (p *commandPool) ret(c *command) error {
	if !c.rented {
		return errors.WrapFatal(errors.ErrPoolInvariant, "commandPool", "ret", "double return")
	}
	c.reset()
	p.pool.Put(c)
	return nil
}

// reset clears all fields so a pooled command never leaks a payload or
// completion channel into its next rental. The payload and items backing
// arrays are kept; batch entries are zeroed so their payload slices do not
// outlive the rental.
func (c *command) reset() {
	c.kind = cmdPublish
	c.subject = ""
	c.reply = ""
	c.queue = ""
	c.sid = 0
	c.maxMsgs = 0
	c.payload = c.payload[:0]
	clear(c.items)
	c.items = c.items[:0]
	c.done = nil
	c.rented = false
}

// complete signals waiters, if any, with the write outcome.
func (c *command) complete(err error) {
	if c.done != nil {
		c.done <- err
	}
}
