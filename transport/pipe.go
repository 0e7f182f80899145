package transport

import (
	"context"
	"net"
	"sync"
)

// Pipe is an in-memory transport used by tests: every Dial produces a fresh
// connected pair, with the far end handed to the supplied accept callback.
// It also implements Dialer, so connection tests can exercise the full dial,
// fail and reconnect cycle without a network.
type Pipe struct {
	mu     sync.Mutex
	accept func(server net.Conn)
	fail   bool
}

// NewPipe creates a Pipe whose server ends are passed to accept.
func NewPipe(accept func(server net.Conn)) *Pipe {
	return &Pipe{accept: accept}
}

// SetFailing makes subsequent Dial calls fail until cleared, simulating an
// unreachable server during reconnect tests.
func (p *Pipe) SetFailing(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *Pipe) Dial(ctx context.Context, endpoint string) (Conn, error) {
	p.mu.Lock()
	failing := p.fail
	accept := p.accept
	p.mu.Unlock()

	if failing {
		return nil, &net.OpError{Op: "dial", Net: "pipe", Err: context.DeadlineExceeded}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, server := net.Pipe()
	if accept != nil {
		go accept(server)
	}
	return client, nil
}
