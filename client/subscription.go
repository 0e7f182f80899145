package client

import (
	"sync"
	"sync/atomic"

	"github.com/c360/streamwire/errors"
)

// Handler consumes a delivered message. Handlers run on the dispatch worker
// pool, never on the read loop, so a slow handler cannot stall frame parsing.
type Handler func(msg *Msg)

// Msg is a message delivered to a subscription or a request reply.
type Msg struct {
	Subject string
	Reply   string
	Sid     uint64
	Data    []byte

	conn *Conn
}

// Respond publishes v to the message's reply subject. It fails with
// ErrNoReply when the message carries no reply subject.
func (m *Msg) Respond(v any) error {
	if m.Reply == "" {
		return errors.ErrNoReply
	}
	return m.conn.Publish(m.Reply, v)
}

// Subscription is a registered interest in a subject pattern.
type Subscription struct {
	sid     uint64
	subject string
	queue   string
	handler Handler

	// maxMsgs, when non-zero, auto-removes the subscription after that many
	// deliveries. delivered counts messages handed to the dispatcher.
	maxMsgs   int64
	delivered atomic.Int64

	// closed is set by an explicit Unsubscribe; the dispatcher drops queued
	// deliveries for closed subscriptions. Auto-unsubscribe leaves it unset
	// so deliveries within the limit still reach the handler.
	closed atomic.Bool
}

// Subject returns the pattern this subscription was created with.
func (s *Subscription) Subject() string { return s.subject }

// Queue returns the queue group name, or empty for a plain subscription.
func (s *Subscription) Queue() string { return s.queue }

// Delivered returns the number of messages dispatched to the handler.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// registry tracks live subscriptions by sid and preserves creation order so
// a reconnect replays SUB commands in the order the caller issued them.
type registry struct {
	mu    sync.RWMutex
	subs  map[uint64]*Subscription
	order []uint64
}

func newRegistry() *registry {
	return &registry{subs: make(map[uint64]*Subscription)}
}

func (r *registry) add(s *Subscription) {
	r.mu.Lock()
	r.subs[s.sid] = s
	r.order = append(r.order, s.sid)
	r.mu.Unlock()
}

// remove deletes a subscription and reports whether it was present.
// Removing an unknown or already-removed sid is a no-op.
func (r *registry) remove(sid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sid]; !ok {
		return false
	}
	delete(r.subs, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry) get(sid uint64) (*Subscription, bool) {
	r.mu.RLock()
	s, ok := r.subs[sid]
	r.mu.RUnlock()
	return s, ok
}

// snapshot returns live subscriptions in creation order.
func (r *registry) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.subs[sid])
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
