package client

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// pendingTable multiplexes request replies over a single wildcard inbox
// subscription. Each in-flight request owns one token, the final subject
// segment of its reply inbox, mapped to a buffered channel of size one.
type pendingTable struct {
	m *xsync.MapOf[string, chan *Msg]
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: xsync.NewMapOf[string, chan *Msg]()}
}

// add registers a waiter for token and returns its reply channel.
func (p *pendingTable) add(token string) chan *Msg {
	ch := make(chan *Msg, 1)
	p.m.Store(token, ch)
	return ch
}

// remove drops the waiter for token, typically on timeout or cancellation.
// A reply arriving after removal finds no entry and is discarded.
func (p *pendingTable) remove(token string) {
	p.m.Delete(token)
}

// deliver routes a reply to its waiter. It reports false when no request is
// waiting on the token, which the dispatcher treats as a late reply and
// drops without error.
func (p *pendingTable) deliver(token string, msg *Msg) bool {
	ch, ok := p.m.LoadAndDelete(token)
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

func (p *pendingTable) size() int {
	return p.m.Size()
}
