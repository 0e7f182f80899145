// Package testutil provides an in-memory broker implementing the server
// side of the wire protocol, so integration tests can exercise real
// publish, subscribe, and request flows without a network or an external
// server process.
package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/streamwire/transport"
	"github.com/c360/streamwire/wire"
)

// Broker is a minimal in-process message broker. It speaks the text
// protocol over pipe connections, routes published messages to matching
// subscriptions with full wildcard semantics, and balances queue groups by
// round-robin.
type Broker struct {
	pipe *transport.Pipe

	mu    sync.Mutex
	conns map[int]*brokerConn
	next  int
	rr    map[string]int
}

type brokerConn struct {
	id   int
	conn net.Conn

	wmu sync.Mutex

	subs map[uint64]*brokerSub
}

type brokerSub struct {
	sid       uint64
	pattern   string
	queue     string
	max       int
	delivered int
}

// NewBroker creates a running broker. Its Dialer hands out fresh
// connections, one per Dial.
func NewBroker() *Broker {
	b := &Broker{
		conns: make(map[int]*brokerConn),
		rr:    make(map[string]int),
	}
	b.pipe = transport.NewPipe(b.serve)
	return b
}

// Dialer returns the transport used to reach this broker.
func (b *Broker) Dialer() transport.Dialer {
	return b.pipe
}

// ConnCount returns how many connections the broker has accepted.
func (b *Broker) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Close severs every live connection.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bc := range b.conns {
		bc.conn.Close()
	}
	b.conns = make(map[int]*brokerConn)
}

func (b *Broker) serve(conn net.Conn) {
	b.mu.Lock()
	b.next++
	bc := &brokerConn{id: b.next, conn: conn, subs: make(map[uint64]*brokerSub)}
	b.conns[bc.id] = bc
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, bc.id)
		b.mu.Unlock()
		conn.Close()
	}()

	bc.write("INFO {\"server_id\":\"testutil-%d\",\"max_payload\":1048576}\r\n", bc.id)

	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "CONNECT", "PONG":

		case "PING":
			bc.write("PONG\r\n")

		case "SUB":
			b.handleSub(bc, fields[1:])

		case "UNSUB":
			b.handleUnsub(bc, fields[1:])

		case "PUB":
			if err := b.handlePub(bc, fields[1:], br); err != nil {
				return
			}

		default:
			bc.write("-ERR 'Unknown Protocol Operation'\r\n")
		}
	}
}

func (b *Broker) handleSub(bc *brokerConn, args []string) {
	if len(args) < 2 {
		bc.write("-ERR 'Invalid Subject'\r\n")
		return
	}
	sub := &brokerSub{pattern: args[0]}
	if len(args) == 3 {
		sub.queue = args[1]
	}
	sid, err := strconv.ParseUint(args[len(args)-1], 10, 64)
	if err != nil {
		bc.write("-ERR 'Invalid Subject'\r\n")
		return
	}
	sub.sid = sid

	b.mu.Lock()
	bc.subs[sid] = sub
	b.mu.Unlock()
}

func (b *Broker) handleUnsub(bc *brokerConn, args []string) {
	if len(args) == 0 {
		return
	}
	sid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(args) == 2 {
		if max, err := strconv.Atoi(args[1]); err == nil {
			if sub, ok := bc.subs[sid]; ok {
				sub.max = max
				if sub.delivered >= max {
					delete(bc.subs, sid)
				}
			}
			return
		}
	}
	delete(bc.subs, sid)
}

func (b *Broker) handlePub(bc *brokerConn, args []string, br *bufio.Reader) error {
	if len(args) < 2 {
		return fmt.Errorf("malformed PUB")
	}
	subject := args[0]
	reply := ""
	if len(args) == 3 {
		reply = args[1]
	}
	size, err := strconv.Atoi(args[len(args)-1])
	if err != nil || size < 0 {
		return fmt.Errorf("malformed PUB size")
	}
	payload := make([]byte, size+2)
	if _, err := io.ReadFull(br, payload); err != nil {
		return err
	}
	b.route(subject, reply, payload[:size])
	return nil
}

// route delivers a message to every matching plain subscription and to one
// member of each matching queue group.
func (b *Broker) route(subject, reply string, payload []byte) {
	type target struct {
		bc  *brokerConn
		sub *brokerSub
	}

	b.mu.Lock()
	var plain []target
	groups := make(map[string][]target)
	for _, bc := range b.conns {
		for _, sub := range bc.subs {
			if !wire.MatchSubject(sub.pattern, subject) {
				continue
			}
			if sub.queue == "" {
				plain = append(plain, target{bc, sub})
			} else {
				groups[sub.queue] = append(groups[sub.queue], target{bc, sub})
			}
		}
	}

	targets := plain
	for queue, members := range groups {
		idx := b.rr[queue] % len(members)
		b.rr[queue]++
		targets = append(targets, members[idx])
	}

	deliverable := targets[:0]
	for _, t := range targets {
		t.sub.delivered++
		if t.sub.max > 0 && t.sub.delivered > t.sub.max {
			delete(t.bc.subs, t.sub.sid)
			continue
		}
		deliverable = append(deliverable, t)
	}
	b.mu.Unlock()

	for _, t := range deliverable {
		t.bc.writeMsg(subject, t.sub.sid, reply, payload)
	}
}

func (bc *brokerConn) write(format string, args ...any) {
	bc.wmu.Lock()
	defer bc.wmu.Unlock()
	fmt.Fprintf(bc.conn, format, args...)
}

func (bc *brokerConn) writeMsg(subject string, sid uint64, reply string, payload []byte) {
	bc.wmu.Lock()
	defer bc.wmu.Unlock()
	if reply != "" {
		fmt.Fprintf(bc.conn, "MSG %s %d %s %d\r\n", subject, sid, reply, len(payload))
	} else {
		fmt.Fprintf(bc.conn, "MSG %s %d %d\r\n", subject, sid, len(payload))
	}
	bc.conn.Write(payload)
	bc.conn.Write([]byte("\r\n"))
}
