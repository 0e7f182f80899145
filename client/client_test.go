package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamwire/errors"
	"github.com/c360/streamwire/transport"
)

// fakeServer speaks the server side of the protocol over pipe connections.
// It answers the handshake, responds to every PING, and records the
// commands each connection received in arrival order.
type fakeServer struct {
	mu    sync.Mutex
	conns []net.Conn
	ops   [][]string

	// onPublish, when set, is called with each received publish and the
	// connection it arrived on.
	onPublish func(subject, reply string, payload []byte, conn net.Conn)
}

func newFakeServer() *fakeServer {
	return &fakeServer{}
}

func (s *fakeServer) accept(conn net.Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.ops = append(s.ops, nil)
	idx := len(s.ops) - 1
	s.mu.Unlock()

	fmt.Fprintf(conn, "INFO {\"server_id\":\"srv-%d\",\"max_payload\":1048576}\r\n", idx+1)

	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "CONNECT", "PONG", "UNSUB", "SUB":
			s.record(idx, line)

		case "PING":
			s.record(idx, line)
			fmt.Fprint(conn, "PONG\r\n")

		case "PUB":
			size, _ := strconv.Atoi(fields[len(fields)-1])
			payload := make([]byte, size+2)
			if _, err := io.ReadFull(br, payload); err != nil {
				return
			}
			payload = payload[:size]
			s.record(idx, line)

			reply := ""
			if len(fields) == 4 {
				reply = fields[2]
			}
			s.mu.Lock()
			cb := s.onPublish
			s.mu.Unlock()
			if cb != nil {
				cb(fields[1], reply, payload, conn)
			}
		}
	}
}

func (s *fakeServer) record(idx int, line string) {
	s.mu.Lock()
	s.ops[idx] = append(s.ops[idx], line)
	s.mu.Unlock()
}

// connOps returns the recorded command lines for the n-th connection,
// zero-based.
func (s *fakeServer) connOps(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.ops) {
		return nil
	}
	out := make([]string, len(s.ops[n]))
	copy(out, s.ops[n])
	return out
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll severs every live connection, simulating a server crash.
func (s *fakeServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

// send writes raw protocol bytes to the n-th connection.
func (s *fakeServer) send(n int, format string, args ...any) {
	s.mu.Lock()
	conn := s.conns[n]
	s.mu.Unlock()
	fmt.Fprintf(conn, format, args...)
}

// sidFor extracts the sid the client assigned to the subscription whose SUB
// line matches subject on the n-th connection.
func (s *fakeServer) sidFor(n int, subject string) (uint64, bool) {
	for _, op := range s.connOps(n) {
		fields := strings.Fields(op)
		if len(fields) >= 3 && fields[0] == "SUB" && fields[1] == subject {
			sid, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
			return sid, err == nil
		}
	}
	return 0, false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConn(t *testing.T, srv *fakeServer, opts ...Option) (*Conn, *transport.Pipe) {
	t.Helper()
	pipe := transport.NewPipe(srv.accept)
	opts = append([]Option{
		WithDialer(pipe),
		WithLogger(testLogger()),
		WithReconnectWait(time.Millisecond),
		WithReconnectMaxWait(10 * time.Millisecond),
	}, opts...)
	c := NewConn("pipe://test", opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, pipe
}

func waitStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want },
		2*time.Second, time.Millisecond, "waiting for status %s, at %s", want, c.Status())
}

func TestConnectHandshake(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusConnected, c.Status())

	info := c.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "srv-1", info.ServerID)
	assert.Equal(t, int64(1048576), info.MaxPayload)

	ops := srv.connOps(0)
	require.GreaterOrEqual(t, len(ops), 2)
	assert.True(t, strings.HasPrefix(ops[0], "CONNECT "), "first command should be CONNECT, got %q", ops[0])
	assert.Equal(t, "PING", ops[1])

	assert.ErrorIs(t, c.Connect(context.Background()), errors.ErrAlreadyConnected)
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv, WithConnectTimeout(100*time.Millisecond))
	pipe.SetFailing(true)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.True(t, errors.IsTransient(err))
}

func TestPublishDeliveredToServer(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Publish("orders.created", map[string]int{"id": 1}))
	require.NoError(t, c.Flush(context.Background()))

	var pub string
	for _, op := range srv.connOps(0) {
		if strings.HasPrefix(op, "PUB ") {
			pub = op
		}
	}
	assert.Equal(t, `PUB orders.created 8`, pub)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.MsgsOut)
}

func TestPublishBatchWritesInOrder(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	n, err := c.PublishBatch([]BatchMsg{
		{Subject: "orders.created", Data: []byte("one")},
		{Subject: "orders.updated", Data: []byte("four")},
		{Subject: "orders.deleted", Data: []byte("three")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Eventually(t, func() bool {
		var pubs []string
		for _, op := range srv.connOps(0) {
			if strings.HasPrefix(op, "PUB ") {
				pubs = append(pubs, op)
			}
		}
		return len(pubs) == 3 &&
			pubs[0] == "PUB orders.created 3" &&
			pubs[1] == "PUB orders.updated 4" &&
			pubs[2] == "PUB orders.deleted 5"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(3), c.Stats().MsgsOut)
}

func TestPublishBatchRejectsInvalidSubject(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	n, err := c.PublishBatch([]BatchMsg{
		{Subject: "orders.created", Data: []byte("ok")},
		{Subject: "bad subject", Data: []byte("no")},
	})
	require.Error(t, err)
	assert.Zero(t, n)

	// Validation failed before queueing, so nothing reached the wire.
	require.NoError(t, c.Flush(context.Background()))
	for _, op := range srv.connOps(0) {
		assert.False(t, strings.HasPrefix(op, "PUB "), "unexpected publish: %s", op)
	}
}

func TestPublishValidation(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	assert.Error(t, c.Publish("bad subject", nil))
	assert.Error(t, c.Publish("", nil))

	big := make([]byte, 2*1024*1024)
	err := c.PublishBytes("orders.created", big)
	assert.True(t, stderrors.Is(err, errors.ErrMaxPayload))
}

func TestSubscribeReceivesMessages(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan *Msg, 1)
	sub, err := c.Subscribe("orders.*", func(m *Msg) { got <- m })
	require.NoError(t, err)
	require.NoError(t, c.Flush(context.Background()))

	sid, ok := srv.sidFor(0, "orders.*")
	require.True(t, ok)
	srv.send(0, "MSG orders.created %d 8\r\n{\"id\":1}\r\n", sid)

	select {
	case m := <-got:
		assert.Equal(t, "orders.created", m.Subject)
		assert.Equal(t, []byte(`{"id":1}`), m.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("message never dispatched")
	}
	assert.Equal(t, int64(1), sub.Delivered())
}

func TestUnsubscribeSuppressesQueuedDeliveries(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv, WithDispatchWorkers(1))
	require.NoError(t, c.Connect(context.Background()))

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	sub, err := c.Subscribe("jobs.run", func(*Msg) {
		started <- struct{}{}
		<-release
	})
	require.NoError(t, err)
	require.NoError(t, c.Flush(context.Background()))

	sid, ok := srv.sidFor(0, "jobs.run")
	require.True(t, ok)

	// The single worker parks on the first delivery; the second waits in
	// the dispatch queue behind it.
	srv.send(0, "MSG jobs.run %d 3\r\none\r\n", sid)
	srv.send(0, "MSG jobs.run %d 3\r\ntwo\r\n", sid)
	<-started
	require.Eventually(t, func() bool { return sub.Delivered() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Unsubscribe(sub))
	close(release)

	// The queued delivery was dropped by the dispatcher, so the handler
	// never runs a second time.
	select {
	case <-started:
		t.Fatal("handler ran for a delivery queued before unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	sub, err := c.Subscribe("orders.>", func(*Msg) {})
	require.NoError(t, err)

	require.NoError(t, c.Unsubscribe(sub))
	require.NoError(t, c.Unsubscribe(sub))
	require.NoError(t, c.Flush(context.Background()))

	unsubs := 0
	for _, op := range srv.connOps(0) {
		if strings.HasPrefix(op, "UNSUB ") {
			unsubs++
		}
	}
	assert.Equal(t, 1, unsubs, "second unsubscribe must not reach the wire")
}

func TestAutoUnsubscribeAfterMax(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan *Msg, 8)
	sub, err := c.Subscribe("events", func(m *Msg) { got <- m }, WithMaxMsgs(2))
	require.NoError(t, err)
	require.NoError(t, c.Flush(context.Background()))

	sid, ok := srv.sidFor(0, "events")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		srv.send(0, "MSG events %d 2\r\nhi\r\n", sid)
	}

	require.Eventually(t, func() bool { return len(got) == 2 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got, 2, "third delivery must be dropped")
	assert.Equal(t, int64(2), sub.Delivered())

	_, present := c.subs.get(sub.sid)
	assert.False(t, present, "subscription should be removed after max deliveries")
}

func TestRequestReply(t *testing.T) {
	srv := newFakeServer()
	srv.onPublish = func(subject, reply string, payload []byte, conn net.Conn) {
		if reply == "" {
			return
		}
		// Echo back on the reply inbox using the client's inbox sid.
		sid, _ := srv.sidFor(0, strings.Join(strings.Split(reply, ".")[:2], ".")+".*")
		fmt.Fprintf(conn, "MSG %s %d 4\r\npong\r\n", reply, sid)
	}
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	msg, err := c.Request(context.Background(), "svc.echo", "ping")
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), msg.Data)
	assert.Equal(t, 0, c.pending.size())
}

func TestRequestTimeoutDiscardsLateReply(t *testing.T) {
	srv := newFakeServer()
	late := make(chan struct{})
	srv.onPublish = func(subject, reply string, payload []byte, conn net.Conn) {
		if reply == "" {
			return
		}
		go func() {
			time.Sleep(150 * time.Millisecond)
			sid, _ := srv.sidFor(0, strings.Join(strings.Split(reply, ".")[:2], ".")+".*")
			fmt.Fprintf(conn, "MSG %s %d 4\r\nlate\r\n", reply, sid)
			close(late)
		}()
	}
	c, _ := newTestConn(t, srv, WithRequestTimeout(100*time.Millisecond))
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Request(context.Background(), "svc.slow", "ping")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.Equal(t, 0, c.pending.size())

	// The late reply must be dropped without disturbing the connection.
	<-late
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 0, c.pending.size())
}

func TestReconnectReplaysSubscriptionsBeforeBufferedPublishes(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	for _, subject := range []string{"alpha", "beta", "gamma"} {
		_, err := c.Subscribe(subject, func(*Msg) {})
		require.NoError(t, err)
	}
	require.NoError(t, c.Flush(context.Background()))

	pipe.SetFailing(true)
	srv.closeAll()
	waitStatus(t, c, StatusReconnecting)

	require.NoError(t, c.Publish("queued.one", 1))
	require.NoError(t, c.Publish("queued.two", 2))

	pipe.SetFailing(false)
	waitStatus(t, c, StatusConnected)
	require.NoError(t, c.Flush(context.Background()))
	require.Equal(t, 2, srv.connCount())

	var subjects []string
	for _, op := range srv.connOps(1) {
		fields := strings.Fields(op)
		switch fields[0] {
		case "SUB", "PUB":
			subjects = append(subjects, fields[0]+" "+fields[1])
		}
	}

	require.GreaterOrEqual(t, len(subjects), 6)
	// Inbox first, then the three subscriptions in creation order, then the
	// buffered publishes in submission order.
	assert.True(t, strings.HasPrefix(subjects[0], "SUB _INBOX."))
	assert.Equal(t, []string{"SUB alpha", "SUB beta", "SUB gamma", "PUB queued.one", "PUB queued.two"}, subjects[1:6])

	assert.Equal(t, uint64(1), c.Stats().Reconnects)
}

func TestReconnectBufferBackpressure(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv, WithReconnectBufferCap(2))
	require.NoError(t, c.Connect(context.Background()))

	pipe.SetFailing(true)
	srv.closeAll()
	waitStatus(t, c, StatusReconnecting)

	require.NoError(t, c.Publish("q.1", 1))
	require.NoError(t, c.Publish("q.2", 2))
	err := c.Publish("q.3", 3)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrBufferFull))

	pipe.SetFailing(false)
	waitStatus(t, c, StatusConnected)
}

func TestReconnectDeliversPublishesRacedWithRecovery(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	pipe.SetFailing(true)
	srv.closeAll()
	waitStatus(t, c, StatusReconnecting)

	// Publish continuously while the connection recovers. Every accepted
	// publish must reach the server; none may stay behind in the buffer.
	acceptedCh := make(chan int, 1)
	go func() {
		accepted := 0
		for i := 0; i < 500; i++ {
			if err := c.Publish("load.test", i); err == nil {
				accepted++
			}
			if i == 50 {
				pipe.SetFailing(false)
			}
		}
		acceptedCh <- accepted
	}()

	waitStatus(t, c, StatusConnected)
	accepted := <-acceptedCh
	require.NoError(t, c.Flush(context.Background()))

	require.Eventually(t, func() bool {
		pubs := 0
		for i := 0; i < srv.connCount(); i++ {
			for _, op := range srv.connOps(i) {
				if strings.HasPrefix(op, "PUB load.test") {
					pubs++
				}
			}
		}
		return pubs == accepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeWhileReconnecting(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	pipe.SetFailing(true)
	srv.closeAll()
	waitStatus(t, c, StatusReconnecting)

	_, err := c.Subscribe("offline.sub", func(*Msg) {})
	require.NoError(t, err)

	pipe.SetFailing(false)
	waitStatus(t, c, StatusConnected)
	require.NoError(t, c.Flush(context.Background()))

	_, ok := srv.sidFor(1, "offline.sub")
	assert.True(t, ok, "subscription created while offline must be replayed")
}

func TestPublishWhenClosed(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	err := c.Publish("orders.created", 1)
	assert.True(t, stderrors.Is(err, errors.ErrConnectionClosed))

	_, err = c.Subscribe("orders.*", func(*Msg) {})
	assert.True(t, stderrors.Is(err, errors.ErrConnectionClosed))
}

func TestCloseIdempotent(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.Status())
}

func TestCloseFlushesOutboundPromptly(t *testing.T) {
	// The flush barrier must resolve as soon as the writer loop drains the
	// queue, not fall through to the drain timeout.
	for i := 0; i < 20; i++ {
		srv := newFakeServer()
		c, _ := newTestConn(t, srv)
		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.PublishBytes("orders.created", []byte("x")))

		start := time.Now()
		require.NoError(t, c.Close())
		assert.Less(t, time.Since(start), time.Second)
	}
}

func TestStatusTransitions(t *testing.T) {
	srv := newFakeServer()
	c, pipe := newTestConn(t, srv)
	events := c.StatusChanged()

	require.NoError(t, c.Connect(context.Background()))

	pipe.SetFailing(true)
	srv.closeAll()
	waitStatus(t, c, StatusReconnecting)
	pipe.SetFailing(false)
	waitStatus(t, c, StatusConnected)

	var seen []Status
	for len(events) > 0 {
		seen = append(seen, <-events)
	}
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusReconnecting, StatusConnected}, seen)
}

func TestNewInboxUnique(t *testing.T) {
	srv := newFakeServer()
	c, _ := newTestConn(t, srv)

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		inbox := c.NewInbox()
		assert.True(t, strings.HasPrefix(inbox, "_INBOX."))
		require.False(t, seen[inbox], "inbox collision: %s", inbox)
		seen[inbox] = true
	}
}
