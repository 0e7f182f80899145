// Package client implements a publish/subscribe messaging client with
// automatic reconnection, request/reply over generated inboxes, and
// off-path handler dispatch.
package client

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/streamwire/errors"
	"github.com/c360/streamwire/metric"
	"github.com/c360/streamwire/nuid"
	"github.com/c360/streamwire/pkg/buffer"
	"github.com/c360/streamwire/pkg/retry"
	"github.com/c360/streamwire/pkg/worker"
	"github.com/c360/streamwire/transport"
	"github.com/c360/streamwire/wire"
)

// Version is reported to the server in the CONNECT handshake.
const Version = "0.1.0"

// Status describes the connection lifecycle.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of connection traffic counters.
type Stats struct {
	MsgsIn     uint64
	MsgsOut    uint64
	BytesIn    uint64
	BytesOut   uint64
	Reconnects uint64
}

// dispatchJob carries one delivery through the handler worker pool.
type dispatchJob struct {
	sub *Subscription
	msg *Msg
}

// Conn is a client connection to a messaging server. All methods are safe
// for concurrent use.
type Conn struct {
	opts     Options
	endpoint string
	log      *slog.Logger
	metrics  *metric.Metrics

	status   atomic.Int32
	statusCh chan Status

	// connMu guards tc and writer across reconnects.
	connMu sync.Mutex
	tc     transport.Conn
	writer *wire.Writer

	nuidMu sync.Mutex
	nuid   *nuid.NUID

	sidSeq  atomic.Uint64
	subs    *registry
	pending *pendingTable
	pool    *commandPool

	cmdCh chan *command

	// bufMu serializes the Reconnecting check against the status flip at
	// the end of reconnect, so no publish can land in the reconnect buffer
	// after its final drain.
	bufMu        sync.Mutex
	reconnectBuf buffer.Buffer[*command]
	dispatcher   *worker.Pool[dispatchJob]

	inboxBase string
	inboxSid  uint64

	serverInfo atomic.Pointer[wire.ServerInfo]

	pongMu      sync.Mutex
	pongWaiters []chan struct{}
	pingsOut    atomic.Int32

	rootCtx    context.Context
	rootCancel context.CancelFunc

	msgsIn, msgsOut   atomic.Uint64
	bytesIn, bytesOut atomic.Uint64
	reconnects        atomic.Uint64

	closeOnce   sync.Once
	closed      chan struct{}
	done        chan struct{}
	supervising atomic.Bool
}

// NewConn creates an unconnected client for endpoint. Call Connect to
// establish the session.
func NewConn(endpoint string, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		opts:       o,
		endpoint:   endpoint,
		log:        o.Logger.With("component", "client", "endpoint", endpoint),
		statusCh:   make(chan Status, 16),
		nuid:       nuid.New(),
		subs:       newRegistry(),
		pending:    newPendingTable(),
		pool:       newCommandPool(),
		cmdCh:      make(chan *command, 4096),
		rootCtx:    ctx,
		rootCancel: cancel,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.inboxBase = o.InboxPrefix + "." + c.nextToken()
	c.reconnectBuf = buffer.NewCircular[*command](o.ReconnectBufferCap)
	c.dispatcher = c.newDispatcher()

	if o.Metrics != nil {
		c.metrics = o.Metrics.CoreMetrics()
	}
	return c
}

func (c *Conn) newDispatcher() *worker.Pool[dispatchJob] {
	var popts []worker.Option[dispatchJob]
	if c.opts.Metrics != nil {
		popts = append(popts, worker.WithMetricsRegistry[dispatchJob](c.opts.Metrics, "dispatch"))
	}
	return worker.NewPool(c.opts.DispatchWorkers, c.opts.DispatchQueue,
		func(_ context.Context, job dispatchJob) error {
			// A delivery queued before the subscription was removed is
			// dropped here instead of reaching a handler the caller has
			// already detached.
			if job.sub.closed.Load() {
				return nil
			}
			job.sub.handler(job.msg)
			return nil
		}, popts...)
}

// Connect dials the server and completes the protocol handshake. On success
// the connection is live and background loops maintain it, reconnecting
// automatically if the transport fails.
func (c *Conn) Connect(ctx context.Context) error {
	switch c.Status() {
	case StatusClosed:
		return errors.ErrConnectionClosed
	case StatusConnected, StatusConnecting, StatusReconnecting:
		return errors.ErrAlreadyConnected
	}
	c.setStatus(StatusConnecting)

	hs, err := c.dialAndHandshake(ctx)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	if err := c.dispatcher.Start(c.rootCtx); err != nil && !stderrors.Is(err, worker.ErrPoolAlreadyStarted) {
		hs.tc.Close()
		c.setStatus(StatusDisconnected)
		return errors.Wrap(err, "Conn", "Connect", "start dispatcher")
	}

	// The reply inbox is a single wildcard subscription multiplexing every
	// in-flight request by its token segment.
	if c.inboxSid == 0 {
		c.inboxSid = c.sidSeq.Add(1)
		c.subs.add(&Subscription{
			sid:     c.inboxSid,
			subject: c.inboxBase + ".*",
			handler: func(*Msg) {},
		})
	}
	if err := hs.writer.WriteSubscribe(c.inboxBase+".*", "", c.inboxSid); err != nil {
		hs.tc.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Conn", "Connect", "subscribe inbox")
	}
	if err := hs.writer.Flush(); err != nil {
		hs.tc.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Conn", "Connect", "flush handshake")
	}

	c.installConn(hs)
	c.setStatus(StatusConnected)
	c.log.Info("connected", "server", hs.info.ServerID)

	c.supervising.Store(true)
	go c.supervise(hs)
	return nil
}

type handshake struct {
	tc     transport.Conn
	info   *wire.ServerInfo
	writer *wire.Writer
	parser *wire.Parser
}

// dialAndHandshake performs one full connection attempt: dial, read INFO,
// send CONNECT and PING, await PONG. The parser is returned so bytes read
// past the PONG are not lost to the read loop.
func (c *Conn) dialAndHandshake(ctx context.Context) (*handshake, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	tc, err := c.opts.Dialer.Dial(dctx, c.endpoint)
	if err != nil {
		return nil, errors.WrapTransient(err, "Conn", "dialAndHandshake", "dial")
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	_ = tc.SetReadDeadline(deadline)

	parser := wire.NewParser()
	buf := make([]byte, 4096)

	var info *wire.ServerInfo
	for info == nil {
		frames, err := c.readFrames(tc, parser, buf)
		if err != nil {
			tc.Close()
			return nil, err
		}
		for _, f := range frames {
			switch f.Kind {
			case wire.KindInfo:
				info = f.Info
			case wire.KindErr:
				tc.Close()
				return nil, errors.ClassifyServerError(f.Message)
			}
		}
	}
	c.serverInfo.Store(info)

	w := wire.NewWriter(tc, c.opts.WriteBufferSize)
	if err := w.WriteConnect(wire.ConnectOptions{
		Name:     c.opts.Name,
		Lang:     "go",
		Version:  Version,
		Protocol: 1,
	}); err != nil {
		tc.Close()
		return nil, errors.WrapTransient(err, "Conn", "dialAndHandshake", "write CONNECT")
	}
	if err := w.WritePing(); err != nil {
		tc.Close()
		return nil, errors.WrapTransient(err, "Conn", "dialAndHandshake", "write PING")
	}
	if err := w.Flush(); err != nil {
		tc.Close()
		return nil, errors.WrapTransient(err, "Conn", "dialAndHandshake", "flush")
	}

	for {
		frames, err := c.readFrames(tc, parser, buf)
		if err != nil {
			tc.Close()
			return nil, err
		}
		for _, f := range frames {
			switch f.Kind {
			case wire.KindPong:
				_ = tc.SetReadDeadline(time.Time{})
				return &handshake{tc: tc, info: info, writer: w, parser: parser}, nil
			case wire.KindErr:
				tc.Close()
				return nil, errors.ClassifyServerError(f.Message)
			}
		}
	}
}

func (c *Conn) readFrames(tc transport.Conn, p *wire.Parser, buf []byte) ([]wire.Frame, error) {
	n, err := tc.Read(buf)
	if err != nil {
		return nil, errors.WrapTransient(err, "Conn", "readFrames", "read")
	}
	frames, perrs := p.Feed(buf[:n])
	if len(perrs) > 0 {
		return nil, perrs[0]
	}
	return frames, nil
}

func (c *Conn) installConn(hs *handshake) {
	c.connMu.Lock()
	c.tc = hs.tc
	c.writer = hs.writer
	c.connMu.Unlock()
}

// supervise runs the connection loops, and on transport failure drives the
// reconnect cycle. It owns the connection until Close or a fatal error.
func (c *Conn) supervise(hs *handshake) {
	defer close(c.done)

	for {
		err := c.runLoops(hs)

		if c.isClosing() {
			return
		}
		if err != nil && errors.IsFatal(err) {
			c.log.Error("connection failed permanently", "error", err)
			c.shutdown()
			return
		}

		c.log.Warn("connection lost, reconnecting", "error", err)
		next, rerr := c.reconnect()
		if rerr != nil {
			if !c.isClosing() {
				c.log.Error("reconnect abandoned", "error", rerr)
			}
			c.shutdown()
			return
		}
		hs = next
	}
}

// runLoops starts the read, write, and keepalive loops and blocks until one
// fails or the connection is closed.
func (c *Conn) runLoops(hs *handshake) error {
	ctx, cancel := context.WithCancel(c.rootCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, hs.tc, hs.parser) })
	g.Go(func() error { return c.writeLoop(gctx, hs.writer) })
	g.Go(func() error { return c.pingLoop(gctx) })

	err := g.Wait()
	hs.tc.Close()
	return err
}

func (c *Conn) readLoop(ctx context.Context, tc transport.Conn, parser *wire.Parser) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := tc.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.WrapTransient(errors.ErrConnectionLost, "Conn", "readLoop", "read")
		}
		c.bytesIn.Add(uint64(n))

		frames, perrs := parser.Feed(buf[:n])
		for _, perr := range perrs {
			c.log.Warn("protocol violation", "error", perr)
			if c.metrics != nil {
				c.metrics.RecordError("invalid")
			}
		}
		for i := range frames {
			if err := c.handleFrame(&frames[i]); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) handleFrame(f *wire.Frame) error {
	switch f.Kind {
	case wire.KindMsg:
		c.handleMsg(f)

	case wire.KindPing:
		c.enqueueControl(cmdPong)

	case wire.KindPong:
		c.pingsOut.Store(0)
		c.notifyPong()

	case wire.KindErr:
		err := errors.ClassifyServerError(f.Message)
		if errors.IsFatal(err) {
			return err
		}
		c.log.Warn("server error", "message", f.Message)
		if c.metrics != nil {
			c.metrics.RecordError("transient")
		}

	case wire.KindInfo:
		if f.Info != nil {
			c.serverInfo.Store(f.Info)
		}
	}
	return nil
}

func (c *Conn) handleMsg(f *wire.Frame) {
	c.msgsIn.Add(1)
	if c.metrics != nil {
		c.metrics.RecordMsgIn(len(f.Payload))
	}

	msg := &Msg{
		Subject: f.Subject,
		Reply:   f.Reply,
		Sid:     f.Sid,
		Data:    f.Payload,
		conn:    c,
	}

	// Request replies bypass the worker pool; the waiter is already parked
	// on a channel and delivery is a single map operation.
	if f.Sid == c.inboxSid {
		token := f.Subject[strings.LastIndexByte(f.Subject, '.')+1:]
		if !c.pending.deliver(token, msg) {
			c.log.Debug("late reply discarded", "subject", f.Subject)
		}
		if c.metrics != nil {
			c.metrics.SetPendingRequests(c.pending.size())
		}
		return
	}

	sub, ok := c.subs.get(f.Sid)
	if !ok {
		// A frame for a sid unsubscribed after the server sent it.
		c.log.Debug("frame for unknown sid dropped", "sid", f.Sid, "subject", f.Subject)
		return
	}

	n := sub.delivered.Add(1)
	if sub.maxMsgs > 0 && n > sub.maxMsgs {
		return
	}

	if err := c.dispatcher.Submit(dispatchJob{sub: sub, msg: msg}); err != nil {
		c.log.Warn("dispatch queue full, message dropped", "sid", f.Sid, "subject", f.Subject)
		if c.metrics != nil {
			c.metrics.RecordDroppedFrame()
		}
	}

	if sub.maxMsgs > 0 && n == sub.maxMsgs {
		c.subs.remove(sub.sid)
	}
}

func (c *Conn) writeLoop(ctx context.Context, w *wire.Writer) error {
	flushAndComplete := func(batch []*command, werr error) error {
		if werr == nil {
			werr = w.Flush()
		}
		for _, cmd := range batch {
			cmd.complete(werr)
			if err := c.pool.ret(cmd); err != nil {
				return err
			}
		}
		if werr != nil {
			return errors.WrapTransient(errors.ErrConnectionLost, "Conn", "writeLoop", "write")
		}
		return nil
	}

	batch := make([]*command, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmdCh:
			batch = batch[:0]
			start := time.Now()
			err := c.writeCommand(w, cmd)
			batch = append(batch, cmd)

			// Coalesce queued commands into one flush.
			for err == nil && len(batch) < cap(batch) {
				var next *command
				select {
				case next = <-c.cmdCh:
				default:
				}
				if next == nil {
					break
				}
				err = c.writeCommand(w, next)
				batch = append(batch, next)
			}

			if ferr := flushAndComplete(batch, err); ferr != nil {
				return ferr
			}
			if c.metrics != nil {
				c.metrics.RecordWriteDuration(time.Since(start))
			}
		}
	}
}

func (c *Conn) writeCommand(w *wire.Writer, cmd *command) error {
	switch cmd.kind {
	case cmdPublish:
		n, err := w.WritePublishBytes(cmd.subject, cmd.reply, cmd.payload)
		if err != nil {
			return err
		}
		c.msgsOut.Add(1)
		c.bytesOut.Add(uint64(n))
		if c.metrics != nil {
			c.metrics.RecordMsgOut(n)
		}
		return nil

	case cmdSubscribe:
		if err := w.WriteSubscribe(cmd.subject, cmd.queue, cmd.sid); err != nil {
			return err
		}
		if cmd.maxMsgs > 0 {
			return w.WriteUnsubscribe(cmd.sid, cmd.maxMsgs)
		}
		return nil

	case cmdUnsubscribe:
		return w.WriteUnsubscribe(cmd.sid, cmd.maxMsgs)

	case cmdPing:
		return w.WritePing()

	case cmdPong:
		return w.WritePong()

	case cmdFlush:
		return nil

	case cmdBatch:
		for _, m := range cmd.items {
			n, err := w.WritePublishBytes(m.Subject, m.Reply, m.Data)
			if err != nil {
				return err
			}
			c.msgsOut.Add(1)
			c.bytesOut.Add(uint64(n))
			if c.metrics != nil {
				c.metrics.RecordMsgOut(n)
			}
		}
		return nil

	default:
		return errors.WrapFatal(errors.ErrPoolInvariant, "Conn", "writeCommand", "unknown command kind")
	}
}

func (c *Conn) pingLoop(ctx context.Context) error {
	if c.opts.PingInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if int(c.pingsOut.Add(1)) > c.opts.MaxPingsOut {
				return errors.WrapTransient(errors.ErrConnectionLost, "Conn", "pingLoop", "stale connection")
			}
			c.enqueueControl(cmdPing)
		}
	}
}

// reconnect re-establishes the connection with capped exponential backoff,
// replays subscriptions in creation order, then flushes commands buffered
// while disconnected, preserving their order.
func (c *Conn) reconnect() (*handshake, error) {
	c.setStatus(StatusReconnecting)
	c.drainQueueToBuffer()

	cfg := retry.Reconnect()
	cfg.MaxAttempts = c.opts.ReconnectMaxAttempts
	cfg.InitialDelay = c.opts.ReconnectWait
	cfg.MaxDelay = c.opts.ReconnectMaxWait
	cfg.OnRetry = func(attempt int, err error) {
		c.log.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	hs, err := retry.DoWithResult(c.rootCtx, cfg, func() (*handshake, error) {
		hs, err := c.dialAndHandshake(c.rootCtx)
		if err != nil && errors.IsFatal(err) {
			return nil, retry.NonRetryable(err)
		}
		return hs, err
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrReconnectFailed, "Conn", "reconnect", "retries exhausted")
	}

	for _, sub := range c.subs.snapshot() {
		remaining := 0
		if sub.maxMsgs > 0 {
			remaining = int(sub.maxMsgs - sub.delivered.Load())
			if remaining <= 0 {
				continue
			}
		}
		if err := hs.writer.WriteSubscribe(sub.subject, sub.queue, sub.sid); err != nil {
			hs.tc.Close()
			return nil, errors.WrapTransient(err, "Conn", "reconnect", "replay subscription")
		}
		if remaining > 0 {
			if err := hs.writer.WriteUnsubscribe(sub.sid, remaining); err != nil {
				hs.tc.Close()
				return nil, errors.WrapTransient(err, "Conn", "reconnect", "replay unsubscribe limit")
			}
		}
	}

	if err := c.drainReconnectBuffer(hs.writer); err != nil {
		hs.tc.Close()
		return nil, err
	}

	c.installConn(hs)
	c.reconnects.Add(1)
	if c.metrics != nil {
		c.metrics.RecordReconnect()
	}

	// Drain and flip under bufMu: a publisher that observed Reconnecting
	// re-checks the status inside the lock, so nothing can land in the
	// buffer after this final pass.
	c.bufMu.Lock()
	err = c.drainReconnectBuffer(hs.writer)
	if err == nil {
		c.setStatus(StatusConnected)
	}
	c.bufMu.Unlock()
	if err != nil {
		hs.tc.Close()
		return nil, err
	}

	c.log.Info("reconnected", "server", hs.info.ServerID)
	return hs, nil
}

// drainReconnectBuffer writes every buffered command and flushes. Commands
// are completed and returned to the pool as they are written.
func (c *Conn) drainReconnectBuffer(w *wire.Writer) error {
	for {
		cmd, ok := c.reconnectBuf.Read()
		if !ok {
			break
		}
		err := c.writeCommand(w, cmd)
		cmd.complete(err)
		if perr := c.pool.ret(cmd); perr != nil {
			return perr
		}
		if err != nil {
			return errors.WrapTransient(err, "Conn", "reconnect", "flush buffered command")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.WrapTransient(err, "Conn", "reconnect", "flush")
	}
	return nil
}

// drainQueueToBuffer moves commands already queued for the dead writer into
// the reconnect buffer so they precede publishes issued while disconnected.
func (c *Conn) drainQueueToBuffer() {
	for {
		select {
		case cmd := <-c.cmdCh:
			if err := c.reconnectBuf.Write(cmd); err != nil {
				cmd.complete(errors.ErrBufferFull)
				_ = c.pool.ret(cmd)
			}
		default:
			return
		}
	}
}

// Publish encodes v with the configured serializer and publishes it to
// subject. Validation and encoding happen before the command is queued, so
// a failure here never reaches the wire.
func (c *Conn) Publish(subject string, v any) error {
	return c.publish(subject, "", v)
}

// PublishBytes publishes a pre-encoded payload to subject.
func (c *Conn) PublishBytes(subject string, data []byte) error {
	return c.publishBytes(context.Background(), subject, "", data)
}

// BatchMsg is one pre-encoded message in a PublishBatch call.
type BatchMsg struct {
	Subject string
	Reply   string
	Data    []byte
}

// PublishBatch writes a group of pre-encoded messages as a single unit: the
// whole batch is validated up front, occupies one slot in the command queue,
// and reaches the transport under one flush. It returns the number of
// messages written once the batch has been flushed.
func (c *Conn) PublishBatch(msgs []BatchMsg) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	info := c.serverInfo.Load()
	for _, m := range msgs {
		if err := wire.ValidateSubject(m.Subject); err != nil {
			return 0, err
		}
		if info != nil && info.MaxPayload > 0 && int64(len(m.Data)) > info.MaxPayload {
			return 0, errors.WrapInvalid(errors.ErrMaxPayload, "Conn", "PublishBatch", "payload too large")
		}
	}

	switch c.Status() {
	case StatusClosed:
		return 0, errors.ErrConnectionClosed
	case StatusDisconnected, StatusConnecting:
		return 0, errors.ErrNotConnected
	}

	cmd := c.pool.rent()
	cmd.kind = cmdBatch
	cmd.items = append(cmd.items[:0], msgs...)
	done := make(chan error, 1)
	cmd.done = done

	c.bufMu.Lock()
	if c.Status() == StatusReconnecting {
		err := c.reconnectBuf.Write(cmd)
		c.bufMu.Unlock()
		if err != nil {
			_ = c.pool.ret(cmd)
			return 0, errors.WrapTransient(errors.ErrBufferFull, "Conn", "PublishBatch", "reconnect buffer full")
		}
	} else {
		c.bufMu.Unlock()
		if err := c.enqueue(cmd); err != nil {
			return 0, err
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return 0, errors.WrapTransient(err, "Conn", "PublishBatch", "flush batch")
		}
		return len(msgs), nil
	case <-c.closed:
		return 0, errors.ErrConnectionClosed
	}
}

func (c *Conn) publish(subject, reply string, v any) error {
	payload, err := c.opts.Serializer.Encode(v)
	if err != nil {
		return errors.WrapInvalid(err, "Conn", "Publish", "encode payload")
	}
	return c.publishBytes(context.Background(), subject, reply, payload)
}

func (c *Conn) publishBytes(ctx context.Context, subject, reply string, payload []byte) error {
	if err := wire.ValidateSubject(subject); err != nil {
		return err
	}
	if info := c.serverInfo.Load(); info != nil && info.MaxPayload > 0 && int64(len(payload)) > info.MaxPayload {
		return errors.WrapInvalid(errors.ErrMaxPayload, "Conn", "Publish", "payload too large")
	}

	switch c.Status() {
	case StatusClosed:
		return errors.ErrConnectionClosed
	case StatusDisconnected, StatusConnecting:
		return errors.ErrNotConnected
	}

	cmd := c.pool.rent()
	cmd.kind = cmdPublish
	cmd.subject = subject
	cmd.reply = reply
	cmd.payload = append(cmd.payload[:0], payload...)

	c.bufMu.Lock()
	if c.Status() == StatusReconnecting {
		err := c.reconnectBuf.Write(cmd)
		c.bufMu.Unlock()
		if err != nil {
			_ = c.pool.ret(cmd)
			return errors.WrapTransient(errors.ErrBufferFull, "Conn", "Publish", "reconnect buffer full")
		}
		return nil
	}
	c.bufMu.Unlock()
	return c.enqueueCtx(ctx, cmd)
}

func (c *Conn) enqueue(cmd *command) error {
	return c.enqueueCtx(context.Background(), cmd)
}

// enqueueCtx hands the command to the writer loop. Cancellation is only
// observed while waiting for a queue slot; once the writer owns the command
// its frame is written whole.
func (c *Conn) enqueueCtx(ctx context.Context, cmd *command) error {
	select {
	case c.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		_ = c.pool.ret(cmd)
		return ctx.Err()
	case <-c.closed:
		_ = c.pool.ret(cmd)
		return errors.ErrConnectionClosed
	}
}

// enqueueControl queues a payload-free control command, dropping it if the
// connection is closing.
func (c *Conn) enqueueControl(kind commandKind) {
	cmd := c.pool.rent()
	cmd.kind = kind
	if err := c.enqueue(cmd); err != nil {
		c.log.Debug("control command dropped", "error", err)
	}
}

// SubOption configures a subscription.
type SubOption func(*subOptions)

type subOptions struct {
	queue   string
	maxMsgs int
}

// WithQueue joins the subscription to a queue group; the server delivers
// each message to one member of the group.
func WithQueue(name string) SubOption {
	return func(o *subOptions) { o.queue = name }
}

// WithMaxMsgs removes the subscription automatically after n deliveries.
func WithMaxMsgs(n int) SubOption {
	return func(o *subOptions) { o.maxMsgs = n }
}

// Subscribe registers handler for messages matching subject, which may use
// the * and > wildcards. The handler runs on the dispatch worker pool.
func (c *Conn) Subscribe(subject string, handler Handler, opts ...SubOption) (*Subscription, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrBadSubject, "Conn", "Subscribe", "nil handler")
	}
	if err := wire.ValidatePattern(subject); err != nil {
		return nil, err
	}
	if c.Status() == StatusClosed {
		return nil, errors.ErrConnectionClosed
	}

	var so subOptions
	for _, opt := range opts {
		opt(&so)
	}

	sub := &Subscription{
		sid:     c.sidSeq.Add(1),
		subject: subject,
		queue:   so.queue,
		handler: handler,
		maxMsgs: int64(so.maxMsgs),
	}
	c.subs.add(sub)

	// While reconnecting, registration is enough; the replay pass sends the
	// SUB when the connection returns.
	if c.Status() == StatusConnected {
		cmd := c.pool.rent()
		cmd.kind = cmdSubscribe
		cmd.subject = subject
		cmd.queue = so.queue
		cmd.sid = sub.sid
		cmd.maxMsgs = so.maxMsgs
		if err := c.enqueue(cmd); err != nil {
			c.subs.remove(sub.sid)
			return nil, err
		}
	}
	return sub, nil
}

// Unsubscribe removes the subscription. Calling it twice, or for a
// subscription already removed by WithMaxMsgs, is a no-op.
func (c *Conn) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if !c.subs.remove(sub.sid) {
		return nil
	}
	sub.closed.Store(true)
	if c.Status() != StatusConnected {
		return nil
	}
	cmd := c.pool.rent()
	cmd.kind = cmdUnsubscribe
	cmd.sid = sub.sid
	return c.enqueue(cmd)
}

// Request publishes v with a generated reply inbox and waits for the first
// reply. The deadline is ctx's, or the configured RequestTimeout when ctx
// carries none. A reply arriving after the deadline is discarded silently.
func (c *Conn) Request(ctx context.Context, subject string, v any) (*Msg, error) {
	payload, err := c.opts.Serializer.Encode(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Conn", "Request", "encode payload")
	}
	return c.RequestBytes(ctx, subject, payload)
}

// RequestBytes is Request with a pre-encoded payload.
func (c *Conn) RequestBytes(ctx context.Context, subject string, payload []byte) (*Msg, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	token := c.nextToken()
	ch := c.pending.add(token)
	if c.metrics != nil {
		c.metrics.SetPendingRequests(c.pending.size())
	}

	if err := c.publishBytes(ctx, subject, c.inboxBase+"."+token, payload); err != nil {
		c.pending.remove(token)
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		c.pending.remove(token)
		if c.metrics != nil {
			c.metrics.SetPendingRequests(c.pending.size())
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapTransient(errors.ErrTimeout, "Conn", "Request", "await reply")
		}
		return nil, ctx.Err()
	case <-c.closed:
		c.pending.remove(token)
		return nil, errors.ErrConnectionClosed
	}
}

// NewInbox returns a unique subject suitable as a reply destination.
func (c *Conn) NewInbox() string {
	return c.opts.InboxPrefix + "." + c.nextToken()
}

func (c *Conn) nextToken() string {
	c.nuidMu.Lock()
	defer c.nuidMu.Unlock()
	return c.nuid.Next()
}

// Flush sends a PING and blocks until the matching PONG, confirming the
// server has processed everything written before it.
func (c *Conn) Flush(ctx context.Context) error {
	if c.Status() != StatusConnected {
		return errors.ErrNotConnected
	}

	ch := make(chan struct{})
	c.pongMu.Lock()
	c.pongWaiters = append(c.pongWaiters, ch)
	c.pongMu.Unlock()

	c.enqueueControl(cmdPing)

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.ErrConnectionClosed
	}
}

func (c *Conn) notifyPong() {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	if len(c.pongWaiters) == 0 {
		return
	}
	close(c.pongWaiters[0])
	c.pongWaiters = c.pongWaiters[1:]
}

// Close drains queued commands, stops the background loops, and releases
// the transport. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		wasConnected := c.Status() == StatusConnected
		c.setStatus(StatusClosed)

		if wasConnected {
			c.drainOutbound(2 * time.Second)
		}

		close(c.closed)
		c.rootCancel()

		c.connMu.Lock()
		if c.tc != nil {
			c.tc.Close()
		}
		c.connMu.Unlock()

		if err := c.dispatcher.Stop(2 * time.Second); err != nil {
			c.log.Debug("dispatcher stop", "error", err)
		}
		c.reconnectBuf.Close()
		c.log.Info("connection closed")
	})

	if c.supervising.Load() {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

// drainOutbound waits for the writer loop to flush everything queued before
// close, using a flush barrier command.
func (c *Conn) drainOutbound(timeout time.Duration) {
	cmd := c.pool.rent()
	cmd.kind = cmdFlush
	done := make(chan error, 1)
	cmd.done = done

	// The writer loop returns cmd to the pool after completing it, so only
	// the local channel reference may be touched from here on.
	select {
	case c.cmdCh <- cmd:
	default:
		_ = c.pool.ret(cmd)
		return
	}

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// shutdown tears the connection down after an unrecoverable failure.
func (c *Conn) shutdown() {
	c.setStatus(StatusClosed)
	c.closeOnce.Do(func() {
		close(c.closed)
		c.rootCancel()
		c.connMu.Lock()
		if c.tc != nil {
			c.tc.Close()
		}
		c.connMu.Unlock()
		if err := c.dispatcher.Stop(2 * time.Second); err != nil {
			c.log.Debug("dispatcher stop", "error", err)
		}
		c.reconnectBuf.Close()
	})
}

// Status returns the current connection state.
func (c *Conn) Status() Status {
	return Status(c.status.Load())
}

func (c *Conn) isClosing() bool {
	return c.Status() == StatusClosed
}

// StatusChanged returns a channel receiving state transitions. The channel
// is buffered; transitions beyond its capacity are dropped, the current
// state is always available from Status.
func (c *Conn) StatusChanged() <-chan Status {
	return c.statusCh
}

func (c *Conn) setStatus(s Status) {
	c.status.Store(int32(s))
	if c.metrics != nil {
		c.metrics.RecordStatus(int(s))
	}
	select {
	case c.statusCh <- s:
	default:
	}
}

// ServerInfo returns the most recent INFO received from the server, or nil
// before the first handshake.
func (c *Conn) ServerInfo() *wire.ServerInfo {
	return c.serverInfo.Load()
}

// Stats returns a snapshot of traffic counters.
func (c *Conn) Stats() Stats {
	return Stats{
		MsgsIn:     c.msgsIn.Load(),
		MsgsOut:    c.msgsOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		Reconnects: c.reconnects.Load(),
	}
}
