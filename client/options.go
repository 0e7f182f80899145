package client

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamwire/metric"
	"github.com/c360/streamwire/serializer"
	"github.com/c360/streamwire/transport"
)

const (
	defaultInboxPrefix      = "_INBOX"
	defaultRequestTimeout   = 2 * time.Second
	defaultConnectTimeout   = 5 * time.Second
	defaultPingInterval     = 2 * time.Minute
	defaultMaxPingsOut      = 2
	defaultReconnectBuffer  = 8192
	defaultWriteBufferSize  = 32 * 1024
	defaultDispatchWorkers  = 4
	defaultDispatchQueue    = 1024
	defaultReconnectWait    = 50 * time.Millisecond
	defaultReconnectMaxWait = 10 * time.Second
)

// Options configures a Conn. Use the With* functions rather than mutating
// the struct directly.
type Options struct {
	// Name identifies the client to the server in the CONNECT handshake.
	Name string

	// InboxPrefix is the leading segment of generated reply inboxes.
	InboxPrefix string

	Serializer serializer.Serializer
	Dialer     transport.Dialer

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// ReconnectMaxAttempts bounds reconnect retries. Zero retries forever.
	ReconnectMaxAttempts int
	ReconnectWait        time.Duration
	ReconnectMaxWait     time.Duration

	// ReconnectBufferCap bounds how many publishes are buffered while
	// reconnecting. Publishes beyond it fail immediately with ErrBufferFull.
	ReconnectBufferCap int

	RequestTimeout time.Duration
	ConnectTimeout time.Duration

	// PingInterval spaces keepalive PINGs on an idle connection. MaxPingsOut
	// outstanding PINGs without a PONG marks the connection stale.
	PingInterval time.Duration
	MaxPingsOut  int

	DispatchWorkers int
	DispatchQueue   int
	WriteBufferSize int
}

// Option mutates Options during NewConn.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Name:               "streamwire-" + uuid.NewString()[:8],
		InboxPrefix:        defaultInboxPrefix,
		Serializer:         serializer.NewJSON(),
		Dialer:             transport.TCP(),
		Logger:             slog.Default(),
		ReconnectWait:      defaultReconnectWait,
		ReconnectMaxWait:   defaultReconnectMaxWait,
		ReconnectBufferCap: defaultReconnectBuffer,
		RequestTimeout:     defaultRequestTimeout,
		ConnectTimeout:     defaultConnectTimeout,
		PingInterval:       defaultPingInterval,
		MaxPingsOut:        defaultMaxPingsOut,
		DispatchWorkers:    defaultDispatchWorkers,
		DispatchQueue:      defaultDispatchQueue,
		WriteBufferSize:    defaultWriteBufferSize,
	}
}

// WithName sets the client name sent in the CONNECT handshake.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithInboxPrefix overrides the reply inbox prefix.
func WithInboxPrefix(prefix string) Option {
	return func(o *Options) { o.InboxPrefix = prefix }
}

// WithSerializer sets the payload codec for typed publishes and replies.
func WithSerializer(s serializer.Serializer) Option {
	return func(o *Options) { o.Serializer = s }
}

// WithDialer sets the transport used to reach the server. The default is
// plain TCP; transport.WebSocket() tunnels the same protocol over ws.
func WithDialer(d transport.Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetricsRegistry enables connection and traffic metrics.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(o *Options) { o.Metrics = r }
}

// WithReconnectMaxAttempts bounds reconnect retries; zero retries forever.
func WithReconnectMaxAttempts(n int) Option {
	return func(o *Options) { o.ReconnectMaxAttempts = n }
}

// WithReconnectWait sets the initial reconnect backoff delay.
func WithReconnectWait(d time.Duration) Option {
	return func(o *Options) { o.ReconnectWait = d }
}

// WithReconnectMaxWait caps the reconnect backoff delay.
func WithReconnectMaxWait(d time.Duration) Option {
	return func(o *Options) { o.ReconnectMaxWait = d }
}

// WithReconnectBufferCap bounds how many publishes are buffered while
// disconnected.
func WithReconnectBufferCap(n int) Option {
	return func(o *Options) { o.ReconnectBufferCap = n }
}

// WithRequestTimeout sets the default deadline for Request calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithConnectTimeout bounds the dial plus handshake of a single attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// WithPingInterval sets the keepalive cadence.
func WithPingInterval(d time.Duration) Option {
	return func(o *Options) { o.PingInterval = d }
}

// WithMaxPingsOut sets how many unanswered PINGs mark the connection stale.
func WithMaxPingsOut(n int) Option {
	return func(o *Options) { o.MaxPingsOut = n }
}

// WithDispatchWorkers sizes the handler worker pool.
func WithDispatchWorkers(n int) Option {
	return func(o *Options) { o.DispatchWorkers = n }
}

// WithDispatchQueue sizes the handler queue. Messages beyond it are dropped
// and counted rather than blocking the read loop.
func WithDispatchQueue(n int) Option {
	return func(o *Options) { o.DispatchQueue = n }
}

// WithWriteBufferSize sizes the outbound write buffer.
func WithWriteBufferSize(n int) Option {
	return func(o *Options) { o.WriteBufferSize = n }
}
