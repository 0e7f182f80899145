// Package config loads client configuration from JSON files with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/streamwire/errors"
	"github.com/c360/streamwire/transport"
)

// Transport kinds accepted in configuration.
const (
	TransportTCP       = "tcp"
	TransportTLS       = "tls"
	TransportWebSocket = "ws"
)

// Config holds everything needed to construct a client connection.
type Config struct {
	// Endpoint is the server address, host:port for tcp and tls, a ws:// or
	// wss:// URL for websocket.
	Endpoint string `json:"endpoint"`

	// Name identifies the client to the server.
	Name string `json:"name,omitempty"`

	// Transport selects the dialer: "tcp" (default), "tls", or "ws".
	Transport string `json:"transport,omitempty"`

	TLS transport.TLSConfig `json:"tls,omitempty"`

	RequestTimeout   Duration `json:"request_timeout,omitempty"`
	ConnectTimeout   Duration `json:"connect_timeout,omitempty"`
	PingInterval     Duration `json:"ping_interval,omitempty"`
	ReconnectWait    Duration `json:"reconnect_wait,omitempty"`
	ReconnectMaxWait Duration `json:"reconnect_max_wait,omitempty"`

	ReconnectMaxAttempts int `json:"reconnect_max_attempts,omitempty"`
	ReconnectBufferCap   int `json:"reconnect_buffer_cap,omitempty"`
	DispatchWorkers      int `json:"dispatch_workers,omitempty"`
	DispatchQueue        int `json:"dispatch_queue,omitempty"`
}

// Duration is a time.Duration that unmarshals from JSON strings like "5s".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with only the endpoint set; zero fields fall
// back to client defaults.
func Default(endpoint string) Config {
	return Config{
		Endpoint:  endpoint,
		Transport: TransportTCP,
	}
}

// Load reads a JSON config file and applies environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "read file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "parse JSON")
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	cfg := Default(os.Getenv("STREAMWIRE_ENDPOINT"))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STREAMWIRE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("STREAMWIRE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("STREAMWIRE_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("STREAMWIRE_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReconnectMaxAttempts = n
		}
	}
	if v := os.Getenv("STREAMWIRE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = Duration(d)
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.WrapInvalid(
			fmt.Errorf("endpoint is required"), "config", "Validate", "check endpoint")
	}
	switch c.Transport {
	case "", TransportTCP, TransportTLS, TransportWebSocket:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown transport %q", c.Transport), "config", "Validate", "check transport")
	}
	if c.ReconnectMaxAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("reconnect_max_attempts cannot be negative"), "config", "Validate", "check reconnect")
	}
	if c.ReconnectBufferCap < 0 || c.DispatchWorkers < 0 || c.DispatchQueue < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sizes cannot be negative"), "config", "Validate", "check sizes")
	}
	return nil
}

// Dialer constructs the transport dialer the configuration selects.
func (c *Config) Dialer() (transport.Dialer, error) {
	switch c.Transport {
	case "", TransportTCP:
		return transport.TCP(), nil
	case TransportWebSocket:
		return transport.WebSocket(), nil
	case TransportTLS:
		tlsCfg, err := transport.LoadTLSConfig(c.TLS)
		if err != nil {
			return nil, err
		}
		return transport.TLS(tlsCfg), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown transport %q", c.Transport), "config", "Dialer", "select transport")
	}
}
