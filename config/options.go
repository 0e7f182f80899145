package config

import (
	"github.com/c360/streamwire/client"
)

// Options converts the configuration into client options, including the
// dialer for the selected transport.
func (c *Config) Options() ([]client.Option, error) {
	dialer, err := c.Dialer()
	if err != nil {
		return nil, err
	}

	opts := []client.Option{client.WithDialer(dialer)}
	if c.Name != "" {
		opts = append(opts, client.WithName(c.Name))
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, client.WithRequestTimeout(c.RequestTimeout.Std()))
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, client.WithConnectTimeout(c.ConnectTimeout.Std()))
	}
	if c.PingInterval > 0 {
		opts = append(opts, client.WithPingInterval(c.PingInterval.Std()))
	}
	if c.ReconnectWait > 0 {
		opts = append(opts, client.WithReconnectWait(c.ReconnectWait.Std()))
	}
	if c.ReconnectMaxWait > 0 {
		opts = append(opts, client.WithReconnectMaxWait(c.ReconnectMaxWait.Std()))
	}
	if c.ReconnectMaxAttempts > 0 {
		opts = append(opts, client.WithReconnectMaxAttempts(c.ReconnectMaxAttempts))
	}
	if c.ReconnectBufferCap > 0 {
		opts = append(opts, client.WithReconnectBufferCap(c.ReconnectBufferCap))
	}
	if c.DispatchWorkers > 0 {
		opts = append(opts, client.WithDispatchWorkers(c.DispatchWorkers))
	}
	if c.DispatchQueue > 0 {
		opts = append(opts, client.WithDispatchQueue(c.DispatchQueue))
	}
	return opts, nil
}
