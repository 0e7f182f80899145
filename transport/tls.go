package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/c360/streamwire/errors"
)

// TLSConfig describes the client side of a TLS session.
type TLSConfig struct {
	// CAFiles are additional PEM certificate authorities trusted beyond the
	// system pool.
	CAFiles []string `json:"ca_files,omitempty"`

	// CertFile and KeyFile, when both set, present a client certificate.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`

	ServerName string `json:"server_name,omitempty"`

	// InsecureSkipVerify disables certificate verification. DEV/TEST ONLY.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// MinVersion is "1.2" or "1.3"; the default is 1.2.
	MinVersion string `json:"min_version,omitempty"`
}

// LoadTLSConfig builds a tls.Config from cfg, starting from the system CA
// pool and layering configured CAs and client certificates on top.
func LoadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "transport", "LoadTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"transport",
				"LoadTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "transport", "LoadTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Intentional via config; operators know the security implications.
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

type tlsDialer struct {
	cfg *tls.Config
}

// TLS returns a Dialer that layers TLS over TCP. The endpoint's host is
// used for verification unless cfg.ServerName overrides it.
func TLS(cfg *tls.Config) Dialer {
	return &tlsDialer{cfg: cfg}
}

func (d *tlsDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	nd := &net.Dialer{}
	raw, err := nd.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	cfg := d.cfg.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(endpoint)
		if err != nil {
			host = endpoint
		}
		cfg.ServerName = host
	}

	conn := tls.Client(raw, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
