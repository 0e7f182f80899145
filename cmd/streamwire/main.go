// Command streamwire is a command line publish, subscribe, and request tool
// for streamwire servers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/streamwire/client"
	"github.com/c360/streamwire/config"
	"github.com/c360/streamwire/health"
	"github.com/c360/streamwire/metric"
)

func main() {
	if err := run(); err != nil {
		slog.Error("streamwire failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("streamwire %s\n", client.Version)
		return nil
	}
	if err := validateFlags(cli); err != nil {
		printUsage()
		return err
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	registry := metric.NewMetricsRegistry()
	opts = append(opts,
		client.WithLogger(logger),
		client.WithMetricsRegistry(registry),
		client.WithRequestTimeout(cli.Timeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := client.NewConn(cfg.Endpoint, opts...)
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	if cli.HealthPort > 0 {
		monitor := health.NewMonitor()
		srv := health.NewServer("streamwire", cli.HealthPort, monitor, registry,
			health.WithLogger(logger))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		go trackHealth(ctx, conn, monitor)
	}

	switch cli.Mode {
	case "pub":
		return runPublish(ctx, conn, cli)
	case "sub":
		return runSubscribe(ctx, conn, cli)
	case "req":
		return runRequest(ctx, conn, cli)
	default:
		return fmt.Errorf("unknown mode: %s", cli.Mode)
	}
}

func buildConfig(cli *CLIConfig) (config.Config, error) {
	if cli.ConfigPath != "" {
		return config.Load(cli.ConfigPath)
	}
	cfg := config.Default(cli.Endpoint)
	cfg.Name = cli.Name
	cfg.Transport = cli.Transport
	return cfg, cfg.Validate()
}

// trackHealth mirrors the connection state into the health monitor.
func trackHealth(ctx context.Context, conn *client.Conn, monitor *health.Monitor) {
	update := func(s client.Status) {
		switch s {
		case client.StatusConnected:
			monitor.UpdateHealthy("connection", "connected")
		case client.StatusReconnecting:
			monitor.UpdateDegraded("connection", "reconnecting")
		default:
			monitor.UpdateUnhealthy("connection", s.String())
		}
	}
	update(conn.Status())

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-conn.StatusChanged():
			update(s)
		}
	}
}

func runPublish(ctx context.Context, conn *client.Conn, cli *CLIConfig) error {
	if err := conn.PublishBytes(cli.Subject, []byte(cli.Data)); err != nil {
		return err
	}
	if err := conn.Flush(ctx); err != nil {
		return err
	}
	slog.Info("published", "subject", cli.Subject, "bytes", len(cli.Data))
	return nil
}

func runSubscribe(ctx context.Context, conn *client.Conn, cli *CLIConfig) error {
	received := make(chan struct{}, 64)
	var subOpts []client.SubOption
	if cli.Queue != "" {
		subOpts = append(subOpts, client.WithQueue(cli.Queue))
	}
	if cli.Count > 0 {
		subOpts = append(subOpts, client.WithMaxMsgs(cli.Count))
	}

	sub, err := conn.Subscribe(cli.Subject, func(m *client.Msg) {
		fmt.Printf("[%s] %s\n", m.Subject, m.Data)
		received <- struct{}{}
	}, subOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Unsubscribe(sub) }()

	slog.Info("subscribed", "subject", cli.Subject, "queue", cli.Queue)

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-received:
			seen++
			if cli.Count > 0 && seen >= cli.Count {
				return nil
			}
		}
	}
}

func runRequest(ctx context.Context, conn *client.Conn, cli *CLIConfig) error {
	msg, err := conn.RequestBytes(ctx, cli.Subject, []byte(cli.Data))
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", msg.Data)
	return nil
}
