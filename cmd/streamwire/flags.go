package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath  string
	Endpoint    string
	Name        string
	Transport   string
	LogLevel    string
	LogFormat   string
	HealthPort  int
	Timeout     time.Duration
	Queue       string
	Count       int
	ShowVersion bool

	// Mode and its arguments come from the positional tail:
	// pub <subject> <data>, sub <subject>, req <subject> <data>.
	Mode    string
	Subject string
	Data    string
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("STREAMWIRE_CONFIG", ""),
		"Path to JSON configuration file (env: STREAMWIRE_CONFIG)")

	flag.StringVar(&cfg.Endpoint, "server",
		getEnv("STREAMWIRE_ENDPOINT", "127.0.0.1:4222"),
		"Server endpoint (env: STREAMWIRE_ENDPOINT)")

	flag.StringVar(&cfg.Name, "name",
		getEnv("STREAMWIRE_NAME", "streamwire-cli"),
		"Client name sent in the handshake (env: STREAMWIRE_NAME)")

	flag.StringVar(&cfg.Transport, "transport",
		getEnv("STREAMWIRE_TRANSPORT", "tcp"),
		"Transport: tcp, tls, ws (env: STREAMWIRE_TRANSPORT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("STREAMWIRE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: STREAMWIRE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("STREAMWIRE_LOG_FORMAT", "text"),
		"Log format: json, text (env: STREAMWIRE_LOG_FORMAT)")

	flag.IntVar(&cfg.HealthPort, "health-port",
		getEnvInt("STREAMWIRE_HEALTH_PORT", 0),
		"Health and metrics port, 0 to disable (env: STREAMWIRE_HEALTH_PORT)")

	flag.DurationVar(&cfg.Timeout, "timeout", 2*time.Second,
		"Request timeout for req mode")

	flag.StringVar(&cfg.Queue, "queue", "",
		"Queue group for sub mode")

	flag.IntVar(&cfg.Count, "count", 0,
		"Stop sub mode after this many messages, 0 for unlimited")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cfg.Mode = args[0]
	}
	if len(args) > 1 {
		cfg.Subject = args[1]
	}
	if len(args) > 2 {
		cfg.Data = args[2]
	}
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	switch cfg.Mode {
	case "pub", "req":
		if cfg.Subject == "" {
			return fmt.Errorf("%s mode requires a subject", cfg.Mode)
		}
	case "sub":
		if cfg.Subject == "" {
			return fmt.Errorf("sub mode requires a subject pattern")
		}
	case "":
		return fmt.Errorf("no mode given, expected pub, sub, or req")
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", cfg.HealthPort)
	}
	return nil
}

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `streamwire - messaging client CLI

Usage:
  streamwire [flags] pub <subject> <data>
  streamwire [flags] sub <subject>
  streamwire [flags] req <subject> <data>

Flags:
`)
	flag.PrintDefaults()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
