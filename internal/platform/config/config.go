// Package config holds the runtime settings of the greetings server.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
)

// Defaults.
const (
	DefaultPort              = 8080
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 2 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMaxHeaderBytes    = 64 << 10
	DefaultMaxBodyBytes      = 1 << 20
	DefaultLogLevel          = "info"
	DefaultRateLimitBurst    = 20
	DefaultMetricsAddr       = ":9090"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds server configuration.
type Config struct {
	// Listener
	Host string
	Port int

	// http.Server limits
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	LogLevel string

	// MetricsAddr is the separate listener /metrics is served on, so the API
	// port only answers /greetings.
	MetricsEnabled bool
	MetricsAddr    string

	// DocsEnabled serves the OpenAPI document, schemas and docs UI on the API
	// port.
	DocsEnabled bool

	// RateLimit is in requests per second; zero disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		ReadTimeout:       DefaultReadTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		LogLevel:          DefaultLogLevel,
		MetricsEnabled:    true,
		MetricsAddr:       DefaultMetricsAddr,
		RateLimitBurst:    DefaultRateLimitBurst,
	}
}

// Validate reports the first setting the server cannot start with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, c.Port)
	}
	for name, d := range map[string]time.Duration{
		"read timeout":        c.ReadTimeout,
		"read header timeout": c.ReadHeaderTimeout,
		"write timeout":       c.WriteTimeout,
		"idle timeout":        c.IdleTimeout,
		"shutdown timeout":    c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}
	if c.MaxHeaderBytes <= 0 || c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: header and body limits must be positive", ErrInvalid)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q: %v", ErrInvalid, c.LogLevel, err)
	}
	if c.MetricsEnabled {
		if err := c.validateMetricsAddr(); err != nil {
			return err
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative, got %g", ErrInvalid, c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate limit burst must be at least 1, got %d", ErrInvalid, c.RateLimitBurst)
	}
	return nil
}

func (c Config) validateMetricsAddr() error {
	_, portStr, err := net.SplitHostPort(c.MetricsAddr)
	if err != nil {
		return fmt.Errorf("%w: metrics address %q: %v", ErrInvalid, c.MetricsAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%w: metrics address %q has an invalid port", ErrInvalid, c.MetricsAddr)
	}
	if port != 0 && port == c.Port {
		return fmt.Errorf("%w: metrics port %d collides with the API port", ErrInvalid, port)
	}
	return nil
}

// Addr is the listen address, e.g. ":8080".
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProbeURL is the greeting URL the container health check requests. A
// wildcard listen host is probed on loopback.
func (c Config) ProbeURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port)) + "/greetings"
}
