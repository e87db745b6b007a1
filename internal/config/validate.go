package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Burst.Validate(); err != nil {
		return fmt.Errorf("burst config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Results.Validate(); err != nil {
		return fmt.Errorf("results config: %w", err)
	}

	// Redis is only dialled for the redis result backend.
	if c.Results.Backend == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func (b *BurstConfig) Validate() error {
	if err := ValidatePort(b.Port); err != nil {
		return err
	}

	if b.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}

	if b.GlobalTimeout < b.SessionTimeout {
		return fmt.Errorf("global_timeout (%v) cannot be shorter than session_timeout (%v)",
			b.GlobalTimeout, b.SessionTimeout)
	}

	if b.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	if b.ReadTimeout > b.GlobalTimeout {
		return fmt.Errorf("read_timeout cannot exceed global_timeout")
	}

	if b.SocketBuffer < 0 {
		return fmt.Errorf("socket_buffer cannot be negative")
	}

	if b.MaxSessions < 0 || b.MaxSessionsPerHost < 0 {
		return fmt.Errorf("session limits cannot be negative")
	}

	if b.MaxSessions > 0 && b.MaxSessionsPerHost > b.MaxSessions {
		return fmt.Errorf("max_sessions_per_host cannot be greater than max_sessions")
	}

	if b.RequestRate < 0 {
		return fmt.Errorf("request_rate cannot be negative")
	}

	if b.RequestRate > 0 && b.RequestBurst < 1 {
		return fmt.Errorf("request_burst must be at least 1 when request_rate is set")
	}

	return nil
}

// ValidatePort checks a UDP or TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if !s.HTTP3Enabled() {
		return nil
	}

	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	if s.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	return nil
}

func (r *ResultsConfig) Validate() error {
	switch r.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("backend must be 'memory' or 'redis', got %q", r.Backend)
	}

	if r.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}

	if r.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}

	if r.Backend == "redis" {
		if r.TTL <= 0 {
			return fmt.Errorf("ttl must be positive for the redis backend")
		}
		if strings.TrimSpace(r.KeyPrefix) == "" {
			return fmt.Errorf("key_prefix cannot be empty for the redis backend")
		}
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "panic", "fatal", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output == "" {
		return fmt.Errorf("log output cannot be empty")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	return nil
}
