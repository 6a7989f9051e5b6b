package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if s.TLSEnabled() {
		if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
		}
		if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
		}
	}

	if s.EnableHTTP3 {
		if !s.TLSEnabled() {
			return fmt.Errorf("HTTP/3 requires tls_cert_file and tls_key_file")
		}
		if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
			return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
		}
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if s.RateLimit > 0 && s.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive when rate_limit is set")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

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
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
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
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (m *MonitorConfig) Validate() error {
	if err := m.Layout.Validate(); err != nil {
		return fmt.Errorf("layout config: %w", err)
	}

	if err := m.Feed.Validate(); err != nil {
		return fmt.Errorf("feed config: %w", err)
	}

	if m.Events.QueueSize <= 0 {
		return fmt.Errorf("events queue_size must be positive")
	}

	if m.Events.HistorySize < 0 {
		return fmt.Errorf("events history_size cannot be negative")
	}

	if m.PathCache.Size <= 0 {
		return fmt.Errorf("path_cache size must be positive")
	}

	return nil
}

func (l *LayoutConfig) Validate() error {
	if l.Path == "" {
		return fmt.Errorf("layout path cannot be empty")
	}

	if l.URL != "" && l.DownloadTimeout <= 0 {
		return fmt.Errorf("download_timeout must be positive")
	}

	if l.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(l.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid refresh_schedule %q: %w", l.RefreshSchedule, err)
		}
	}

	return nil
}

func (f *FeedConfig) Validate() error {
	if !f.Enabled {
		return nil
	}

	if f.Host == "" {
		return fmt.Errorf("feed host cannot be empty")
	}

	if f.Port < 1 || f.Port > 65535 {
		return fmt.Errorf("invalid feed port: %d", f.Port)
	}

	if f.Destination == "" {
		return fmt.Errorf("feed destination cannot be empty")
	}

	if f.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}

	if err := f.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	return nil
}

func (r *ReconnectConfig) Validate() error {
	switch r.Strategy {
	case "exponential":
		if r.Multiplier < 1 {
			return fmt.Errorf("multiplier must be >= 1")
		}
		if r.MaxDelay < r.InitialDelay {
			return fmt.Errorf("max_delay (%s) cannot be less than initial_delay (%s)", r.MaxDelay, r.InitialDelay)
		}
	case "linear":
	default:
		return fmt.Errorf("unknown reconnect strategy: %s", r.Strategy)
	}

	if r.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive")
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	return nil
}
