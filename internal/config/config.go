package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

type ServerConfig struct {
	// Plain HTTP API listener
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TLS enables HTTPS on Port when both files are set
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// HTTP/3 listener, requires TLS files
	EnableHTTP3 bool `mapstructure:"enable_http3"`
	HTTP3Port   int  `mapstructure:"http3_port"`

	// Per-client request rate limit, 0 disables it
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	DebugEndpoints bool `mapstructure:"debug_endpoints"`
}

// TLSEnabled reports whether certificate and key are configured.
func (s *ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type MonitorConfig struct {
	Layout    LayoutConfig    `mapstructure:"layout"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Events    EventsConfig    `mapstructure:"events"`
	PathCache PathCacheConfig `mapstructure:"path_cache"`
}

type LayoutConfig struct {
	URL             string        `mapstructure:"url"`  // downloaded to Path when set
	Path            string        `mapstructure:"path"` // local layout file
	CAFile          string        `mapstructure:"ca_file"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"` // cron spec, empty disables
	Watch           bool          `mapstructure:"watch"`
}

type FeedConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	Host             string          `mapstructure:"host"`
	Port             int             `mapstructure:"port"`
	Endpoint         string          `mapstructure:"endpoint"`
	TLS              bool            `mapstructure:"tls"`
	CAFile           string          `mapstructure:"ca_file"`
	StompHost        string          `mapstructure:"stomp_host"`
	Login            string          `mapstructure:"login"`
	Passcode         string          `mapstructure:"passcode"`
	Destination      string          `mapstructure:"destination"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration   `mapstructure:"ping_interval"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	Strategy     string        `mapstructure:"strategy"` // exponential or linear
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxRetries   int           `mapstructure:"max_retries"` // 0 retries forever
}

type EventsConfig struct {
	QueueSize   int `mapstructure:"queue_size"`
	HistorySize int `mapstructure:"history_size"`
}

type PathCacheConfig struct {
	Size int `mapstructure:"size"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	// Environment variable override
	v.SetEnvPrefix("NETMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_http3", false)
	v.SetDefault("server.http3_port", 8443)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.debug_endpoints", false)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.key_prefix", "netmon:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Layout defaults
	v.SetDefault("monitor.layout.url", "https://ltnm.learncppthroughprojects.com/network-layout.json")
	v.SetDefault("monitor.layout.path", "/var/lib/network-monitor/network-layout.json")
	v.SetDefault("monitor.layout.ca_file", "")
	v.SetDefault("monitor.layout.download_timeout", "30s")
	v.SetDefault("monitor.layout.refresh_schedule", "@every 6h")
	v.SetDefault("monitor.layout.watch", false)

	// Feed defaults
	v.SetDefault("monitor.feed.enabled", true)
	v.SetDefault("monitor.feed.host", "ltnm.learncppthroughprojects.com")
	v.SetDefault("monitor.feed.port", 443)
	v.SetDefault("monitor.feed.endpoint", "/network-events")
	v.SetDefault("monitor.feed.tls", true)
	v.SetDefault("monitor.feed.stomp_host", "transportforlondon.com")
	v.SetDefault("monitor.feed.login", "")
	v.SetDefault("monitor.feed.passcode", "")
	v.SetDefault("monitor.feed.ca_file", "")
	v.SetDefault("monitor.feed.destination", "/passengers")
	v.SetDefault("monitor.feed.handshake_timeout", "10s")
	v.SetDefault("monitor.feed.ping_interval", "30s")
	v.SetDefault("monitor.feed.reconnect.strategy", "exponential")
	v.SetDefault("monitor.feed.reconnect.initial_delay", "1s")
	v.SetDefault("monitor.feed.reconnect.max_delay", "1m")
	v.SetDefault("monitor.feed.reconnect.multiplier", 2.0)
	v.SetDefault("monitor.feed.reconnect.max_retries", 0)

	// Event defaults
	v.SetDefault("monitor.events.queue_size", 4096)
	v.SetDefault("monitor.events.history_size", 1000)

	v.SetDefault("monitor.path_cache.size", 1024)
}
