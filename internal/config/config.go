package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// UDPBURST_BURST_PORT for burst.port.
const EnvPrefix = "UDPBURST"

type Config struct {
	Burst   BurstConfig   `mapstructure:"burst"`
	Server  ServerConfig  `mapstructure:"server"`
	Results ResultsConfig `mapstructure:"results"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type BurstConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	Port           int           `mapstructure:"port"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"` // idle time before a partial burst is reported
	GlobalTimeout  time.Duration `mapstructure:"global_timeout"`  // socket idle time before the sweep
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`    // receive loop poll interval
	SocketBuffer   int           `mapstructure:"socket_buffer"`   // SO_RCVBUF/SO_SNDBUF, 0 keeps the OS default

	// Admission control
	MaxSessions        int           `mapstructure:"max_sessions"`          // 0 = unlimited
	MaxSessionsPerHost int           `mapstructure:"max_sessions_per_host"` // 0 = unlimited
	RequestRate        float64       `mapstructure:"request_rate"`          // REQUESTs per second per client host, 0 = unlimited
	RequestBurst       int           `mapstructure:"request_burst"`
	LimiterIdleTimeout time.Duration `mapstructure:"limiter_idle_timeout"`
}

// Addr returns the UDP listen address.
func (b *BurstConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.ListenAddr, b.Port)
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// HTTP/3, enabled when both TLS files are set
	HTTP3Port          int           `mapstructure:"http3_port"`
	TLSCertFile        string        `mapstructure:"tls_cert_file"`
	TLSKeyFile         string        `mapstructure:"tls_key_file"`
	MaxIncomingStreams int64         `mapstructure:"max_incoming_streams"`
	MaxIdleTimeout     time.Duration `mapstructure:"max_idle_timeout"`
}

// HTTP3Enabled reports whether TLS material is configured.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type ResultsConfig struct {
	Backend   string        `mapstructure:"backend"`    // memory or redis
	Capacity  int           `mapstructure:"capacity"`   // results kept by the memory store and listed by the API
	TTL       time.Duration `mapstructure:"ttl"`        // redis key expiry
	QueueSize int           `mapstructure:"queue_size"` // pending publishes before results are dropped
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
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

// Load reads configuration from defaults, an optional YAML file and
// UDPBURST_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
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

// Default returns the configuration produced by Load with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Burst defaults
	v.SetDefault("burst.listen_addr", "0.0.0.0")
	v.SetDefault("burst.port", 31341)
	v.SetDefault("burst.session_timeout", "1s")
	v.SetDefault("burst.global_timeout", "60s")
	v.SetDefault("burst.read_timeout", "1s")
	v.SetDefault("burst.socket_buffer", 0)
	v.SetDefault("burst.max_sessions", 10000)
	v.SetDefault("burst.max_sessions_per_host", 64)
	v.SetDefault("burst.request_rate", 10)
	v.SetDefault("burst.request_burst", 20)
	v.SetDefault("burst.limiter_idle_timeout", "5m")

	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug_endpoints", false)
	v.SetDefault("server.http3_port", 8443)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.max_incoming_streams", 1000)
	v.SetDefault("server.max_idle_timeout", "30s")

	// Results defaults
	v.SetDefault("results.backend", "memory")
	v.SetDefault("results.capacity", 1000)
	v.SetDefault("results.ttl", "24h")
	v.SetDefault("results.queue_size", 1024)
	v.SetDefault("results.key_prefix", "udpburst")

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

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
}
