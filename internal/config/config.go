// Package config loads the proxy's flat configuration surface from a
// YAML file, with environment variables overriding named keys, built on
// spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the single configuration struct for the proxy.
type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	HTTPSListenAddr string `mapstructure:"https_listen_addr"`
	LogLevel        string `mapstructure:"log_level"`

	TLS       TLSConfig       `mapstructure:"tls"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

type TLSConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	CertPath              string `mapstructure:"cert_path"`
	KeyPath               string `mapstructure:"key_path"`
	AutoGenerateCert      bool   `mapstructure:"auto_generate_cert"`
	CACertPath            string `mapstructure:"ca_cert_path"`
	CAKeyPath             string `mapstructure:"ca_key_path"`
	SkipUpstreamCertVerify bool  `mapstructure:"skip_upstream_cert_verify"`
	MinTLSVersion         string `mapstructure:"min_tls_version"`
	CertOrganization      string `mapstructure:"cert_organization"`
	CertCommonName        string `mapstructure:"cert_common_name"`
	CertValidityDays      int    `mapstructure:"cert_validity_days"`
	CertificateStorage    string `mapstructure:"certificate_storage"` // "memory" | "remote"
}

type RedisConfig struct {
	URL               string        `mapstructure:"url"`
	PoolSize          int           `mapstructure:"pool_size"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

type HTTPClientConfig struct {
	MaxIdlePerHost      int           `mapstructure:"max_idle_per_host"`
	IdleTimeoutSecs     int           `mapstructure:"idle_timeout_secs"`
	ConnectTimeoutSecs  int           `mapstructure:"connect_timeout_secs"`
	RequestTimeoutSecs  int           `mapstructure:"request_timeout_secs"`
	TCPKeepAlive        bool          `mapstructure:"tcp_keepalive"`
	TCPKeepAliveIntSecs int           `mapstructure:"tcp_keepalive_interval_secs"`
	NoDelay             bool          `mapstructure:"nodelay"`
}

type StreamingConfig struct {
	MaxLogBodySize         int64 `mapstructure:"max_log_body_size"`
	MaxPartialLogSize      int64 `mapstructure:"max_partial_log_size"`
	EnableResponseStreaming bool `mapstructure:"enable_response_streaming"`
	EnableRequestStreaming  bool `mapstructure:"enable_request_streaming"`
}

type RuntimeConfig struct {
	Mode                string        `mapstructure:"mode"` // single_threaded | multi_threaded | multi_process
	WorkerThreads       int           `mapstructure:"worker_threads"`
	ProcessCount        int           `mapstructure:"process_count"`
	UseReuseport        bool          `mapstructure:"use_reuseport"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// Default returns the zero-config defaults.
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		HTTPSListenAddr: "127.0.0.1:8443",
		LogLevel:        "info",
		TLS: TLSConfig{
			AutoGenerateCert:   true,
			MinTLSVersion:      "1.2",
			CertCommonName:     "Intercept Proxy Local CA",
			CertOrganization:   "Intercept Proxy",
			CertValidityDays:   30,
			CertificateStorage: "memory",
		},
		Redis: RedisConfig{
			PoolSize:          10,
			ConnectionTimeout: 5 * time.Second,
		},
		HTTPClient: HTTPClientConfig{
			MaxIdlePerHost:      50,
			IdleTimeoutSecs:     90,
			ConnectTimeoutSecs:  10,
			RequestTimeoutSecs:  30,
			TCPKeepAlive:        true,
			TCPKeepAliveIntSecs: 30,
			NoDelay:             true,
		},
		Streaming: StreamingConfig{
			MaxLogBodySize:          1 << 20, // 1 MiB
			MaxPartialLogSize:       1 << 10, // 1 KiB
			EnableResponseStreaming: true,
			EnableRequestStreaming:  false,
		},
		Runtime: RuntimeConfig{
			Mode:                "multi_threaded",
			UseReuseport:        false,
			ShutdownGracePeriod: 10 * time.Second,
		},
	}
}

// Load reads path (if non-empty; a missing file is an error) over the defaults, then
// applies environment variable overrides. Environment variables use the
// prefix PROXY_ and underscores in place of dots, e.g.
// PROXY_TLS_SKIP_UPSTREAM_CERT_VERIFY overrides tls.skip_upstream_cert_verify.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// bindDefaults seeds viper with the zero-config defaults, keyed the same
// way mapstructure will address them, so that AutomaticEnv and an absent
// config file still resolve every key to something sane.
func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("https_listen_addr", cfg.HTTPSListenAddr)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("tls.enabled", cfg.TLS.Enabled)
	v.SetDefault("tls.cert_path", cfg.TLS.CertPath)
	v.SetDefault("tls.key_path", cfg.TLS.KeyPath)
	v.SetDefault("tls.auto_generate_cert", cfg.TLS.AutoGenerateCert)
	v.SetDefault("tls.ca_cert_path", cfg.TLS.CACertPath)
	v.SetDefault("tls.ca_key_path", cfg.TLS.CAKeyPath)
	v.SetDefault("tls.skip_upstream_cert_verify", cfg.TLS.SkipUpstreamCertVerify)
	v.SetDefault("tls.min_tls_version", cfg.TLS.MinTLSVersion)
	v.SetDefault("tls.cert_organization", cfg.TLS.CertOrganization)
	v.SetDefault("tls.cert_common_name", cfg.TLS.CertCommonName)
	v.SetDefault("tls.cert_validity_days", cfg.TLS.CertValidityDays)
	v.SetDefault("tls.certificate_storage", cfg.TLS.CertificateStorage)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)
	v.SetDefault("redis.connection_timeout", cfg.Redis.ConnectionTimeout)

	v.SetDefault("http_client.max_idle_per_host", cfg.HTTPClient.MaxIdlePerHost)
	v.SetDefault("http_client.idle_timeout_secs", cfg.HTTPClient.IdleTimeoutSecs)
	v.SetDefault("http_client.connect_timeout_secs", cfg.HTTPClient.ConnectTimeoutSecs)
	v.SetDefault("http_client.request_timeout_secs", cfg.HTTPClient.RequestTimeoutSecs)
	v.SetDefault("http_client.tcp_keepalive", cfg.HTTPClient.TCPKeepAlive)
	v.SetDefault("http_client.tcp_keepalive_interval_secs", cfg.HTTPClient.TCPKeepAliveIntSecs)
	v.SetDefault("http_client.nodelay", cfg.HTTPClient.NoDelay)

	v.SetDefault("streaming.max_log_body_size", cfg.Streaming.MaxLogBodySize)
	v.SetDefault("streaming.max_partial_log_size", cfg.Streaming.MaxPartialLogSize)
	v.SetDefault("streaming.enable_response_streaming", cfg.Streaming.EnableResponseStreaming)
	v.SetDefault("streaming.enable_request_streaming", cfg.Streaming.EnableRequestStreaming)

	v.SetDefault("runtime.mode", cfg.Runtime.Mode)
	v.SetDefault("runtime.worker_threads", cfg.Runtime.WorkerThreads)
	v.SetDefault("runtime.process_count", cfg.Runtime.ProcessCount)
	v.SetDefault("runtime.use_reuseport", cfg.Runtime.UseReuseport)
	v.SetDefault("runtime.shutdown_grace_period", cfg.Runtime.ShutdownGracePeriod)
}

// Validate enforces the invariants the rest of the system assumes hold:
// interception must have CA material before the listener starts
// accepting connections.
func (c Config) Validate() error {
	// Interception is always on: the listener mints a leaf for every
	// intercepted host, so CA material is required unconditionally,
	// not just when tls.enabled is set.
	if !c.TLS.AutoGenerateCert {
		if c.TLS.CACertPath == "" || c.TLS.CAKeyPath == "" {
			return fmt.Errorf("config invalid: tls.ca_cert_path and tls.ca_key_path are required unless tls.auto_generate_cert is set")
		}
	}
	switch c.TLS.CertificateStorage {
	case "memory", "remote":
	default:
		return fmt.Errorf("config invalid: tls.certificate_storage must be 'memory' or 'remote', got %q", c.TLS.CertificateStorage)
	}
	if c.TLS.CertificateStorage == "remote" && c.Redis.URL == "" {
		return fmt.Errorf("config invalid: redis.url is required when tls.certificate_storage is 'remote'")
	}
	switch c.Runtime.Mode {
	case "single_threaded", "multi_threaded", "multi_process":
	default:
		return fmt.Errorf("config invalid: runtime.mode must be one of single_threaded, multi_threaded, multi_process, got %q", c.Runtime.Mode)
	}
	return nil
}
