package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yml"

	defaultRestURL    = "https://api.binance.com"
	defaultWsURL      = "wss://stream.binance.com:9443"
	defaultDepthLimit = 50
	defaultInterval   = 10 * time.Second

	symbolsEnvVar = "DEPTHWATCH_SYMBOLS"
)

// DefaultSymbols are tracked when neither the config file nor the
// environment names any.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT"}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Symbols  []string       `yaml:"symbols"`
	Binance  BinanceConfig  `yaml:"binance"`
	Report   ReportConfig   `yaml:"report"`
	Channels ChannelsConfig `yaml:"channels"`
	Status   StatusConfig   `yaml:"status"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type BinanceConfig struct {
	RestURL          string               `yaml:"rest_url"`
	WsURL            string               `yaml:"ws_url"`
	DepthLimit       int                  `yaml:"depth_limit"`
	Timeout          time.Duration        `yaml:"timeout"`
	HandshakeTimeout time.Duration        `yaml:"handshake_timeout"`
	ExchangeInfo     bool                 `yaml:"exchange_info"`
	ConnectionPool   ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ReportConfig struct {
	Interval time.Duration `yaml:"interval"`
	// History bounds the number of volume changes kept per symbol for the status API.
	History int `yaml:"history"`
}

type ChannelsConfig struct {
	UpdateBuffer int `yaml:"update_buffer"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	UsedWeight bool             `yaml:"used_weight"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns the configuration used when no file is supplied. It
// reproduces the fixed behaviour of the client: two symbols, 50 levels and
// a 10 second report.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "depthwatch",
			Version: "dev",
		},
		Symbols: append([]string(nil), DefaultSymbols...),
		Binance: BinanceConfig{
			RestURL:          defaultRestURL,
			WsURL:            defaultWsURL,
			DepthLimit:       defaultDepthLimit,
			Timeout:          10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ExchangeInfo:     true,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    4,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Report: ReportConfig{
			Interval: defaultInterval,
			History:  60,
		},
		Channels: ChannelsConfig{
			UpdateBuffer: 64,
		},
		Status: StatusConfig{
			Enabled: false,
			Address: "127.0.0.1:2112",
		},
		Metrics: MetricsConfig{
			UsedWeight: true,
			CloudWatch: CloudWatchConfig{
				Namespace: "Depthwatch",
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: 30 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at path on top of Default. An empty path
// means DefaultConfigPath (or its APP_ENV variant), which may be absent so the
// binary runs without any configuration.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	explicit := path != ""
	path = resolveEnvSpecificPath(path, DefaultConfigPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if v := strings.TrimSpace(os.Getenv(symbolsEnvVar)); v != "" {
		config.Symbols = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("AWS_REGION")); v != "" && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = v
	}

	config.Symbols = normalizeSymbols(config.Symbols)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// normalizeSymbols upper-cases, trims and de-duplicates symbols keeping order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	if err := validateURL(cfg.Binance.RestURL, "http", "https"); err != nil {
		return fmt.Errorf("binance.rest_url: %w", err)
	}
	if err := validateURL(cfg.Binance.WsURL, "ws", "wss"); err != nil {
		return fmt.Errorf("binance.ws_url: %w", err)
	}

	if cfg.Binance.DepthLimit <= 0 || cfg.Binance.DepthLimit > 5000 {
		return fmt.Errorf("binance.depth_limit must be between 1 and 5000")
	}
	if cfg.Binance.Timeout <= 0 {
		return fmt.Errorf("binance.timeout must be greater than 0")
	}

	if cfg.Report.Interval <= 0 {
		return fmt.Errorf("report.interval must be greater than 0")
	}
	if cfg.Report.History < 0 {
		return fmt.Errorf("report.history must not be negative")
	}

	if cfg.Channels.UpdateBuffer < 0 {
		return fmt.Errorf("channels.update_buffer must not be negative")
	}

	if cfg.Status.Enabled && cfg.Status.Address == "" {
		return fmt.Errorf("status.address is required when status is enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when cloudwatch is enabled")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}
