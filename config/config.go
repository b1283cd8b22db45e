package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "config/config.yml"

type Config struct {
	App      AppConfig      `yaml:"app"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Logging  LoggingConfig  `yaml:"logging"`
	ErrorLog ErrorLogConfig `yaml:"error_log"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type GatewayConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ClientID         int64         `yaml:"client_id"`
	Account          string        `yaml:"account"`
	BridgePath       string        `yaml:"bridge_path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// TimeoutsConfig holds the bounded wait of each blocking request. Zero
// means wait until the caller's context ends.
type TimeoutsConfig struct {
	ReqIDs          time.Duration `yaml:"req_ids"`
	ContractDetails time.Duration `yaml:"contract_details"`
	Historical      time.Duration `yaml:"historical"`
	HeadTimestamp   time.Duration `yaml:"head_timestamp"`
	MaxHistory      time.Duration `yaml:"max_history"`
	Positions       time.Duration `yaml:"positions"`
	AccountSummary  time.Duration `yaml:"account_summary"`
	PnL             time.Duration `yaml:"pnl"`
	OpenOrders      time.Duration `yaml:"open_orders"`
	CompletedOrders time.Duration `yaml:"completed_orders"`
	Scanner         time.Duration `yaml:"scanner"`
}

type PacingConfig struct {
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
	HistoricalPerSpan int           `yaml:"historical_per_span"`
	HistoricalSpan    time.Duration `yaml:"historical_span"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ErrorLogConfig struct {
	Path string `yaml:"path"`
	// Mode is "a" to append to an existing log or "w" to truncate it.
	Mode          string `yaml:"mode"`
	Verbose       bool   `yaml:"verbose"`
	ErrorsVerbose bool   `yaml:"errors_verbose"`
}

type StorageConfig struct {
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Parquet ParquetConfig `yaml:"parquet"`
	S3      S3Config      `yaml:"s3"`
	CSV     CSVConfig     `yaml:"csv"`
}

type SQLiteConfig struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type CSVConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled        bool             `yaml:"enabled"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "ibtrading", Version: "1.0.0"},
		Gateway: GatewayConfig{
			Host:             "127.0.0.1",
			Port:             7497,
			ClientID:         1,
			BridgePath:       "/ws",
			HandshakeTimeout: 5 * time.Second,
			PingInterval:     20 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			ReqIDs:          3 * time.Second,
			ContractDetails: 10 * time.Second,
			Historical:      10 * time.Second,
			HeadTimestamp:   3 * time.Second,
			Positions:       5 * time.Second,
			AccountSummary:  4 * time.Second,
			PnL:             2 * time.Second,
			OpenOrders:      3 * time.Second,
			CompletedOrders: 3 * time.Second,
			Scanner:         15 * time.Second,
		},
		Pacing: PacingConfig{
			MessagesPerSecond: 50,
			MessageBurst:      50,
			HistoricalPerSpan: 60,
			HistoricalSpan:    10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		ErrorLog: ErrorLogConfig{
			Path: "error.log",
			Mode: "a",
		},
		Storage: StorageConfig{
			SQLite:  SQLiteConfig{Path: "bars.db", BatchSize: 500},
			Parquet: ParquetConfig{Dir: "data", Compression: "snappy"},
			CSV:     CSVConfig{Dir: "."},
		},
		Metrics: MetricsConfig{
			ReportInterval: time.Minute,
			CloudWatch:     CloudWatchConfig{Namespace: "IBTrading", Dashboard: "IBTrading"},
		},
	}
}

// LoadConfig reads path (or the APP_ENV specific file when one exists), fills
// unset keys from Default, applies environment overrides and validates.
func LoadConfig(path string) (*Config, error) {
	path = ResolvePath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) error {
	if v := strings.TrimSpace(os.Getenv("IB_HOST")); v != "" {
		config.Gateway.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("IB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IB_PORT %q is not a number", v)
		}
		config.Gateway.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("IB_CLIENT_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("IB_CLIENT_ID %q is not a number", v)
		}
		config.Gateway.ClientID = id
	}
	if v := strings.TrimSpace(os.Getenv("IB_ACCOUNT")); v != "" {
		config.Gateway.Account = v
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535")
	}
	if cfg.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must not be negative")
	}
	if cfg.Gateway.HandshakeTimeout <= 0 {
		return fmt.Errorf("gateway.handshake_timeout must be greater than 0")
	}

	for name, d := range cfg.Timeouts.byName() {
		if d < 0 {
			return fmt.Errorf("timeouts.%s must not be negative", name)
		}
	}

	if cfg.Pacing.MessagesPerSecond <= 0 {
		return fmt.Errorf("pacing.messages_per_second must be greater than 0")
	}
	if cfg.Pacing.HistoricalPerSpan <= 0 || cfg.Pacing.HistoricalSpan <= 0 {
		return fmt.Errorf("pacing.historical_per_span and pacing.historical_span must be greater than 0")
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	switch cfg.ErrorLog.Mode {
	case "a", "w":
	default:
		return fmt.Errorf("error_log.mode must be \"a\" or \"w\"")
	}
	if cfg.ErrorLog.Path == "" {
		return fmt.Errorf("error_log.path is required")
	}

	if cfg.Storage.SQLite.BatchSize <= 0 {
		return fmt.Errorf("storage.sqlite.batch_size must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func (t TimeoutsConfig) byName() map[string]time.Duration {
	return map[string]time.Duration{
		"req_ids":          t.ReqIDs,
		"contract_details": t.ContractDetails,
		"historical":       t.Historical,
		"head_timestamp":   t.HeadTimestamp,
		"max_history":      t.MaxHistory,
		"positions":        t.Positions,
		"account_summary":  t.AccountSummary,
		"pnl":              t.PnL,
		"open_orders":      t.OpenOrders,
		"completed_orders": t.CompletedOrders,
		"scanner":          t.Scanner,
	}
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
