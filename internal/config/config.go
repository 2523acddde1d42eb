package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the merged view of configuration/base.yaml, the
// environment-specific file and APP_* overrides.
type AppConfig struct {
	Environment string          `yaml:"-"`
	Web3        Web3Config      `yaml:"web3"`
	Relayer     RelayerConfig   `yaml:"relayer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Service     ServiceConfig   `yaml:"service"`
}

type Web3Config struct {
	ProviderEndpoint     string `yaml:"providerEndpoint"`
	PoolAddress          string `yaml:"poolAddress"`
	DirectDepositAddress string `yaml:"directDepositAddress"`
	SecretKey            string `yaml:"secretKey"`
	GasLimit             uint64 `yaml:"gasLimit"`
	ProviderTimeoutSec   int    `yaml:"providerTimeoutSec"`
}

type RelayerConfig struct {
	URL        string `yaml:"url"`
	LibVersion string `yaml:"libVersion"`
	SupportID  string `yaml:"supportId"`
}

type TelemetryConfig struct {
	Kind        string `yaml:"kind"`
	LogLevel    string `yaml:"logLevel"`
	ServiceName string `yaml:"serviceName"`
}

type ServiceConfig struct {
	HTTPPort         int    `yaml:"httpPort"`
	HMACSecret       string `yaml:"hmacSecret"`
	HMACClockSkewSec int    `yaml:"hmacClockSkewSec"`
	JobStorePath     string `yaml:"jobStorePath"`
	PostgresDSN      string `yaml:"postgresDSN"`
	PollIntervalMs   int    `yaml:"pollIntervalMs"`
	MaxPolls         int    `yaml:"maxPolls"`
}

const defaultEnvironment = "local"

// Default returns the values used when no file or variable sets them.
func Default() AppConfig {
	return AppConfig{
		Environment: defaultEnvironment,
		Web3: Web3Config{
			GasLimit:           2_000_000,
			ProviderTimeoutSec: 10,
		},
		Telemetry: TelemetryConfig{
			Kind:        "stdout",
			LogLevel:    "INFO",
			ServiceName: "poolbridge",
		},
		Service: ServiceConfig{
			HTTPPort:         3000,
			HMACClockSkewSec: 60,
			JobStorePath:     filepath.Join(os.TempDir(), "poolbridge-jobs.json"),
			PollIntervalMs:   2000,
			MaxPolls:         150,
		},
	}
}

// LoadFrom reads dir/base.yaml and dir/<environment>.yaml in that order, then
// applies APP_* overrides. Missing files are skipped; malformed ones are not.
func LoadFrom(dir, environment string) (*AppConfig, error) {
	cfg := Default()
	cfg.Environment = environment

	for _, name := range []string{"base.yaml", environment + ".yaml"} {
		if err := mergeFile(&cfg, filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

func applyEnvOverrides(cfg *AppConfig) {
	cfg.Web3.ProviderEndpoint = envOr("APP_WEB3__PROVIDER_ENDPOINT", cfg.Web3.ProviderEndpoint)
	cfg.Web3.PoolAddress = envOr("APP_WEB3__POOL_ADDRESS", cfg.Web3.PoolAddress)
	cfg.Web3.DirectDepositAddress = envOr("APP_WEB3__DIRECT_DEPOSIT_ADDRESS", cfg.Web3.DirectDepositAddress)
	cfg.Web3.SecretKey = envOr("APP_WEB3__SECRET_KEY", cfg.Web3.SecretKey)
	cfg.Web3.GasLimit = uint64(envOrInt("APP_WEB3__GAS_LIMIT", int(cfg.Web3.GasLimit)))
	cfg.Web3.ProviderTimeoutSec = envOrInt("APP_WEB3__PROVIDER_TIMEOUT_SEC", cfg.Web3.ProviderTimeoutSec)

	cfg.Relayer.URL = envOr("APP_RELAYER__URL", cfg.Relayer.URL)
	cfg.Relayer.LibVersion = envOr("APP_RELAYER__LIB_VERSION", cfg.Relayer.LibVersion)
	cfg.Relayer.SupportID = envOr("APP_RELAYER__SUPPORT_ID", cfg.Relayer.SupportID)

	cfg.Telemetry.Kind = envOr("APP_TELEMETRY__KIND", cfg.Telemetry.Kind)
	cfg.Telemetry.LogLevel = envOr("APP_TELEMETRY__LOG_LEVEL", cfg.Telemetry.LogLevel)
	cfg.Telemetry.ServiceName = envOr("APP_TELEMETRY__SERVICE_NAME", cfg.Telemetry.ServiceName)

	cfg.Service.HTTPPort = envOrInt("APP_SERVICE__HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.HMACSecret = envOr("APP_SERVICE__HMAC_SECRET", cfg.Service.HMACSecret)
	cfg.Service.HMACClockSkewSec = envOrInt("APP_SERVICE__HMAC_CLOCK_SKEW_SEC", cfg.Service.HMACClockSkewSec)
	cfg.Service.JobStorePath = envOr("APP_SERVICE__JOB_STORE_PATH", cfg.Service.JobStorePath)
	cfg.Service.PostgresDSN = envOr("APP_SERVICE__POSTGRES_DSN", cfg.Service.PostgresDSN)
	cfg.Service.PollIntervalMs = envOrInt("APP_SERVICE__POLL_INTERVAL_MS", cfg.Service.PollIntervalMs)
	cfg.Service.MaxPolls = envOrInt("APP_SERVICE__MAX_POLLS", cfg.Service.MaxPolls)
}

var logLevels = map[string]bool{"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

// Validate checks value ranges. Endpoints and addresses are checked by the
// clients that use them.
func (c *AppConfig) Validate() error {
	if c.Web3.ProviderTimeoutSec <= 0 {
		return fmt.Errorf("web3.providerTimeoutSec must be positive, got %d", c.Web3.ProviderTimeoutSec)
	}
	switch c.Telemetry.Kind {
	case "stdout", "sink":
	default:
		return fmt.Errorf("telemetry.kind must be stdout or sink, got %q", c.Telemetry.Kind)
	}
	if !logLevels[strings.ToUpper(c.Telemetry.LogLevel)] {
		return fmt.Errorf("telemetry.logLevel %q is not one of TRACE, DEBUG, INFO, WARN, ERROR", c.Telemetry.LogLevel)
	}
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("service.httpPort out of range: %d", c.Service.HTTPPort)
	}
	if c.Service.PollIntervalMs <= 0 {
		return fmt.Errorf("service.pollIntervalMs must be positive, got %d", c.Service.PollIntervalMs)
	}
	if c.Service.MaxPolls < 0 {
		return fmt.Errorf("service.maxPolls must not be negative, got %d", c.Service.MaxPolls)
	}
	return nil
}

func (w Web3Config) ProviderTimeout() time.Duration {
	return time.Duration(w.ProviderTimeoutSec) * time.Second
}

func (s ServiceConfig) HMACClockSkew() time.Duration {
	return time.Duration(s.HMACClockSkewSec) * time.Second
}

func (s ServiceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
