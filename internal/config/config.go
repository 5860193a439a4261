// Package config resolves the kernel's build-time settings: data root,
// terminal id, concurrency cap, and inactivity timeout. Precedence,
// highest first: explicit environment variables, a `.env` file loaded
// best-effort via godotenv, a `kernel.yaml` file, then the built-in
// defaults below.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when no override is present at any precedence level.
const (
	DefaultDataDir              = "./pos_kernel_data"
	DefaultMaxConcurrentTxns    = 1000
	DefaultTransactionTimeout   = 300 * time.Second
	DefaultLogLevel             = "info"
	envDataDir                  = "POS_KERNEL_DATA_DIR"
	envTerminalID               = "POS_TERMINAL_ID"
	envMaxConcurrent            = "POS_KERNEL_MAX_CONCURRENT_TRANSACTIONS"
	envTimeoutSeconds           = "POS_KERNEL_TRANSACTION_TIMEOUT_SECONDS"
	envLogLevel                 = "POS_KERNEL_LOG_LEVEL"
	defaultEnvFile              = ".env"
	defaultYAMLFile             = "kernel.yaml"
)

// Config is the fully resolved set of kernel build-time settings.
type Config struct {
	DataDir                   string        `yaml:"data_dir"`
	TerminalID                string        `yaml:"terminal_id"`
	MaxConcurrentTransactions int           `yaml:"max_concurrent_transactions"`
	TransactionTimeout        time.Duration `yaml:"-"`
	TransactionTimeoutSeconds int           `yaml:"transaction_timeout_seconds"`
	LogLevel                  string        `yaml:"log_level"`
}

// fileOverlay is the shape of kernel.yaml; any field left zero does not
// override a value already set by the environment.
type fileOverlay struct {
	DataDir                   string `yaml:"data_dir"`
	TerminalID                string `yaml:"terminal_id"`
	MaxConcurrentTransactions int    `yaml:"max_concurrent_transactions"`
	TransactionTimeoutSeconds int    `yaml:"transaction_timeout_seconds"`
	LogLevel                  string `yaml:"log_level"`
}

// Load resolves configuration from the environment, an optional .env file,
// and an optional kernel.yaml file in that precedence order, falling back
// to built-in defaults. yamlPath may be empty to skip the file overlay.
func Load(yamlPath string) (Config, error) {
	// Best-effort: a missing .env is normal, not an error. A kernel
	// embedded into another process should not refuse to start just
	// because no .env was shipped alongside it.
	_ = godotenv.Load(defaultEnvFile)

	cfg := Config{
		DataDir:                   DefaultDataDir,
		MaxConcurrentTransactions: DefaultMaxConcurrentTxns,
		TransactionTimeoutSeconds: int(DefaultTransactionTimeout / time.Second),
		LogLevel:                  DefaultLogLevel,
	}

	if yamlPath == "" {
		yamlPath = defaultYAMLFile
	}
	if data, err := os.ReadFile(yamlPath); err == nil {
		var overlay fileOverlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
		applyOverlay(&cfg, overlay)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
	}

	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envTerminalID); v != "" {
		cfg.TerminalID = v
	}
	if v := os.Getenv(envMaxConcurrent); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envMaxConcurrent, err)
		}
		cfg.MaxConcurrentTransactions = n
	}
	if v := os.Getenv(envTimeoutSeconds); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envTimeoutSeconds, err)
		}
		cfg.TransactionTimeoutSeconds = n
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	cfg.TransactionTimeout = time.Duration(cfg.TransactionTimeoutSeconds) * time.Second
	return cfg, nil
}

func applyOverlay(cfg *Config, o fileOverlay) {
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.TerminalID != "" {
		cfg.TerminalID = o.TerminalID
	}
	if o.MaxConcurrentTransactions != 0 {
		cfg.MaxConcurrentTransactions = o.MaxConcurrentTransactions
	}
	if o.TransactionTimeoutSeconds != 0 {
		cfg.TransactionTimeoutSeconds = o.TransactionTimeoutSeconds
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}
