package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Code policies applied when a payment definitively fails after a code was redeemed.
const (
	CodePolicyRestore = "restore"
	CodePolicyKeep    = "keep"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Courts []CourtConfig `yaml:"courts"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Locks struct {
		TTLSeconds           int `yaml:"ttl_seconds"`
		MaxTTLSeconds        int `yaml:"max_ttl_seconds"`
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
		AcquireLimit         int `yaml:"acquire_limit"`
		AcquireWindowSeconds int `yaml:"acquire_window_seconds"`
	} `yaml:"locks"`

	Payment struct {
		Provider            string  `yaml:"provider"`
		Currency            string  `yaml:"currency"`
		PublicKey           string  `yaml:"public_key"`
		SecretKey           string  `yaml:"secret_key"`
		TimeoutSeconds      int     `yaml:"timeout_seconds"`
		SafetyMarginSeconds int     `yaml:"safety_margin_seconds"`
		RatePerSecond       float64 `yaml:"rate_per_second"`
		Burst               int     `yaml:"burst"`
		ReconcileAttempts   int     `yaml:"reconcile_attempts"`
		CodePolicy          string  `yaml:"code_policy"`
	} `yaml:"payment"`

	API struct {
		Address string `yaml:"address"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"api"`

	Telegram struct {
		BotToken       string  `yaml:"bot_token"`
		ManagerChatIDs []int64 `yaml:"manager_chat_ids"`
	} `yaml:"telegram"`

	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`

	Monitoring struct {
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config, expanding ${ENV_VAR} placeholders first.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/reservas.db"
	}
	if c.Payment.Provider == "" {
		c.Payment.Provider = "sandbox"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "clp"
	}
	if c.Payment.CodePolicy == "" {
		c.Payment.CodePolicy = CodePolicyRestore
	}
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "reservas.events"
	}
	if c.Monitoring.GRPCHealthPort == 0 {
		c.Monitoring.GRPCHealthPort = 9091
	}
}

// Validate rejects settings the engine cannot honor.
func (c *Config) Validate() error {
	if err := validateCourts(c.Courts); err != nil {
		return err
	}
	switch c.Payment.CodePolicy {
	case CodePolicyRestore, CodePolicyKeep:
	default:
		return fmt.Errorf("payment.code_policy must be %q or %q, got %q", CodePolicyRestore, CodePolicyKeep, c.Payment.CodePolicy)
	}
	switch c.Payment.Provider {
	case "sandbox", "omise":
	default:
		return fmt.Errorf("unknown payment.provider %q", c.Payment.Provider)
	}
	if c.Payment.Provider == "omise" && c.Payment.SecretKey == "" {
		return fmt.Errorf("payment.secret_key is required for omise")
	}
	if c.LockTTL() > c.MaxLockTTL() {
		return fmt.Errorf("locks.ttl_seconds exceeds locks.max_ttl_seconds")
	}
	if c.PaymentTimeout()+c.PaymentSafetyMargin() >= c.LockTTL() {
		return fmt.Errorf("payment timeout plus safety margin must be shorter than the lock TTL")
	}
	return nil
}

func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Locks.TTLSeconds) * time.Second
}

func (c *Config) MaxLockTTL() time.Duration {
	if c.Locks.MaxTTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Locks.MaxTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	if c.Locks.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Locks.SweepIntervalSeconds) * time.Second
}

// AcquireLimit returns how many holds one session may request per AcquireWindow; 0 disables throttling.
func (c *Config) AcquireLimit() int {
	if c.Locks.AcquireLimit < 0 {
		return 0
	}
	return c.Locks.AcquireLimit
}

func (c *Config) AcquireWindow() time.Duration {
	if c.Locks.AcquireWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Locks.AcquireWindowSeconds) * time.Second
}

func (c *Config) PaymentTimeout() time.Duration {
	if c.Payment.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Payment.TimeoutSeconds) * time.Second
}

func (c *Config) PaymentSafetyMargin() time.Duration {
	if c.Payment.SafetyMarginSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Payment.SafetyMarginSeconds) * time.Second
}

func (c *Config) ReconcileAttempts() int {
	if c.Payment.ReconcileAttempts <= 0 {
		return 3
	}
	return c.Payment.ReconcileAttempts
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
