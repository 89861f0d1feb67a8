package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type StoreConfig struct {
	Backend  string      `yaml:"backend"` // bolt|redis
	BoltPath string      `yaml:"bolt_path"`
	Redis    RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // postgres|sqlite3
	DSN     string `yaml:"dsn"`
}

type EngineConfig struct {
	CLIPath string   `yaml:"cli_path"`
	Args    []string `yaml:"args"`

	// ConfigFile is a gvm-tools config holding the GMP credentials. When set,
	// Username and Password are not put on the gvm-cli command line.
	ConfigFile string `yaml:"config_file"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	ScanConfigID string `yaml:"scan_config_id"`
	ScannerID    string `yaml:"scanner_id"`
	PortList     string `yaml:"port_list"`

	CommandTimeoutSec int `yaml:"command_timeout_seconds"`
	Retries           int `yaml:"retries"`
}

type ScanConfig struct {
	PollIntervalSec    int `yaml:"poll_interval_seconds"`
	MaxDurationMin     int `yaml:"max_duration_minutes"`
	PrecheckTimeoutSec int `yaml:"precheck_timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	TokenTTL  int    `yaml:"token_ttl_hours"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Listen   string         `yaml:"listen"`
	Store    StoreConfig    `yaml:"store"`
	History  HistoryConfig  `yaml:"history"`
	Engine   EngineConfig   `yaml:"engine"`
	Scan     ScanConfig     `yaml:"scan"`
	Auth     AuthConfig     `yaml:"auth"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig reads the YAML file at path. A missing file is an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VULNORCH_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("VULNORCH_GVM_PASSWORD"); v != "" {
		c.Engine.Password = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.History.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8088"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "bolt"
	}
	if c.Store.BoltPath == "" {
		c.Store.BoltPath = "data/vulnorch.db"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}

	if c.History.Driver == "" {
		c.History.Driver = "postgres"
	}

	if c.Engine.CLIPath == "" {
		c.Engine.CLIPath = "gvm-cli"
	}
	if len(c.Engine.Args) == 0 {
		c.Engine.Args = []string{"socket", "--socketpath", "/run/gvmd/gvmd.sock"}
	}
	if c.Engine.ScanConfigID == "" {
		// "Full and fast"
		c.Engine.ScanConfigID = "daba56c8-73ec-11df-a475-002264764cea"
	}
	if c.Engine.ScannerID == "" {
		// built-in OpenVAS scanner
		c.Engine.ScannerID = "08b69003-5fc2-4037-a479-93b440211c73"
	}
	if c.Engine.PortList == "" {
		c.Engine.PortList = "auto"
	}
	if c.Engine.CommandTimeoutSec <= 0 {
		c.Engine.CommandTimeoutSec = 60
	}
	// negative disables retries
	if c.Engine.Retries == 0 {
		c.Engine.Retries = 2
	}

	if c.Scan.PollIntervalSec <= 0 {
		c.Scan.PollIntervalSec = 30
	}
	if c.Scan.MaxDurationMin <= 0 {
		c.Scan.MaxDurationMin = 240
	}
	if c.Scan.PrecheckTimeoutSec <= 0 {
		c.Scan.PrecheckTimeoutSec = 10
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "vulnorch"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24
	}

	if c.Telegram.APIBase == "" {
		c.Telegram.APIBase = "https://api.telegram.org"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scan.PollIntervalSec) * time.Second
}

func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Scan.MaxDurationMin) * time.Minute
}

func (c *Config) PrecheckTimeout() time.Duration {
	return time.Duration(c.Scan.PrecheckTimeoutSec) * time.Second
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Engine.CommandTimeoutSec) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTL) * time.Hour
}
