package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultPollInterval is the refetch delay used while a job reports an
	// in-progress status
	DefaultPollInterval = 2 * time.Second
)

// Config represents the complete application configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Logging LoggingConfig `yaml:"logging"`
	Client  ClientConfig  `yaml:"client"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Notify  NotifyConfig  `yaml:"notify"`
	Sim     SimConfig     `yaml:"sim"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ClientConfig holds settings for the job API clients
type ClientConfig struct {
	BaseURL      string        `yaml:"base_url"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LedgerConfig holds the optional submission ledger settings
type LedgerConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// NotifyConfig holds the optional completion-event publisher settings
type NotifyConfig struct {
	Enabled  bool           `yaml:"enabled"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// SimConfig holds the endpoint simulator settings
type SimConfig struct {
	Server     ServerConfig  `yaml:"server"`
	StageDelay time.Duration `yaml:"stage_delay"`
	FailEvery  int           `yaml:"fail_every"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills zero values that have a sensible default
func (c *Config) applyDefaults() {
	if c.Client.PollInterval <= 0 {
		c.Client.PollInterval = DefaultPollInterval
	}
	if c.Client.HTTPTimeout <= 0 {
		c.Client.HTTPTimeout = 30 * time.Second
	}
}

// ValidateClient checks the configuration needed by the jobwatch CLI
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base_url is required")
	}

	if !strings.HasPrefix(c.Client.BaseURL, "http://") && !strings.HasPrefix(c.Client.BaseURL, "https://") {
		return fmt.Errorf("client base_url must start with http:// or https://")
	}

	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client poll_interval must be greater than 0")
	}

	if c.Ledger.Enabled {
		if c.Ledger.Database.Host == "" {
			return fmt.Errorf("ledger database host is required")
		}
		if c.Ledger.Database.Port < MinPort || c.Ledger.Database.Port > MaxPort {
			return fmt.Errorf("invalid ledger database port: %d (must be between %d and %d)", c.Ledger.Database.Port, MinPort, MaxPort)
		}
		if c.Ledger.Database.Database == "" {
			return fmt.Errorf("ledger database name is required")
		}
	}

	if c.Notify.Enabled {
		if c.Notify.RabbitMQ.Host == "" {
			return fmt.Errorf("notify rabbitmq host is required")
		}
		if c.Notify.RabbitMQ.Port < MinPort || c.Notify.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid notify rabbitmq port: %d (must be between %d and %d)", c.Notify.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.Notify.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("notify rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateSim checks the configuration needed by the jobsim daemon
func (c *Config) ValidateSim() error {
	if c.Sim.Server.Port < MinPort || c.Sim.Server.Port > MaxPort {
		return fmt.Errorf("invalid sim server port: %d (must be between %d and %d)", c.Sim.Server.Port, MinPort, MaxPort)
	}

	if c.Sim.StageDelay <= 0 {
		return fmt.Errorf("sim stage_delay must be greater than 0")
	}

	if c.Sim.FailEvery < 0 {
		return fmt.Errorf("sim fail_every must not be negative")
	}

	return nil
}
