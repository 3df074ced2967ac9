package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override, e.g. CONTENTGEN_DATABASE_HOST
	EnvPrefix = "CONTENTGEN"
)

// Queue drivers
const (
	QueueDriverPostgres = "postgres"
	QueueDriverMemory   = "memory"
)

// Event transports
const (
	TransportLocal    = "local"
	TransportRabbitMQ = "rabbitmq"
	TransportRedis    = "redis"
	TransportNSQ      = "nsq"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	NSQ        NSQConfig        `yaml:"nsq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Events     EventsConfig     `yaml:"events"`
	Auth       AuthConfig       `yaml:"auth"`
	Generation GenerationConfig `yaml:"generation"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" split_words:"true"`
	RetryAttempts   int           `yaml:"retry_attempts" split_words:"true"`
	RetryInterval   time.Duration `yaml:"retry_interval" split_words:"true"`
	Migrate         bool          `yaml:"migrate"`
}

// QueueConfig selects the job queue backend
type QueueConfig struct {
	Driver string `yaml:"driver"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host            string           `yaml:"host"`
	Port            int              `yaml:"port"`
	User            string           `yaml:"user"`
	Password        string           `yaml:"password"`
	VHost           string           `yaml:"vhost"`
	ExchangeDurable bool             `yaml:"exchange_durable" split_words:"true"`
	PrefetchCount   int              `yaml:"prefetch_count" split_words:"true"`
	Connection      ConnectionConfig `yaml:"connection"`
	Publish         PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts" split_words:"true"`
	RetryInterval time.Duration `yaml:"retry_interval" split_words:"true"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" split_words:"true"`
	RetryInterval     time.Duration `yaml:"retry_interval" split_words:"true"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" split_words:"true"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size" split_words:"true"`
	DialTimeout   time.Duration `yaml:"dial_timeout" split_words:"true"`
	RetryAttempts int           `yaml:"retry_attempts" split_words:"true"`
	RetryInterval time.Duration `yaml:"retry_interval" split_words:"true"`
}

// NSQConfig holds NSQ connection configuration
type NSQConfig struct {
	NSQDAddress      string        `yaml:"nsqd_address" split_words:"true"`
	LookupdAddresses []string      `yaml:"lookupd_addresses" split_words:"true"`
	MaxInFlight      int           `yaml:"max_in_flight" split_words:"true"`
	DialTimeout      time.Duration `yaml:"dial_timeout" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller" split_words:"true"`
	NoColor      bool   `yaml:"no_color" split_words:"true"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	InstanceID  string `yaml:"instance_id" split_words:"true"`
}

// WorkerConfig holds worker runtime configuration
type WorkerConfig struct {
	// Embedded runs the worker pool inside the API process
	Embedded        bool          `yaml:"embedded"`
	PollInterval    time.Duration `yaml:"poll_interval" split_words:"true"`
	IdleLogInterval time.Duration `yaml:"idle_log_interval" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	Retry           RetryConfig   `yaml:"retry"`
	Workers         []WorkerSpec  `yaml:"workers" ignored:"true"`
}

// RetryConfig holds the infrastructure-error backoff policy
type RetryConfig struct {
	BaseInterval         time.Duration `yaml:"base_interval" split_words:"true"`
	MaxInterval          time.Duration `yaml:"max_interval" split_words:"true"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors" split_words:"true"`
}

// WorkerSpec declares one worker runtime and the job types it polls, in priority order
type WorkerSpec struct {
	Name     string   `yaml:"name"`
	JobTypes []string `yaml:"job_types"`
}

// EventsConfig holds event bus configuration
type EventsConfig struct {
	Transport  string        `yaml:"transport"`
	Channel    string        `yaml:"channel"`
	KeepAlive  time.Duration `yaml:"keep_alive" split_words:"true"`
	SinkBuffer int           `yaml:"sink_buffer" split_words:"true"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" split_words:"true"`
	TokenTTL  time.Duration `yaml:"token_ttl" split_words:"true"`
}

// GenerationConfig points at the external generation service
type GenerationConfig struct {
	BaseURL string        `yaml:"base_url" split_words:"true"`
	APIKey  string        `yaml:"api_key" split_words:"true"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads the configuration file, applies CONTENTGEN_* environment
// overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueDriverPostgres
	}
	if c.Events.Transport == "" {
		c.Events.Transport = TransportLocal
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "contentgen.notifications"
	}
	if c.Events.KeepAlive <= 0 {
		c.Events.KeepAlive = 30 * time.Second
	}
	if c.Events.SinkBuffer <= 0 {
		c.Events.SinkBuffer = 64
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.IdleLogInterval <= 0 {
		c.Worker.IdleLogInterval = 60 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 5 * time.Minute
	}
	if c.Worker.Retry.BaseInterval <= 0 {
		c.Worker.Retry.BaseInterval = time.Second
	}
	if c.Worker.Retry.MaxInterval <= 0 {
		c.Worker.Retry.MaxInterval = 30 * time.Second
	}
	if c.Worker.Retry.MaxConsecutiveErrors <= 0 {
		c.Worker.Retry.MaxConsecutiveErrors = 10
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Generation.Timeout <= 0 {
		c.Generation.Timeout = 10 * time.Minute
	}
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case QueueDriverPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case QueueDriverMemory:
	default:
		return fmt.Errorf("unknown queue driver: %q", c.Queue.Driver)
	}

	switch c.Events.Transport {
	case TransportLocal:
	case TransportRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required")
		}
	case TransportNSQ:
		if c.NSQ.NSQDAddress == "" {
			return errors.New("nsq nsqd_address is required")
		}
	default:
		return fmt.Errorf("unknown events transport: %q", c.Events.Transport)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth jwt_secret is required")
	}

	if c.Queue.Driver == QueueDriverMemory && !c.Worker.Embedded {
		return errors.New("memory queue requires worker.embedded")
	}

	if c.Worker.Embedded {
		return c.validateWorkers()
	}
	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Queue.Driver == QueueDriverMemory {
		return errors.New("memory queue cannot be shared with a standalone worker")
	}

	if c.Events.Transport == TransportLocal {
		return errors.New("standalone worker needs a cross-instance events transport")
	}

	return c.validateWorkers()
}

func (c *Config) validateWorkers() error {
	if c.Generation.BaseURL == "" {
		return errors.New("generation base_url is required")
	}

	if c.Worker.Retry.BaseInterval > c.Worker.Retry.MaxInterval {
		return errors.New("worker retry base_interval must not exceed max_interval")
	}

	seen := make(map[string]bool)
	for i, spec := range c.Worker.Workers {
		if len(spec.JobTypes) == 0 {
			return fmt.Errorf("worker %d has no job_types", i)
		}
		if spec.Name != "" {
			if seen[spec.Name] {
				return fmt.Errorf("duplicate worker name: %q", spec.Name)
			}
			seen[spec.Name] = true
		}
		for _, jt := range spec.JobTypes {
			if !domain.JobType(jt).Valid() {
				return fmt.Errorf("worker %d: %w: %q", i, domain.ErrUnknownJobType, jt)
			}
		}
	}
	return nil
}

// WorkerSpecs returns the declared workers, or a single worker polling every job type
func (c *WorkerConfig) WorkerSpecs() []WorkerSpec {
	if len(c.Workers) > 0 {
		return c.Workers
	}

	all := make([]string, len(domain.AllJobTypes))
	for i, jt := range domain.AllJobTypes {
		all[i] = string(jt)
	}
	return []WorkerSpec{{JobTypes: all}}
}
