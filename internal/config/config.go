package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	Timeout   time.Duration `yaml:"timeout"` // per-request budget
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // status cache TTL
}

type BrokerConfig struct {
	URL   string `yaml:"url"` // empty disables the consumer
	Queue string `yaml:"queue"`
}

type RegistryConfig struct {
	Token   string        `yaml:"token"` // HUGGINGFACE_TOKEN overrides
	HubURL  string        `yaml:"hub_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type TrainerConfig struct {
	Binary           string        `yaml:"binary"`
	Timeout          time.Duration `yaml:"timeout"`
	FastTransfer     bool          `yaml:"fast_transfer"`
	DisableTelemetry bool          `yaml:"disable_telemetry"`
}

type PackagerConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Workers    int           `yaml:"workers"` // concurrent runs
	QueueSize  int           `yaml:"queue_size"`
	RunLockTTL time.Duration `yaml:"run_lock_ttl"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Broker   BrokerConfig   `yaml:"broker"`
	Registry RegistryConfig `yaml:"registry"`
	Trainer  TrainerConfig  `yaml:"trainer"`
	Packager PackagerConfig `yaml:"packager"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.API.JWTSecret == "" {
		return nil, errors.New("api.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// applyEnvOverrides lets deployment credentials live in the environment
// instead of the yaml file. Env always wins.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HUGGINGFACE_TOKEN"); v != "" {
		c.Registry.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.API.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.API.Port <= 0 {
		c.API.Port = 8080
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 30 * time.Second
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = "finetune.launch"
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = 2 * time.Minute
	}
	if c.Trainer.Binary == "" {
		c.Trainer.Binary = "mlx_lm.lora"
	}
	if c.Trainer.Timeout <= 0 {
		c.Trainer.Timeout = 6 * time.Hour
	}
	if c.Packager.Timeout <= 0 {
		c.Packager.Timeout = 30 * time.Minute
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 2
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 16
	}
	if c.Pipeline.RunLockTTL <= 0 {
		c.Pipeline.RunLockTTL = 6 * time.Hour
	}
}
