package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the orchestrator needs. Values come from
// config.yaml with environment overrides (TRIPFLOW_DATABASE_HOST etc.).
type Config struct {
	Service struct {
		Name string
	}
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Bus struct {
		PublishTimeout time.Duration
		HandlerTimeout time.Duration
		RequeueBackoff time.Duration
		Prefetch       int
	}
	Matching struct {
		RadiusKM  float64
		PoolLimit int
	}
}

// Load reads the config file at path, applies env overrides and defaults, and
// validates required fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("tripflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine: defaults plus env may be a complete config
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "orchestrator")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tripflow")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")

	v.SetDefault("bus.publishtimeout", 5*time.Second)
	v.SetDefault("bus.handlertimeout", 30*time.Second)
	v.SetDefault("bus.requeuebackoff", 1*time.Second)
	v.SetDefault("bus.prefetch", 1)

	v.SetDefault("matching.radiuskm", 10.0)
	v.SetDefault("matching.poollimit", 25)
}

// AMQPURL builds the broker connection string.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if strings.TrimSpace(c.Service.Name) == "" {
		problems = append(problems, "service.name is required")
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}

	if c.Bus.PublishTimeout <= 0 {
		problems = append(problems, "bus.publishtimeout must be positive")
	}
	if c.Bus.HandlerTimeout <= 0 {
		problems = append(problems, "bus.handlertimeout must be positive")
	}
	if c.Bus.RequeueBackoff <= 0 {
		problems = append(problems, "bus.requeuebackoff must be positive")
	}
	if c.Bus.Prefetch < 0 {
		problems = append(problems, "bus.prefetch cannot be negative")
	}

	if c.Matching.RadiusKM <= 0 {
		problems = append(problems, "matching.radiuskm must be positive")
	}
	if c.Matching.PoolLimit <= 0 {
		problems = append(problems, "matching.poollimit must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
