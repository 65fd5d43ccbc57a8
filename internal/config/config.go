// Package config loads process settings: built-in defaults, then an optional
// YAML file, then SAGA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "SAGA"

	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

type Config struct {
	Service        Service        `yaml:"service"`
	Storage        Storage        `yaml:"storage"`
	Ledger         Ledger         `yaml:"ledger"`
	PG             PG             `yaml:"pg"`
	Reconciliation Reconciliation `yaml:"reconciliation"`
	Redis          Redis          `yaml:"redis"`
	Kafka          Kafka          `yaml:"kafka"`
	Tracing        Tracing        `yaml:"tracing"`
	Seed           Seed           `yaml:"seed" ignored:"true"`
}

type Service struct {
	Name            string        `yaml:"name"`
	Env             string        `yaml:"env"`
	HTTPAddr        string        `yaml:"http_addr" envconfig:"http_addr"`
	LogLevel        string        `yaml:"log_level" envconfig:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"shutdown_timeout"`
}

type Storage struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"conn_max_lifetime"`
}

type Ledger struct {
	PointLockTimeout time.Duration `yaml:"point_lock_timeout" envconfig:"point_lock_timeout"`
}

type PG struct {
	BaseURL        string        `yaml:"base_url" envconfig:"base_url"`
	CallbackURL    string        `yaml:"callback_url" envconfig:"callback_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"read_timeout"`
	Breaker        Breaker       `yaml:"breaker"`
	StatusRetry    Retry         `yaml:"status_retry" envconfig:"status_retry"`
}

type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" envconfig:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" envconfig:"open_timeout"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests" envconfig:"half_open_requests"`
	Interval            time.Duration `yaml:"interval"`
}

type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

type Reconciliation struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after" envconfig:"stale_after"`
	Attempts    int           `yaml:"attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Concurrency int           `yaml:"concurrency"`
	BatchSize   int           `yaml:"batch_size" envconfig:"batch_size"`
	LockTTL     time.Duration `yaml:"lock_ttl" envconfig:"lock_ttl"`
	ResultGrace time.Duration `yaml:"result_grace" envconfig:"result_grace"`
}

// Redis with an empty Addr disables the reconciliation leader lock.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Kafka with no brokers forwards data platform events to the log instead.
type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"write_timeout"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"sample_ratio"`
}

// Seed populates the memory driver at startup.
type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Buyers   []SeedBuyer   `yaml:"buyers"`
	Coupons  []SeedCoupon  `yaml:"coupons"`
}

type SeedProduct struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    int64  `yaml:"price"`
	Quantity int    `yaml:"quantity"`
}

type SeedBuyer struct {
	ID     string `yaml:"id"`
	Points int64  `yaml:"points"`
}

type SeedCoupon struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Value int64  `yaml:"value"`
}

func Default() Config {
	return Config{
		Service: Service{
			Name:            "minishop-saga",
			Env:             "dev",
			HTTPAddr:        ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{
			Driver:          DriverMemory,
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Ledger: Ledger{PointLockTimeout: 5 * time.Second},
		PG: PG{
			BaseURL:        "http://localhost:8082",
			CallbackURL:    "http://localhost:8080/api/v1/payments/callback",
			ConnectTimeout: 3 * time.Second,
			ReadTimeout:    10 * time.Second,
			Breaker: Breaker{
				ConsecutiveFailures: 5,
				OpenTimeout:         10 * time.Second,
				HalfOpenRequests:    1,
			},
			StatusRetry: Retry{Attempts: 3, Backoff: time.Second},
		},
		Reconciliation: Reconciliation{
			Enabled:     true,
			Interval:    time.Minute,
			StaleAfter:  30 * time.Minute,
			Attempts:    3,
			Backoff:     3 * time.Second,
			Concurrency: 4,
			BatchSize:   100,
			LockTTL:     2 * time.Minute,
			ResultGrace: time.Minute,
		},
		Kafka: Kafka{
			Topic:        "minishop.saga.events",
			WriteTimeout: 5 * time.Second,
		},
		Tracing: Tracing{Enabled: true, SampleRatio: 1},
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("config: storage.dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver))
	}
	if c.PG.BaseURL == "" {
		errs = append(errs, errors.New("config: pg.base_url is required"))
	}
	if c.Ledger.PointLockTimeout <= 0 {
		errs = append(errs, errors.New("config: ledger.point_lock_timeout must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("config: kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
