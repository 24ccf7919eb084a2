package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Directory backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Directory Directory `yaml:"directory"`
	Sweep     Sweep     `yaml:"sweep"`
	Listener  Listener  `yaml:"listener"`
	Sinks     Sinks     `yaml:"sinks"`
	Logging   Logging   `yaml:"logging"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
}

// Directory selects and configures the directory backend.
type Directory struct {
	Backend     string `yaml:"backend"`
	PostgresURL string `yaml:"postgres_url"`
	BaseDN      string `yaml:"base_dn"`
	PageSize    int    `yaml:"page_size"`
}

// Sweep controls the lifecycle sweep and the serial range it reconciles.
type Sweep struct {
	Interval   time.Duration `yaml:"interval"`
	PageSize   int           `yaml:"page_size"`
	MaxRecords int           `yaml:"max_records"`
	Serials    SerialRange   `yaml:"serials"`
}

// SerialRange bounds are decimal strings since serials exceed 64 bits.
type SerialRange struct {
	Low      string `yaml:"low"`
	High     string `yaml:"high"`
	LowWater string `yaml:"low_water"`
}

// Enabled reports whether a range was configured.
func (r SerialRange) Enabled() bool {
	return r.Low != "" || r.High != ""
}

// Bounds parses the configured range.
func (r SerialRange) Bounds() (low, high, lowWater *big.Int, err error) {
	if low, err = parseSerial("serials.low", r.Low); err != nil {
		return nil, nil, nil, err
	}
	if high, err = parseSerial("serials.high", r.High); err != nil {
		return nil, nil, nil, err
	}
	lowWater = big.NewInt(0)
	if r.LowWater != "" {
		if lowWater, err = parseSerial("serials.low_water", r.LowWater); err != nil {
			return nil, nil, nil, err
		}
	}
	if high.Cmp(low) < 0 {
		return nil, nil, nil, fmt.Errorf("serials.high %s is below serials.low %s", high, low)
	}
	return low, high, lowWater, nil
}

func parseSerial(name, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal integer, got %q", name, v)
	}
	return n, nil
}

// Listener toggles the replication listener.
type Listener struct {
	Enabled bool `yaml:"enabled"`
}

// Sinks configures the issuing point notified of revocation changes. Every
// configured target receives every notification.
type Sinks struct {
	IssuingPoint string      `yaml:"issuing_point"`
	RedisURL     string      `yaml:"redis_url"`
	PostgresURL  string      `yaml:"postgres_url"`
	Kafka        KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the event sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Logging selects handler format and level.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level name onto slog.
func (l Logging) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080"},
		Directory: Directory{
			Backend:  BackendMemory,
			BaseDN:   "ou=certificateRepository,ou=ca",
			PageSize: 100,
		},
		Sweep: Sweep{
			Interval:   time.Minute,
			PageSize:   100,
			MaxRecords: 10000,
		},
		Listener: Listener{Enabled: true},
		Sinks: Sinks{
			IssuingPoint: "default",
			Kafka:        KafkaConfig{Topic: "crl-events"},
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides file values with CERTSTORE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CERTSTORE_ADDR", &c.Server.Addr)
	str("CERTSTORE_ADMIN_TOKEN", &c.Server.AdminToken)
	str("CERTSTORE_DIRECTORY_BACKEND", &c.Directory.Backend)
	str("CERTSTORE_DIRECTORY_POSTGRES_URL", &c.Directory.PostgresURL)
	str("CERTSTORE_BASE_DN", &c.Directory.BaseDN)
	str("CERTSTORE_ISSUING_POINT", &c.Sinks.IssuingPoint)
	str("CERTSTORE_SINK_REDIS_URL", &c.Sinks.RedisURL)
	str("CERTSTORE_SINK_POSTGRES_URL", &c.Sinks.PostgresURL)
	str("CERTSTORE_SINK_KAFKA_TOPIC", &c.Sinks.Kafka.Topic)
	str("CERTSTORE_LOG_LEVEL", &c.Logging.Level)
	str("CERTSTORE_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("CERTSTORE_SINK_KAFKA_BROKERS"); ok && v != "" {
		c.Sinks.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup("CERTSTORE_SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CERTSTORE_SWEEP_INTERVAL: %w", err)
		}
		c.Sweep.Interval = d
	}
	if v, ok := lookup("CERTSTORE_LISTENER_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CERTSTORE_LISTENER_ENABLED: %w", err)
		}
		c.Listener.Enabled = b
	}
	return nil
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Directory.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Directory.PostgresURL == "" {
			errs = append(errs, errors.New("directory.postgres_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Directory.Backend))
	}
	if c.Directory.BaseDN == "" {
		errs = append(errs, errors.New("directory.base_dn is required"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("sweep.interval must not be negative"))
	}
	if c.Sweep.Serials.Enabled() {
		if _, _, _, err := c.Sweep.Serials.Bounds(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Sinks.IssuingPoint == "" {
		errs = append(errs, errors.New("sinks.issuing_point is required"))
	}
	if len(c.Sinks.Kafka.Brokers) > 0 && c.Sinks.Kafka.Topic == "" {
		errs = append(errs, errors.New("sinks.kafka.topic is required when brokers are set"))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
