// Package config loads the service configuration from a TOML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"freightmarket/listing"
	"freightmarket/market"
	"freightmarket/platform"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	EventsLog      = "log"
	EventsKafka    = "kafka"
	EventsRabbitMQ = "rabbitmq"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Auth     AuthConfig     `toml:"auth"`
	Platform PlatformConfig `toml:"platform"`
	Bounds   BoundsConfig   `toml:"bounds"`
	Events   EventsConfig   `toml:"events"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr            string `toml:"addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	TokenTTL  string `toml:"token_ttl"`
}

type PlatformConfig struct {
	Admin       string `toml:"admin"`
	FeePercent  uint8  `toml:"fee_percent"`
	CurrentTime uint64 `toml:"current_time"`
}

type BoundsConfig struct {
	MinCapacityKg     uint64 `toml:"min_capacity_kg"`
	MaxCapacityKg     uint64 `toml:"max_capacity_kg"`
	MinVolumeM3       uint64 `toml:"min_volume_m3"`
	MaxVolumeM3       uint64 `toml:"max_volume_m3"`
	MinPrice          uint64 `toml:"min_price"`
	MaxPrice          uint64 `toml:"max_price"`
	MinTime           uint64 `toml:"min_time"`
	MaxTime           uint64 `toml:"max_time"`
	MaxClock          uint64 `toml:"max_clock"`
	MaxCarrierNameLen int    `toml:"max_carrier_name_len"`
	MaxLocationLen    int    `toml:"max_location_len"`
	MaxCargoLen       int    `toml:"max_cargo_len"`
}

type EventsConfig struct {
	Driver        string   `toml:"driver"`
	RelayInterval string   `toml:"relay_interval"`
	BatchSize     int      `toml:"batch_size"`
	KafkaBrokers  []string `toml:"kafka_brokers"`
	KafkaTopic    string   `toml:"kafka_topic"`
	RabbitMQURL   string   `toml:"rabbitmq_url"`
	Exchange      string   `toml:"exchange"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

func Default() Config {
	opts := market.DefaultOptions()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Auth:    AuthConfig{TokenTTL: "24h"},
		Bounds: BoundsConfig{
			MinCapacityKg:     opts.Bounds.MinCapacityKg,
			MaxCapacityKg:     opts.Bounds.MaxCapacityKg,
			MinVolumeM3:       opts.Bounds.MinVolumeM3,
			MaxVolumeM3:       opts.Bounds.MaxVolumeM3,
			MinPrice:          opts.Bounds.MinPrice,
			MaxPrice:          opts.Bounds.MaxPrice,
			MinTime:           opts.Bounds.MinTime,
			MaxTime:           opts.Bounds.MaxTime,
			MaxClock:          opts.MaxClock,
			MaxCarrierNameLen: opts.MaxCarrierNameLen,
			MaxLocationLen:    opts.Bounds.MaxLocationLen,
			MaxCargoLen:       opts.MaxCargoLen,
		},
		Events: EventsConfig{
			Driver:        EventsLog,
			RelayInterval: "2s",
			BatchSize:     100,
			KafkaTopic:    "freightmarket.events",
			Exchange:      "freightmarket.events",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("FREIGHT_ADDR", &c.Server.Addr)
	str("FREIGHT_STORAGE", &c.Storage.Driver)
	str("DATABASE_URL", &c.Storage.DatabaseURL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("FREIGHT_ADMIN", &c.Platform.Admin)
	str("FREIGHT_EVENTS_DRIVER", &c.Events.Driver)
	str("KAFKA_TOPIC", &c.Events.KafkaTopic)
	str("RABBITMQ_URL", &c.Events.RabbitMQURL)
	str("FREIGHT_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup("FREIGHT_LOG_DEVELOPMENT"); ok && strings.TrimSpace(v) != "" {
		dev, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: FREIGHT_LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = dev
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return fmt.Errorf("config: storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 16 bytes")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Platform.Admin) == "" {
		return fmt.Errorf("config: platform.admin is required")
	}
	if c.Platform.FeePercent > platform.MaxFeePercent {
		return fmt.Errorf("config: platform.fee_percent %d above %d", c.Platform.FeePercent, platform.MaxFeePercent)
	}

	opts := c.MarketOptions()
	if err := opts.Bounds.Validate(); err != nil {
		return fmt.Errorf("config: bounds: %w", err)
	}
	if opts.MaxCarrierNameLen <= 0 || opts.MaxCargoLen <= 0 {
		return fmt.Errorf("config: bounds: name and cargo lengths must be positive")
	}
	if c.Platform.CurrentTime > opts.MaxClock {
		return fmt.Errorf("config: platform.current_time %d above max_clock %d", c.Platform.CurrentTime, opts.MaxClock)
	}

	switch c.Events.Driver {
	case EventsLog:
	case EventsKafka:
		if len(c.Events.KafkaBrokers) == 0 || c.Events.KafkaTopic == "" {
			return fmt.Errorf("config: events.kafka_brokers and events.kafka_topic are required for the kafka driver")
		}
	case EventsRabbitMQ:
		if c.Events.RabbitMQURL == "" || c.Events.Exchange == "" {
			return fmt.Errorf("config: events.rabbitmq_url and events.exchange are required for the rabbitmq driver")
		}
	default:
		return fmt.Errorf("config: unknown events driver %q", c.Events.Driver)
	}
	if _, err := c.RelayInterval(); err != nil {
		return err
	}
	return nil
}

// MarketOptions converts the bound table into engine options.
func (c Config) MarketOptions() market.Options {
	b := c.Bounds
	return market.Options{
		Bounds: listing.Bounds{
			MinCapacityKg:  b.MinCapacityKg,
			MaxCapacityKg:  b.MaxCapacityKg,
			MinVolumeM3:    b.MinVolumeM3,
			MaxVolumeM3:    b.MaxVolumeM3,
			MinPrice:       b.MinPrice,
			MaxPrice:       b.MaxPrice,
			MinTime:        b.MinTime,
			MaxTime:        b.MaxTime,
			MaxLocationLen: b.MaxLocationLen,
		},
		MaxClock:          b.MaxClock,
		MaxCarrierNameLen: b.MaxCarrierNameLen,
		MaxCargoLen:       b.MaxCargoLen,
	}
}

// InitialPlatform is the platform config seeded on first start.
func (c Config) InitialPlatform() platform.Config {
	return platform.Config{
		Admin:       c.Platform.Admin,
		FeePercent:  c.Platform.FeePercent,
		CurrentTime: c.Platform.CurrentTime,
	}
}

func (c Config) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

func (c Config) TokenTTL() (time.Duration, error) {
	return parseDuration("auth.token_ttl", c.Auth.TokenTTL)
}

func (c Config) RelayInterval() (time.Duration, error) {
	return parseDuration("events.relay_interval", c.Events.RelayInterval)
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", field)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
