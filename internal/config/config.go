package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config contains server configuration parameters.
type Config struct {
	HTTP      HTTP      `toml:"http" envPrefix:"HTTP_"`
	Database  Database  `toml:"database" envPrefix:"DATABASE_"`
	JWT       JWT       `toml:"jwt" envPrefix:"JWT_"`
	Log       Log       `toml:"log" envPrefix:"LOG_"`
	Messages  Messages  `toml:"messages" envPrefix:"MESSAGES_"`
	WS        WS        `toml:"ws" envPrefix:"WS_"`
	RateLimit RateLimit `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Redis     Redis     `toml:"redis" envPrefix:"REDIS_"`
	Kafka     Kafka     `toml:"kafka" envPrefix:"KAFKA_"`
	OTEL      OTEL      `toml:"otel" envPrefix:"OTEL_"`
}

// HTTP contains HTTP server parameters.
type HTTP struct {
	Address           string        `toml:"address" env:"ADDRESS" envDefault:":8080"`
	AllowedOrigins    []string      `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	IdleTimeout       time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT" envDefault:"90s"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Database contains SQLite parameters.
type Database struct {
	Path string `toml:"path" env:"PATH" envDefault:"data/chat.db"`
}

// JWT contains token parameters.
type JWT struct {
	Secret string        `toml:"secret" env:"SECRET" envDefault:"devsecret"`
	TTL    time.Duration `toml:"ttl" env:"TTL" envDefault:"24h"`
}

// Log contains logger parameters.
type Log struct {
	Level  string `toml:"level" env:"LEVEL" envDefault:"info"`
	Format string `toml:"format" env:"FORMAT" envDefault:"json"`
}

// Messages contains retention parameters of the message store.
type Messages struct {
	Retention     time.Duration `toml:"retention" env:"RETENTION" envDefault:"10m"`
	SweepInterval time.Duration `toml:"sweep_interval" env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// WS contains duplex session parameters.
type WS struct {
	SendBuffer   int           `toml:"send_buffer" env:"SEND_BUFFER" envDefault:"256"`
	PingPeriod   time.Duration `toml:"ping_period" env:"PING_PERIOD" envDefault:"54s"`
	PongWait     time.Duration `toml:"pong_wait" env:"PONG_WAIT" envDefault:"60s"`
	WriteWait    time.Duration `toml:"write_wait" env:"WRITE_WAIT" envDefault:"10s"`
	MaxFrameSize int64         `toml:"max_frame_size" env:"MAX_FRAME_SIZE" envDefault:"65536"`
}

// RateLimit bounds message creation per user. Disabled when Limit is zero or
// Redis is not configured.
type RateLimit struct {
	Limit  int64         `toml:"limit" env:"LIMIT" envDefault:"0"`
	Window time.Duration `toml:"window" env:"WINDOW" envDefault:"1m"`
}

// Redis contains Redis connection parameters. Empty Addr disables Redis.
type Redis struct {
	Addr     string `toml:"addr" env:"ADDR"`
	Password string `toml:"password" env:"PASSWORD"`
	DB       int    `toml:"db" env:"DB" envDefault:"0"`
}

// Kafka contains event stream parameters. Empty Brokers disables publishing.
type Kafka struct {
	Brokers []string `toml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `toml:"topic" env:"TOPIC" envDefault:"messages.created"`
}

// OTEL contains tracing parameters. Empty Endpoint disables export.
type OTEL struct {
	Endpoint    string  `toml:"endpoint" env:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `toml:"service_name" env:"SERVICE_NAME" envDefault:"cipherchat"`
	SampleRatio float64 `toml:"sample_ratio" env:"TRACES_SAMPLER_ARG" envDefault:"1"`
}

// NewConfig loads configuration. When path is non-empty the TOML file is
// decoded first; environment variables override it and defaults only fill
// fields left at their zero value.
func NewConfig(path string) (*Config, error) {
	cfg := Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{SetDefaultsForZeroValuesOnly: true}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Messages.Retention <= 0 {
		return fmt.Errorf("messages retention must be positive")
	}
	if c.Messages.SweepInterval <= 0 {
		return fmt.Errorf("messages sweep interval must be positive")
	}
	if c.WS.PingPeriod <= 0 {
		return fmt.Errorf("ws ping period must be positive")
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("ws ping period must be shorter than pong wait")
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws send buffer must be positive")
	}
	return nil
}
