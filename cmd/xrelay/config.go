package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is read from the environment at startup.
type config struct {
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	TopicPattern  string `env:"TOPIC_PATTERN"  envDefault:"logs.#"`
	MaxReconnects int    `env:"MAX_RECONNECTS" envDefault:"10"`

	// Sink is one of redis-stream, postgres, sqlite or none.
	Sink         string        `env:"SINK"          envDefault:"redis-stream"`
	Stream       string        `env:"REDIS_STREAM"  envDefault:"logs"`
	StreamMaxLen int64         `env:"STREAM_MAXLEN" envDefault:"0"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	SQLitePath   string        `env:"SQLITE_PATH"   envDefault:"xrelay.db"`
	LogTable     string        `env:"LOG_TABLE"     envDefault:"logs"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`

	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8181"`
	WSPath          string        `env:"WS_PATH"          envDefault:"/socks"`
	FrameCodec      string        `env:"FRAME_CODEC"      envDefault:"text"`
	MaxConns        int           `env:"MAX_CONNS"        envDefault:"0"`
	ClientQueue     int           `env:"CLIENT_QUEUE"     envDefault:"256"`
	SlowClient      time.Duration `env:"SLOW_CLIENT"      envDefault:"1s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// LogLevel "debug" enables debug output.
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info"`
	LogConsole bool   `env:"LOG_CONSOLE" envDefault:"false"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Sink {
	case "redis-stream", "sqlite", "none":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL required for SINK=postgres")
		}
	default:
		return fmt.Errorf("config: unknown SINK %q", c.Sink)
	}
	if c.TopicPattern == "" {
		return fmt.Errorf("config: TOPIC_PATTERN must not be empty")
	}
	if c.WSPath == "" || c.WSPath[0] != '/' {
		return fmt.Errorf("config: WS_PATH must start with /")
	}
	return nil
}
