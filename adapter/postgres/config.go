package postgres

import (
	"fmt"
	"strings"
)

// Config for the Postgres sink.
type Config struct {
	// URL is a libpq-style connection string or postgres:// URL.
	URL string
	// Table receives one row per message (default "logs").
	Table string
	// MaxConns caps the pool; zero keeps the pgxpool default.
	MaxConns int32
	// EnsureSchema creates Table on connect when true.
	EnsureSchema bool
}

// Defaults returns a Config with the "logs" table and schema creation enabled.
func Defaults() Config {
	return Config{Table: "logs", MaxConns: 4, EnsureSchema: true}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("config: url required")
	}
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("config: table required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("config: max_conns must be >= 0")
	}
	return nil
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()
	if v, ok := cfg["url"].(string); ok && v != "" {
		c.URL = v
	}
	if v, ok := cfg["table"].(string); ok && v != "" {
		c.Table = v
	}
	switch v := cfg["max_conns"].(type) {
	case int:
		c.MaxConns = int32(v)
	case int32:
		c.MaxConns = v
	case int64:
		c.MaxConns = int32(v)
	case float64:
		c.MaxConns = int32(v)
	}
	if v, ok := cfg["ensure_schema"].(bool); ok {
		c.EnsureSchema = v
	}
	return c
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":           c.URL,
		"table":         c.Table,
		"max_conns":     c.MaxConns,
		"ensure_schema": c.EnsureSchema,
	}
}
