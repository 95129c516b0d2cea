package redispubsub

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xrelay/internal/redisconn"
)

// Config for the Redis Pub/Sub subscriber and publisher.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string
	PoolSize      int

	// HealthCheckInterval is how long the subscription may stay silent before a PING probes it.
	HealthCheckInterval time.Duration
	// MaxReconnects bounds consecutive failed reconnect attempts before the
	// subscription is reported lost. 0 retries forever.
	MaxReconnects int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:                "127.0.0.1:6379",
		PoolSize:            10,
		HealthCheckInterval: 30 * time.Second,
		MaxReconnects:       10,
		BackoffMin:          100 * time.Millisecond,
		BackoffMax:          5 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("config: health_check_interval must be > 0, got %v", c.HealthCheckInterval)
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("config: max_reconnects must be >= 0, got %d", c.MaxReconnects)
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("config: backoff range invalid: min %v max %v", c.BackoffMin, c.BackoffMax)
	}
	return nil
}

func (c Config) connOptions() redisconn.Options {
	return redisconn.Options{
		Addr:          c.Addr,
		Username:      c.Username,
		Password:      c.Password,
		DB:            c.DB,
		TLS:           c.TLS,
		TLSServerName: c.TLSServerName,
		PoolSize:      c.PoolSize,
	}
}

// toMap converts typed Config into the generic map expected by the subscriber factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":                  c.Addr,
		"username":              c.Username,
		"password":              c.Password,
		"db":                    c.DB,
		"tls":                   c.TLS,
		"tls_server_name":       c.TLSServerName,
		"pool_size":             c.PoolSize,
		"health_check_interval": c.HealthCheckInterval,
		"max_reconnects":        c.MaxReconnects,
		"backoff_min":           c.BackoffMin,
		"backoff_max":           c.BackoffMax,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	def := Defaults()
	return Config{
		Addr:          getString("addr", def.Addr),
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", 0),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),
		PoolSize:      getInt("pool_size", def.PoolSize),

		HealthCheckInterval: getDur("health_check_interval", def.HealthCheckInterval),
		MaxReconnects:       getInt("max_reconnects", def.MaxReconnects),
		BackoffMin:          getDur("backoff_min", def.BackoffMin),
		BackoffMax:          getDur("backoff_max", def.BackoffMax),
	}
}
