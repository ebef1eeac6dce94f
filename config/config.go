// Package config loads the recognized configuration keys into an immutable
// Config value, passed explicitly into every constructor that needs it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is a locked snapshot of the recognized configuration keys. It
// carries no methods that mutate state; callers rebuild via Load/Default
// rather than patching fields on a shared instance.
type Config struct {
	Listener   ListenerConfig   `toml:"listener"`
	Packet     PacketConfig     `toml:"packet"`
	Admission  AdmissionConfig  `toml:"admission"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Connection ConnectionConfig `toml:"connection"`
}

type ListenerConfig struct {
	Bind           string `toml:"bind"`
	MaxConnections int    `toml:"max_connections"`
}

type PacketConfig struct {
	MaxSize            int `toml:"max_size"`
	HeapAllocThreshold int `toml:"heap_alloc_threshold"`
}

type AdmissionConfig struct {
	BanMinutes           int `toml:"ban_minutes"`
	PurgeIntervalSeconds int `toml:"purge_interval_seconds"`
}

type RateLimitConfig struct {
	MaxRequests    int `toml:"max_requests"`
	WindowMS       int `toml:"window_ms"`
	LockoutSeconds int `toml:"lockout_seconds"`
}

type ConnectionConfig struct {
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
	TxHighWater        int `toml:"tx_highwater"`
	TxLowWater         int `toml:"tx_lowwater"`
}

// Default returns a conservative baseline config, usable unmodified for
// local development.
func Default() Config {
	return Config{
		Listener: ListenerConfig{
			Bind:           "127.0.0.1:8080",
			MaxConnections: 10000,
		},
		Packet: PacketConfig{
			MaxSize:            32 * 1024,
			HeapAllocThreshold: 1024,
		},
		Admission: AdmissionConfig{
			BanMinutes:           15,
			PurgeIntervalSeconds: 60,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:    100,
			WindowMS:       1000,
			LockoutSeconds: 30,
		},
		Connection: ConnectionConfig{
			IdleTimeoutSeconds: 90,
			TxHighWater:        256,
			TxLowWater:         64,
		},
	}
}

// Load reads and parses a TOML file at path, layering its values over
// Default and validating the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate rejects out-of-range values before the listener is constructed.
func (c Config) Validate() error {
	if c.Listener.Bind == "" {
		return fmt.Errorf("listener.bind is required")
	}
	if c.Listener.MaxConnections < 0 {
		return fmt.Errorf("listener.max_connections must not be negative")
	}
	if c.Packet.MaxSize <= 0 {
		return fmt.Errorf("packet.max_size must be greater than 0")
	}
	if c.Packet.HeapAllocThreshold < 0 {
		return fmt.Errorf("packet.heap_alloc_threshold must not be negative")
	}
	if c.Admission.BanMinutes < 0 {
		return fmt.Errorf("admission.ban_minutes must not be negative")
	}
	if c.Admission.PurgeIntervalSeconds <= 0 {
		return fmt.Errorf("admission.purge_interval_seconds must be greater than 0")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.max_requests must be greater than 0")
	}
	if c.RateLimit.WindowMS <= 0 {
		return fmt.Errorf("ratelimit.window_ms must be greater than 0")
	}
	if c.RateLimit.LockoutSeconds < 0 {
		return fmt.Errorf("ratelimit.lockout_seconds must not be negative")
	}
	if c.Connection.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.idle_timeout_seconds must be greater than 0")
	}
	if c.Connection.TxHighWater <= 0 {
		return fmt.Errorf("connection.tx_highwater must be greater than 0")
	}
	if c.Connection.TxLowWater < 0 || c.Connection.TxLowWater >= c.Connection.TxHighWater {
		return fmt.Errorf("connection.tx_lowwater must be non-negative and below tx_highwater")
	}
	return nil
}

// BanDuration converts Admission.BanMinutes to a time.Duration.
func (c Config) BanDuration() time.Duration {
	return time.Duration(c.Admission.BanMinutes) * time.Minute
}

// PurgeInterval converts Admission.PurgeIntervalSeconds to a time.Duration.
func (c Config) PurgeInterval() time.Duration {
	return time.Duration(c.Admission.PurgeIntervalSeconds) * time.Second
}

// RateWindow converts RateLimit.WindowMS to a time.Duration.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMS) * time.Millisecond
}

// IdleTimeout converts Connection.IdleTimeoutSeconds to a time.Duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Connection.IdleTimeoutSeconds) * time.Second
}
