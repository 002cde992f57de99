// Package config loads and validates the JSON configuration file named on
// the command line.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Member describes one peer's dialable address.
type Member struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Config is the opaque key/value bag described by the external interfaces:
// this node's id, the fixed membership, timing knobs and transport knobs.
type Config struct {
	ID      int64    `json:"id"`
	Members []Member `json:"members"`
	Port    int      `json:"port"`
	Dir     string   `json:"dir"`

	HeartbeatTimeout  float64 `json:"heartbeat_timeout"`
	HeartbeatInterval float64 `json:"heartbeat_interval"`
	ElectionTimeout   float64 `json:"election_timeout"`
	RotateInterval    float64 `json:"rotate_interval"`
	FlushInterval     float64 `json:"flush_interval"`

	RPCMaxBatch    int `json:"rpc_max_batch"`
	AppliedBacklog int `json:"applied_backlog"`

	MaxBatch       int     `json:"max_batch"`
	MaxDelay       float64 `json:"max_delay"`
	PoolSize       int     `json:"pool_size"`
	MaxMessageSize int     `json:"max_message_size"`
}

// Load reads and parses the JSON configuration file at path, then validates
// it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the fields required for the node to start safely.
func (c *Config) Validate() error {
	if c.ID < 0 || int(c.ID) >= len(c.Members) {
		return fmt.Errorf("id %d out of range [0, %d)", c.ID, len(c.Members))
	}
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("members must contain at least one entry")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be greater than zero")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be greater than zero")
	}
	if c.ElectionTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("election_timeout must be greater than heartbeat_interval")
	}
	if c.RotateInterval <= 0 {
		return fmt.Errorf("rotate_interval must be greater than zero")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be greater than zero")
	}
	if c.RPCMaxBatch <= 0 {
		return fmt.Errorf("rpc_max_batch must be greater than zero")
	}
	if c.AppliedBacklog < 0 {
		return fmt.Errorf("applied_backlog cannot be negative")
	}

	return nil
}

// N returns the configured cluster size.
func (c *Config) N() int {
	return len(c.Members)
}
