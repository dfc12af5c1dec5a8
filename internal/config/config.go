// Package config loads the per-project config.toml that is the sole
// configuration surface for the broker (see SPEC_FULL.md §2.2 / §4.6).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Limits mirrors the config.toml [limits] section.
type Limits struct {
	MaxMessageSize           int `mapstructure:"max_message_size"`
	ReplayBufferCapacity     int `mapstructure:"replay_buffer_capacity"`
	BroadcastChannelCapacity int `mapstructure:"broadcast_channel_capacity"`
	RateLimitPerSecond       int `mapstructure:"rate_limit_per_second"`
}

// Config is the fully resolved project configuration.
type Config struct {
	ProjectUUID    string   `mapstructure:"project_uuid"`
	SocketPath     string   `mapstructure:"socket_path"`
	DefaultTopics  []string `mapstructure:"default_topics"`
	Limits         Limits   `mapstructure:"limits"`
}

const (
	DefaultMaxMessageSize           = 10240
	DefaultReplayBufferCapacity     = 100
	DefaultBroadcastChannelCapacity = 1024
	DefaultRateLimitPerSecond       = 0

	// FileName is the on-disk name of the config file inside the state directory.
	FileName = "config.toml"
)

// Load reads config.toml from stateDir. Unlike the teacher's Load(), which
// treats its config file as an optional overlay on env-var defaults, this
// file is mandatory: the project must have been bootstrapped first (see
// internal/project.Init).
func Load(stateDir string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(filepath.Join(stateDir, FileName))

	v.SetDefault("limits.max_message_size", DefaultMaxMessageSize)
	v.SetDefault("limits.replay_buffer_capacity", DefaultReplayBufferCapacity)
	v.SetDefault("limits.broadcast_channel_capacity", DefaultBroadcastChannelCapacity)
	v.SetDefault("limits.rate_limit_per_second", DefaultRateLimitPerSecond)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.ProjectUUID == "" {
		return Config{}, fmt.Errorf("config: project_uuid must not be empty")
	}
	if cfg.SocketPath == "" {
		return Config{}, fmt.Errorf("config: socket_path must not be empty")
	}
	if cfg.Limits.MaxMessageSize <= 0 {
		cfg.Limits.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Limits.ReplayBufferCapacity <= 0 {
		cfg.Limits.ReplayBufferCapacity = DefaultReplayBufferCapacity
	}
	if cfg.Limits.BroadcastChannelCapacity <= 0 {
		cfg.Limits.BroadcastChannelCapacity = DefaultBroadcastChannelCapacity
	}

	return cfg, nil
}

// Write serializes cfg as config.toml into stateDir with owner-only permissions.
func Write(stateDir string, cfg Config) error {
	v := viper.New()
	v.SetConfigType("toml")

	v.Set("project_uuid", cfg.ProjectUUID)
	v.Set("socket_path", cfg.SocketPath)
	v.Set("default_topics", cfg.DefaultTopics)
	v.Set("limits.max_message_size", cfg.Limits.MaxMessageSize)
	v.Set("limits.replay_buffer_capacity", cfg.Limits.ReplayBufferCapacity)
	v.Set("limits.broadcast_channel_capacity", cfg.Limits.BroadcastChannelCapacity)
	v.Set("limits.rate_limit_per_second", cfg.Limits.RateLimitPerSecond)

	path := filepath.Join(stateDir, FileName)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	return nil
}
