// Package config loads bridge settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/pipe"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// maxMemoryPages is the wasm32 ceiling of 4GB.
const maxMemoryPages = 65536

// SandboxConfig holds the per-run sandbox settings under the sandbox key.
type SandboxConfig struct {
	// Entrypoint is the exported function to run. Default: "_start".
	Entrypoint string `yaml:"entrypoint"`
	// MaxExecTime bounds one run ("30s", "2m"). 0 disables the limit.
	MaxExecTime time.Duration `yaml:"max_exec_time"`
	// ChannelCapacity is the byte capacity of each stdio channel. Default: 1024.
	ChannelCapacity int `yaml:"channel_capacity"`
	// MemoryLimitPages caps guest memory in 64KB pages. 0 means 65536.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// LogConfig selects the zap logger built by Logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// Config is the bridge configuration file.
type Config struct {
	Sandbox SandboxConfig `yaml:"sandbox"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the settings used when a key is absent.
func Default() Config {
	return Config{
		Sandbox: SandboxConfig{
			Entrypoint:      sandbox.DefaultEntrypoint,
			ChannelCapacity: pipe.DefaultCapacity,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config yaml")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting out of range as a KindInvalidInput
// error in PhaseConfig.
func (c Config) Validate() error {
	if c.Sandbox.Entrypoint == "" {
		return errors.InvalidInput(errors.PhaseConfig, "sandbox.entrypoint is required")
	}
	if c.Sandbox.ChannelCapacity <= 0 {
		return errors.InvalidInput(errors.PhaseConfig, "sandbox.channel_capacity must be >= 1")
	}
	if c.Sandbox.MaxExecTime < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "sandbox.max_exec_time must not be negative")
	}
	if c.Sandbox.MemoryLimitPages > maxMemoryPages {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("sandbox.memory_limit_pages must be <= %d", maxMemoryPages))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.level %q is not a level", c.Log.Level))
	}
	return nil
}

// EngineConfig returns the sandbox engine settings
func (c Config) EngineConfig() *sandbox.Config {
	return &sandbox.Config{
		Entrypoint:       c.Sandbox.Entrypoint,
		MaxExecTime:      c.Sandbox.MaxExecTime,
		MemoryLimitPages: c.Sandbox.MemoryLimitPages,
	}
}

// Logger builds a zap logger from the log settings
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
