// Package config handles Oversee configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (OVERSEE_*)
//  2. Config file (~/.config/oversee/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oversee-dev/oversee/internal/autofix"
)

const (
	// DefaultShell is used when $SHELL is unset.
	DefaultShell = "/bin/zsh"
	// DefaultHookPort is the loopback port agents POST hook events to.
	DefaultHookPort = 18888
	// DefaultBridgeAddr is where the consumer bridge listens.
	DefaultBridgeAddr = "127.0.0.1:18899"
)

// Config holds the Oversee configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("shell", defaultShell())
	v.SetDefault("hook.port", DefaultHookPort)
	v.SetDefault("bridge.listen", DefaultBridgeAddr)
	v.SetDefault("autofix.max_cycles", autofix.DefaultMaxCycles)
	v.SetDefault("autofix.stage_timeout", time.Duration(0))
	v.SetDefault("autofix.init_timeout", autofix.DefaultInitTimeout)
	v.SetDefault("autofix.scenarios_file", "")

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "oversee"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OVERSEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}

	return DefaultShell
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set overrides a configuration value in memory.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]any {
	return c.v.AllSettings()
}

// Shell returns the shell binary sessions are spawned with.
func (c *Config) Shell() string {
	return c.GetString("shell")
}

// HookPort returns the hook listener port.
func (c *Config) HookPort() int {
	return c.GetInt("hook.port")
}

// BridgeAddr returns the bridge listen address.
func (c *Config) BridgeAddr() string {
	return c.GetString("bridge.listen")
}

// MaxCycles returns the autofix cycle cap.
func (c *Config) MaxCycles() int {
	return c.GetInt("autofix.max_cycles")
}

// StageTimeout returns the per-stage timeout; zero keeps stages unbounded.
func (c *Config) StageTimeout() time.Duration {
	return c.v.GetDuration("autofix.stage_timeout")
}

// InitTimeout returns the session-preparation fallback timeout.
func (c *Config) InitTimeout() time.Duration {
	return c.v.GetDuration("autofix.init_timeout")
}

// Scenarios returns the ordered scenario table. When a scenarios file is
// configured it replaces the built-in table entirely; table order in the
// file is matching precedence.
func (c *Config) Scenarios() ([]autofix.Scenario, error) {
	path := c.GetString("autofix.scenarios_file")
	if path == "" {
		return autofix.DefaultScenarios, nil
	}

	return LoadScenarios(path)
}

// LoadScenarios parses a YAML scenario table.
func LoadScenarios(path string) ([]autofix.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios file: %w", err)
	}

	var scenarios []autofix.Scenario

	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("parsing scenarios file %s: %w", path, err)
	}

	for i, sc := range scenarios {
		if sc.Key == "" || (sc.Key != "default" && sc.Trigger == "") {
			return nil, fmt.Errorf("scenarios file %s: entry %d needs a key and a trigger", path, i)
		}
	}

	if len(scenarios) == 0 {
		return nil, fmt.Errorf("scenarios file %s defines no scenarios", path)
	}

	return scenarios, nil
}
