// Package config loads the cardspeak configuration file and environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/daikw/cardspeak/internal/server"
	"github.com/daikw/cardspeak/internal/speech"
	"github.com/daikw/cardspeak/internal/speech/provider"
	"github.com/daikw/cardspeak/internal/trigger"
)

// MemoryDB selects the in-memory settings store instead of sqlite
const MemoryDB = ":memory:"

// Config is the application configuration
type Config struct {
	Remote  RemoteConfig  `json:"remote" toml:"remote"`
	Local   LocalConfig   `json:"local" toml:"local"`
	Server  ServerConfig  `json:"server" toml:"server"`
	Storage StorageConfig `json:"storage" toml:"storage"`
	Trigger TriggerConfig `json:"trigger" toml:"trigger"`
}

// RemoteConfig selects the remote speech provider
type RemoteConfig struct {
	Provider       string `json:"provider,omitempty" toml:"provider,omitempty"`
	BaseURL        string `json:"base_url,omitempty" toml:"base_url,omitempty"`
	UserAgent      string `json:"user_agent,omitempty" toml:"user_agent,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`

	// Amazon Polly / Google Cloud options
	Region string `json:"region,omitempty" toml:"region,omitempty"`
	Voice  string `json:"voice,omitempty" toml:"voice,omitempty"`
}

// LocalConfig overrides the detected on-device engine and audio player
type LocalConfig struct {
	Engine string `json:"engine,omitempty" toml:"engine,omitempty"`
	Player string `json:"player,omitempty" toml:"player,omitempty"`
}

// ServerConfig configures the websocket bridge
type ServerConfig struct {
	Addr           string   `json:"addr,omitempty" toml:"addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
}

// StorageConfig locates the settings database
type StorageConfig struct {
	DBPath string `json:"db_path,omitempty" toml:"db_path,omitempty"`
}

// TriggerConfig tunes automatic speech
type TriggerConfig struct {
	SettleDelayMs int `json:"settle_delay_ms,omitempty" toml:"settle_delay_ms,omitempty"`
}

// DefaultDBPath returns ~/.config/cardspeak/settings.db
func DefaultDBPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "cardspeak", "settings.db")
}

// Default returns the configuration used when no file is found
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Provider: "translate",
		},
		Server: ServerConfig{
			Addr:           server.DefaultAddr,
			AllowedOrigins: slices.Clone(server.DefaultAllowedOrigins),
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath(),
		},
		Trigger: TriggerConfig{
			SettleDelayMs: int(trigger.DefaultSettleDelay / time.Millisecond),
		},
	}
}

// ProviderConfig converts the remote section for provider.New
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Name:      c.Remote.Provider,
		BaseURL:   c.Remote.BaseURL,
		UserAgent: c.Remote.UserAgent,
		Timeout:   time.Duration(c.Remote.TimeoutSeconds) * time.Second,
		Region:    c.Remote.Region,
		Voice:     c.Remote.Voice,
	}
}

// ServerConfig converts the server section for server.New
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Addr:           c.Server.Addr,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}

// SettleDelay returns the auto-speak delay
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Trigger.SettleDelayMs) * time.Millisecond
}

// Validate returns a list of problems, empty when the configuration is usable
func (c *Config) Validate() []string {
	var errors []string

	if c == nil {
		return errors
	}

	if c.Remote.Provider != "" && !slices.Contains(provider.ListProviders(), c.Remote.Provider) {
		errors = append(errors, fmt.Sprintf("remote.provider: unknown provider '%s' (available: %s)",
			c.Remote.Provider, strings.Join(provider.ListProviders(), ", ")))
	}
	if c.Remote.TimeoutSeconds < 0 {
		errors = append(errors, "remote.timeout_seconds must not be negative")
	}
	if c.Remote.Provider == "polly" {
		validRegions := []string{"us-east-1", "us-west-2", "eu-west-1", "eu-central-1", "ap-northeast-1", "ap-southeast-1"}
		if c.Remote.Region != "" && !slices.Contains(validRegions, c.Remote.Region) {
			errors = append(errors, fmt.Sprintf("remote.region: '%s' may not be valid", c.Remote.Region))
		}
	}

	if c.Local.Engine != "" && !slices.Contains(speech.EngineNames(), c.Local.Engine) {
		errors = append(errors, fmt.Sprintf("local.engine: unknown engine '%s' (available: %s)",
			c.Local.Engine, strings.Join(speech.EngineNames(), ", ")))
	}
	if c.Local.Player != "" && !slices.Contains(speech.PlayerNames(), c.Local.Player) {
		errors = append(errors, fmt.Sprintf("local.player: unknown player '%s' (available: %s)",
			c.Local.Player, strings.Join(speech.PlayerNames(), ", ")))
	}

	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			errors = append(errors, fmt.Sprintf("server.addr: %v", err))
		}
	}
	for _, origin := range c.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errors = append(errors, "server.allowed_origins: empty entry")
		}
	}

	if c.Trigger.SettleDelayMs < 0 {
		errors = append(errors, "trigger.settle_delay_ms must not be negative")
	}

	return errors
}
