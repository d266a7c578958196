package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// Environment overrides, applied after the file
const (
	EnvProvider = "CARDSPEAK_PROVIDER"
	EnvVoice    = "CARDSPEAK_VOICE"
	EnvRegion   = "CARDSPEAK_REGION"
	EnvEngine   = "CARDSPEAK_ENGINE"
	EnvPlayer   = "CARDSPEAK_PLAYER"
	EnvAddr     = "CARDSPEAK_ADDR"
	EnvDB       = "CARDSPEAK_DB"
	EnvTimeout  = "CARDSPEAK_TIMEOUT"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Loader finds and reads configuration files
type Loader struct {
	projectDir string
	globalDir  string
}

// NewLoader creates a loader looking in .cardspeak/ and ~/.config/cardspeak/
func NewLoader() *Loader {
	homeDir, _ := os.UserHomeDir()
	return &Loader{
		projectDir: ".cardspeak",
		globalDir:  filepath.Join(homeDir, ".config", "cardspeak"),
	}
}

// GlobalPath returns the default location for a new config file
func (l *Loader) GlobalPath(format string) string {
	return filepath.Join(l.globalDir, "config."+format)
}

// Load reads configuration with priority:
// 1. Project-local config (.cardspeak/config.toml or config.json)
// 2. Global config (~/.config/cardspeak/config.toml or config.json)
// It returns defaults with environment overrides when no file is found, along
// with the path used ("" for none). A .env file in workDir is loaded first.
func (l *Loader) Load(workDir string) (*Config, string, error) {
	loadDotEnv(workDir)

	for _, dir := range []string{filepath.Join(workDir, l.projectDir), l.globalDir} {
		for _, name := range []string{"config.toml", "config.json"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			cfg, err := l.loadFromFile(path)
			if err != nil {
				return nil, path, err
			}
			log.Debug().Str("path", path).Msg("Loaded config")
			return cfg, path, nil
		}
	}

	log.Debug().Msg("No config file found, using defaults")
	cfg := Default()
	applyEnv(cfg)
	return cfg, "", nil
}

// LoadFromPath reads configuration from an explicit path
func (l *Loader) LoadFromPath(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	loadDotEnv(filepath.Dir(path))
	return l.loadFromFile(path)
}

func validateConfigPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid config path: path traversal not allowed")
	}
	switch filepath.Ext(filepath.Clean(path)) {
	case ".json", ".toml":
		return nil
	default:
		return fmt.Errorf("invalid config path: must be a .json or .toml file")
	}
}

func (l *Loader) loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := []byte(expandEnvVars(string(data)))

	cfg := Default()
	if filepath.Ext(path) == ".toml" {
		err = toml.Unmarshal(expanded, cfg)
	} else {
		dec := json.NewDecoder(bytes.NewReader(expanded))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	checkFilePermissions(path)
	applyEnv(cfg)
	return cfg, nil
}

func loadDotEnv(dir string) {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Could not read .env file")
		}
		return
	}
	log.Debug().Str("path", path).Msg("Loaded .env file")
}

// expandEnvVars replaces ${VAR} patterns with environment variable values
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := match[2 : len(match)-1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		log.Debug().Msg("Referenced environment variable not set in config")
		return ""
	})
}

func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		log.Warn().
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Str("path", path).
			Msg("Config file is writable by other users. Consider: chmod 600")
	}
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvProvider, &cfg.Remote.Provider},
		{EnvVoice, &cfg.Remote.Voice},
		{EnvRegion, &cfg.Remote.Region},
		{EnvEngine, &cfg.Local.Engine},
		{EnvPlayer, &cfg.Local.Player},
		{EnvAddr, &cfg.Server.Addr},
		{EnvDB, &cfg.Storage.DBPath},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.target = v
		}
	}

	if v, ok := os.LookupEnv(EnvTimeout); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + EnvTimeout)
			return
		}
		cfg.Remote.TimeoutSeconds = secs
	}
}

// Encode renders cfg as "toml" or "json"
func Encode(cfg *Config, format string) ([]byte, error) {
	switch format {
	case "toml":
		return toml.Marshal(cfg)
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return nil, fmt.Errorf("unknown config format: %s", format)
	}
}

// GenerateExample returns an example configuration in format
func GenerateExample(format string) ([]byte, error) {
	example := Default()
	example.Storage.DBPath = "${HOME}/.config/cardspeak/settings.db"
	example.Local = LocalConfig{Engine: "espeak-ng", Player: "mpv"}
	return Encode(example, format)
}
