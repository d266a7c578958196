package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daikw/cardspeak/internal/server"
)

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	root := t.TempDir()
	return &Loader{projectDir: ".cardspeak", globalDir: filepath.Join(root, "global")}, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CARDSPEAK_TEST_VOICE", "Lucia")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"expand ${VAR} pattern", `voice = "${CARDSPEAK_TEST_VOICE}"`, `voice = "Lucia"`},
		{"missing env var returns empty", `voice = "${CARDSPEAK_NOPE}"`, `voice = ""`},
		{"no variables", `voice = "Joanna"`, `voice = "Joanna"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoader_NoFile(t *testing.T) {
	loader, root := newTestLoader(t)

	cfg, path, err := loader.Load(root)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "translate", cfg.Remote.Provider)
	assert.Equal(t, server.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, 200*time.Millisecond, cfg.SettleDelay())
	assert.Empty(t, cfg.Validate())
}

func TestLoader_ProjectTOML(t *testing.T) {
	loader, root := newTestLoader(t)
	t.Setenv("CARDSPEAK_TEST_REGION", "eu-west-1")

	writeFile(t, filepath.Join(root, ".cardspeak", "config.toml"), `
[remote]
provider = "polly"
region = "${CARDSPEAK_TEST_REGION}"
voice = "Lucia"

[server]
addr = "127.0.0.1:9000"
allowed_origins = ["localhost"]

[trigger]
settle_delay_ms = 350
`)
	writeFile(t, filepath.Join(loader.globalDir, "config.toml"), `[remote]
provider = "gcp"
`)

	cfg, path, err := loader.Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".cardspeak", "config.toml"), path)
	assert.Equal(t, "polly", cfg.Remote.Provider)
	assert.Equal(t, "eu-west-1", cfg.Remote.Region)
	assert.Zero(t, cfg.Remote.TimeoutSeconds, "unset keys keep their default")
	assert.Equal(t, []string{"localhost"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 350*time.Millisecond, cfg.SettleDelay())

	pc := cfg.ProviderConfig()
	assert.Equal(t, "polly", pc.Name)
	assert.Zero(t, pc.Timeout, "no per-request timeout unless configured")
	assert.Equal(t, "Lucia", pc.Voice)

	sc := cfg.ServerConfig()
	assert.Equal(t, "127.0.0.1:9000", sc.Addr)
}

func TestLoader_GlobalJSON(t *testing.T) {
	loader, root := newTestLoader(t)
	writeFile(t, filepath.Join(loader.globalDir, "config.json"), `{
		"remote": {"provider": "gcp", "voice": "en-US-Neural2-F"},
		"storage": {"db_path": ":memory:"}
	}`)

	cfg, path, err := loader.Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(loader.globalDir, "config.json"), path)
	assert.Equal(t, "gcp", cfg.Remote.Provider)
	assert.Equal(t, MemoryDB, cfg.Storage.DBPath)
}

func TestLoader_ParseErrors(t *testing.T) {
	loader, root := newTestLoader(t)

	writeFile(t, filepath.Join(root, ".cardspeak", "config.json"), `{"remote": {"provder": "x"}}`)
	_, _, err := loader.Load(root)
	assert.ErrorContains(t, err, "failed to parse config file")

	bad := filepath.Join(root, "bad.toml")
	writeFile(t, bad, `[remote`)
	_, err = loader.LoadFromPath(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoader_EnvOverrides(t *testing.T) {
	loader, root := newTestLoader(t)
	t.Setenv(EnvProvider, "gcp")
	t.Setenv(EnvAddr, "0.0.0.0:1234")
	t.Setenv(EnvTimeout, "3")

	cfg, _, err := loader.Load(root)
	require.NoError(t, err)
	assert.Equal(t, "gcp", cfg.Remote.Provider)
	assert.Equal(t, "0.0.0.0:1234", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Remote.TimeoutSeconds)

	t.Setenv(EnvTimeout, "soon")
	cfg, _, err = loader.Load(root)
	require.NoError(t, err)
	assert.Zero(t, cfg.Remote.TimeoutSeconds)
}

func TestLoader_DotEnv(t *testing.T) {
	loader, root := newTestLoader(t)
	writeFile(t, filepath.Join(root, ".env"), "CARDSPEAK_PLAYER=mpg123\n")
	t.Cleanup(func() { os.Unsetenv(EnvPlayer) })

	cfg, _, err := loader.Load(root)
	require.NoError(t, err)
	assert.Equal(t, "mpg123", cfg.Local.Player)
}

func TestLoadFromPath_Validation(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.LoadFromPath("../../etc/config.json")
	assert.ErrorContains(t, err, "path traversal")

	_, err = loader.LoadFromPath("/tmp/config.yaml")
	assert.ErrorContains(t, err, "must be a .json or .toml file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Remote.Provider = "espeak" }, "remote.provider: unknown provider 'espeak'"},
		{"negative timeout", func(c *Config) { c.Remote.TimeoutSeconds = -1 }, "remote.timeout_seconds must not be negative"},
		{"odd polly region", func(c *Config) { c.Remote.Provider = "polly"; c.Remote.Region = "mars-1" }, "remote.region: 'mars-1' may not be valid"},
		{"unknown engine", func(c *Config) { c.Local.Engine = "festival" }, "local.engine: unknown engine 'festival'"},
		{"unknown player", func(c *Config) { c.Local.Player = "vlc" }, "local.player: unknown player 'vlc'"},
		{"bad addr", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr:"},
		{"empty origin", func(c *Config) { c.Server.AllowedOrigins = []string{" "} }, "server.allowed_origins: empty entry"},
		{"negative delay", func(c *Config) { c.Trigger.SettleDelayMs = -5 }, "trigger.settle_delay_ms must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}

	var nilCfg *Config
	assert.Empty(t, nilCfg.Validate())
}

func TestGenerateExample(t *testing.T) {
	for _, format := range []string{"toml", "json"} {
		t.Run(format, func(t *testing.T) {
			data, err := GenerateExample(format)
			require.NoError(t, err)

			loader, root := newTestLoader(t)
			path := filepath.Join(root, "config."+format)
			writeFile(t, path, string(data))

			cfg, err := loader.LoadFromPath(path)
			require.NoError(t, err)
			assert.Empty(t, cfg.Validate())
			assert.Equal(t, "espeak-ng", cfg.Local.Engine)
		})
	}

	_, err := GenerateExample("yaml")
	assert.Error(t, err)
}
