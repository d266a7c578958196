package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/cardspeak/internal/bridge"
	"github.com/daikw/cardspeak/internal/config"
	"github.com/daikw/cardspeak/internal/events"
	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
	"github.com/daikw/cardspeak/internal/speech/provider"
	"github.com/daikw/cardspeak/internal/trigger"
)

// loadConfig reads --config when given, else the project or global file
func loadConfig(c *cli.Command) (*config.Config, string, error) {
	loader := config.NewLoader()
	if path := c.String("config"); path != "" {
		cfg, err := loader.LoadFromPath(path)
		if err != nil {
			return nil, path, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, path, nil
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, path, err := loader.Load(workDir)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

// openSettings opens the configured key-value backend
func openSettings(cfg *config.Config, pub events.Publisher) (*settings.Store, io.Closer, error) {
	if cfg.Storage.DBPath == config.MemoryDB {
		return settings.NewStore(settings.NewMemoryKV(), pub), nil, nil
	}

	kv, err := settings.OpenSQLite(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return settings.NewStore(kv, pub), kv, nil
}

// session holds the wired speech components for one command
type session struct {
	cfg     *config.Config
	bus     *events.Bus
	store   *settings.Store
	fetcher *speech.Fetcher
	local   *speech.LocalSynthesizer
	player  *speech.ExecPlayer
	orch    *speech.Orchestrator

	closers []io.Closer
}

func newSession(ctx context.Context, c *cli.Command) (*session, error) {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if path != "" {
		log.Debug().Str("path", path).Msg("Using config file")
	}
	for _, problem := range cfg.Validate() {
		log.Warn().Msg("Config: " + problem)
	}

	sess := &session{cfg: cfg, bus: events.NewBus()}

	store, closer, err := openSettings(cfg, sess.bus)
	if err != nil {
		return nil, err
	}
	sess.store = store
	if closer != nil {
		sess.closers = append(sess.closers, closer)
	}

	p, err := provider.New(ctx, cfg.ProviderConfig())
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Remote.Provider, err)
	}
	if pc, ok := p.(io.Closer); ok {
		sess.closers = append(sess.closers, pc)
	}
	sess.fetcher = speech.NewFetcher(p, provider.NewDetector(cfg.ProviderConfig()))

	engine, err := speech.EngineByName(cfg.Local.Engine)
	if err != nil {
		log.Warn().Err(err).Msg("Configured speech engine unavailable, local fallback disabled")
	}
	sess.local = speech.NewLocalSynthesizer(engine)

	spec, err := speech.PlayerByName(cfg.Local.Player)
	if err != nil {
		log.Warn().Err(err).Msg("No audio player, remote audio cannot be played")
	}
	sess.player = speech.NewExecPlayer(spec)

	sess.orch = speech.NewOrchestrator(sess.fetcher, sess.player, sess.local, sess.store, sess.bus)

	log.Debug().
		Str("provider", sess.fetcher.ProviderName()).
		Str("engine", sess.local.EngineName()).
		Str("player", sess.player.Name()).
		Msg("Speech runtime ready")

	return sess, nil
}

// router builds the message router with an auto-speak watcher
func (sess *session) router() (*bridge.Router, *trigger.Watcher) {
	watcher := trigger.NewWatcher(sess.orch, sess.store, sess.cfg.SettleDelay())
	return bridge.NewRouter(sess.fetcher, sess.store, sess.orch, watcher), watcher
}

func (sess *session) Close() {
	if sess.orch != nil {
		sess.orch.Stop()
	}
	for i := len(sess.closers) - 1; i >= 0; i-- {
		if err := sess.closers[i].Close(); err != nil {
			log.Debug().Err(err).Msg("Close failed")
		}
	}
	sess.bus.Close()
}

// textArg joins the positional arguments, or reads stdin when there are none
func textArg(c *cli.Command) (string, error) {
	if c.Args().Len() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}

	info, err := os.Stdin.Stat()
	if err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("text is required (as arguments or on stdin)")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("text is required (as arguments or on stdin)")
	}
	return text, nil
}
