package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/cardspeak/internal/settings"
)

// openStore opens only the settings store, without the speech stack
func openStore(c *cli.Command) (*settings.Store, func(), error) {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	store, closer, err := openSettings(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			log.Debug().Err(err).Msg("Close failed")
		}
	}
	return store, cleanup, nil
}

func handleSettingsShow(ctx context.Context, c *cli.Command) error {
	store, cleanup, err := openStore(c)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load settings, showing defaults")
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSettings(os.Stdout, s)
	return nil
}

func handleSettingsSet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: cardspeak settings set <key> <value>")
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	store, cleanup, err := openStore(c)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := store.Set(ctx, key, value)
	if err != nil {
		return err
	}
	color.Green("Set %s = %s", key, s.Values()[key])
	return nil
}

func handleSettingsReset(ctx context.Context, c *cli.Command) error {
	store, cleanup, err := openStore(c)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := store.Reset(ctx)
	if err != nil {
		return err
	}
	color.Green("Settings restored to defaults")
	printSettings(os.Stdout, s)
	return nil
}

func printSettings(w io.Writer, s settings.Settings) {
	label := color.New(color.FgCyan).SprintFunc()
	values := s.Values()
	for _, key := range settings.Keys {
		fmt.Fprintf(w, "%s = %s\n", label(key), values[key])
	}
}
