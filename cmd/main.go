package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	version  = "dev"
	revision = "none"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:  "cardspeak",
		Usage: "Text-to-speech for flashcard study pages",
		Description: `cardspeak speaks the revealed word or sentence of a flashcard page.
It fetches phrase audio from a remote speech service, plays it locally, and
falls back to the on-device voices when the remote path fails.`,
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.json or .toml)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "speak",
				Usage:     "Speak text through the orchestrator (remote first, local fallback)",
				ArgsUsage: "[text]",
				Action:    handleSpeak,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "lang",
						Aliases: []string{"l"},
						Usage:   "Language code (detected when empty)",
					},
					&cli.BoolFlag{
						Name:  "local",
						Usage: "Skip the remote provider and use the on-device engine",
					},
				},
			},
			{
				Name:      "fetch",
				Usage:     "Fetch remote audio for text without playing it",
				ArgsUsage: "[text]",
				Action:    handleFetch,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "lang",
						Aliases: []string{"l"},
						Usage:   "Language code (detected when empty)",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
					&cli.BoolFlag{
						Name:  "data-uri",
						Usage: "Print a data: URI instead of raw audio",
					},
				},
			},
			{
				Name:      "detect",
				Usage:     "Detect the language of text",
				ArgsUsage: "[text]",
				Action:    handleDetect,
			},
			{
				Name:   "voices",
				Usage:  "List remote provider voices and on-device voices",
				Action: handleVoices,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "lang",
						Aliases: []string{"l"},
						Usage:   "Only show the voice selected for this language",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the message bridge over websocket and HTTP",
				Action: handleServe,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides config)",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Serve the message bridge over stdin/stdout (one JSON message per line)",
				Action: handleWatch,
			},
			{
				Name:  "settings",
				Usage: "Show or change speech settings",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show current settings",
						Action: handleSettingsShow,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "json", Usage: "Print as JSON"},
						},
					},
					{
						Name:      "set",
						Usage:     "Set one setting",
						ArgsUsage: "<key> <value>",
						Action:    handleSettingsSet,
					},
					{
						Name:   "reset",
						Usage:  "Restore default settings",
						Action: handleSettingsReset,
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage the configuration file",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective configuration",
						Action: handleConfigShow,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "format", Usage: "toml or json", Value: "toml"},
						},
					},
					{
						Name:   "validate",
						Usage:  "Validate the configuration",
						Action: handleConfigValidate,
					},
					{
						Name:   "init",
						Usage:  "Write an example configuration file",
						Action: handleConfigInit,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "format", Usage: "toml or json", Value: "toml"},
							&cli.BoolFlag{Name: "global", Aliases: []string{"g"}, Usage: "Write to ~/.config/cardspeak instead of .cardspeak"},
							&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
						},
					},
				},
			},
		},
		Before: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}
