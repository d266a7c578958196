package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/cardspeak/internal/bridge"
	"github.com/daikw/cardspeak/internal/server"
)

func handleServe(ctx context.Context, c *cli.Command) error {
	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	router, watcher := sess.router()
	defer watcher.Close()

	cfg := sess.cfg.ServerConfig()
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}

	srv := server.New(cfg, router, sess.store, sess.orch, sess.bus)
	return srv.Run(ctx)
}

func handleWatch(ctx context.Context, c *cli.Command) error {
	// stdout carries protocol messages; keep logs quiet unless --verbose
	if !c.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	router, watcher := sess.router()
	defer watcher.Close()

	log.Debug().Msg("Reading messages from stdin")
	return bridge.ServeStdio(ctx, os.Stdin, os.Stdout, router, sess.bus)
}
