package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/daikw/cardspeak/internal/config"
)

func handleConfigShow(ctx context.Context, c *cli.Command) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return err
	}

	data, err := config.Encode(cfg, c.String("format"))
	if err != nil {
		return err
	}

	if path == "" {
		fmt.Fprintln(os.Stderr, color.YellowString("No config file found, showing defaults"))
	} else {
		fmt.Fprintln(os.Stderr, color.CyanString("# %s", path))
	}
	fmt.Println(string(data))
	return nil
}

func handleConfigValidate(ctx context.Context, c *cli.Command) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return err
	}
	if path == "" {
		path = "defaults"
	}

	problems := cfg.Validate()
	if len(problems) == 0 {
		color.Green("✓ %s is valid", path)
		return nil
	}

	color.Red("✗ %s has %d problem(s):", path, len(problems))
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return fmt.Errorf("invalid configuration")
}

func handleConfigInit(ctx context.Context, c *cli.Command) error {
	format := c.String("format")
	data, err := config.GenerateExample(format)
	if err != nil {
		return err
	}

	path := filepath.Join(".cardspeak", "config."+format)
	if c.Bool("global") {
		path = config.NewLoader().GlobalPath(format)
	}

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	color.Green("Created %s", path)
	return nil
}
