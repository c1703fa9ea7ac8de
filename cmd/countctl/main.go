package main

import (
	"context"
	"fmt"
	"os"

	"count-backend/internal/app"
	"count-backend/internal/cli"
	"count-backend/internal/config"
	"count-backend/internal/logging"
)

func open(ctx context.Context, opts *cli.RootOptions) (cli.Backend, error) {
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func main() {
	if err := cli.NewRootCommand(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
