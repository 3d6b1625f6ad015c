package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"modelgate/internal/config"
	"modelgate/internal/credentials"
	"modelgate/internal/dispatch"
	"modelgate/internal/server"
)

const serveUsage = `Usage:
  modelgate serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	// Fallback credentials come from the environment; a local .env file is
	// a convenience, not a requirement.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "err", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	resolver := credentials.NewResolver(cfg.Credentials)
	dispatcher := dispatch.New(resolver, dispatch.Timeouts{
		Connect:   cfg.Timeouts.Connect(),
		IdleChunk: cfg.Timeouts.IdleChunk(),
	}, nil, slog.Default())

	srv, err := server.New(cfg, dispatcher)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
