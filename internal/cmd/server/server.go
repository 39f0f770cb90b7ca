// Package server parses configuration and runs the custody API server.
package server

import (
	"context"
	"flag"
	"fmt"

	"github.com/louisbranch/gearlocker/internal/app"
	platformcmd "github.com/louisbranch/gearlocker/internal/platform/cmd"
)

// ParseConfig loads environment defaults and parses flags into the server
// configuration. Flags override environment values.
func ParseConfig(fs *flag.FlagSet, args []string) (app.Config, error) {
	var cfg app.Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return app.Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.StorageDriver, "storage-driver", cfg.StorageDriver, "storage driver (sqlite or postgres)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// Run starts the custody API server and blocks until the context ends.
func Run(ctx context.Context, cfg app.Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceServer, func(ctx context.Context) error {
		server, err := app.NewServer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init custody server: %w", err)
		}
		defer server.Close()

		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve custody api: %w", err)
		}
		return nil
	})
}
