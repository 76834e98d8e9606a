// Package realtime parses realtime command flags and composes transport
// entrypoints.
package realtime

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/pawmates/realtime/internal/platform/cmd"
	server "github.com/pawmates/realtime/internal/services/realtime/app"
)

// Config holds realtime command configuration.
type Config struct {
	HTTPAddr    string `env:"PAWMATES_REALTIME_HTTP_ADDR"  envDefault:":8087"`
	OpsAddr     string `env:"PAWMATES_REALTIME_OPS_ADDR"`
	StoragePath string `env:"PAWMATES_REALTIME_DB_PATH"    envDefault:"realtime.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "realtime HTTP listen address")
	fs.StringVar(&cfg.OpsAddr, "ops-addr", cfg.OpsAddr, "ops gRPC listen address (health checks; empty disables)")
	fs.StringVar(&cfg.StoragePath, "db-path", cfg.StoragePath, "SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the realtime app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRealtime, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			OpsAddr:     cfg.OpsAddr,
			StoragePath: cfg.StoragePath,
		}); err != nil {
			return fmt.Errorf("serve realtime: %w", err)
		}
		return nil
	})
}
