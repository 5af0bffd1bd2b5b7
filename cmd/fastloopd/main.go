// Command fastloopd runs the FastLoop HTTP runtime standalone, wiring
// Config, the Redis or in-memory StateManager, and graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastloop/fastloop"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := fastloop.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rt, err := fastloop.NewRuntime(cfg)
	if err != nil {
		slog.Error("failed to construct runtime", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		slog.Error("runtime exited with error", "error", err)
		os.Exit(1)
	}
}
