// Command climprep prepares climate and wildfire datasets for analysis:
// NetCDF precipitation to GeoTIFF, the AMO index to CSV, and MCD14ML fire
// detections to one filtered CSV.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/climate-prep-etl/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		slog.Error("climprep failed", "error", err)
		return 1
	}
	return 0
}
