// Package app renders stored band sweeps from the flight log database into a
// waterfall PNG.
package app

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"math"
	"os"

	"github.com/radiosonde-watch/autorx/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store := storage.New(config.DBPath)
	defer store.Close()

	rows, err := loadSweeps(ctx, store, config.Sweeps)
	if err != nil {
		return fmt.Errorf("failed to load sweeps: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("no sweeps stored in %s", config.DBPath)
	}

	logger.Info("rendering waterfall",
		slog.Int("sweeps", len(rows)),
		slog.Int("bins", len(rows[0].Bins)))

	minPower, maxPower := powerRange(rows)
	if config.MinPower != nil {
		minPower = *config.MinPower
	}
	if config.MaxPower != nil {
		maxPower = *config.MaxPower
	}

	renderer, err := NewRenderer(config.FontPath, !config.NoAnnotations)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	img, err := renderer.Render(rows, minPower, maxPower)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if err = png.Encode(out, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	logger.Info("waterfall written", slog.String("path", config.OutputFile))

	return nil
}

// loadSweeps reads the most recent sweeps and returns them oldest first, so
// time flows downwards in the rendered image.
func loadSweeps(ctx context.Context, store *storage.Store, limit int) ([]sweepRow, error) {
	sweeps, err := store.Sweeps(ctx, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]sweepRow, 0, len(sweeps))
	for i := len(sweeps) - 1; i >= 0; i-- {
		bins, err := store.SweepBins(ctx, sweeps[i].ID)
		if err != nil {
			return nil, err
		}
		if len(bins) == 0 {
			continue
		}

		rows = append(rows, sweepRow{
			Timestamp: sweeps[i].Timestamp,
			Bins:      bins,
		})
	}

	return rows, nil
}

func powerRange(rows []sweepRow) (minPower, maxPower float64) {
	minPower = math.Inf(1)
	maxPower = math.Inf(-1)

	for _, row := range rows {
		for _, bin := range row.Bins {
			minPower = math.Min(minPower, bin.Power)
			maxPower = math.Max(maxPower, bin.Power)
		}
	}

	return minPower, maxPower
}
