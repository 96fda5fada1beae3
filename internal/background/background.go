// Package background runs the daemon's periodic housekeeping: incremental
// conversation archive indexing every tick (spec.md §4.11).
package background

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/diachron/diachron/internal/archive"
)

// defaultInterval matches spec.md §4.11's 30-minute incremental indexing
// cadence. Overridable for tests and for operators who want a tighter loop.
const defaultInterval = 30 * time.Minute

// Driver ticks archive.Indexer.Run on an interval until stopped.
type Driver struct {
	indexer  *archive.Indexer
	interval time.Duration
	log      *slog.Logger

	shutdownChan chan struct{}
	doneChan     chan struct{}
}

// New builds a Driver. A zero interval falls back to defaultInterval; the
// DIACHRON_BACKGROUND_INTERVAL env var overrides both when parseable.
func New(indexer *archive.Indexer, interval time.Duration, log *slog.Logger) *Driver {
	if interval <= 0 {
		interval = defaultInterval
	}
	if env := os.Getenv("DIACHRON_BACKGROUND_INTERVAL"); env != "" {
		if d, err := time.ParseDuration(env); err == nil && d > 0 {
			interval = d
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		indexer:      indexer,
		interval:     interval,
		log:          log,
		shutdownChan: make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the tick loop in the calling goroutine; callers typically
// invoke it with `go`. It returns once Stop is called.
func (d *Driver) Start(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdownChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) {
	if d.indexer == nil {
		return
	}
	stats, err := d.indexer.Run(ctx)
	if err != nil {
		d.log.Error("background archive indexing failed", "error", err)
		return
	}
	if stats.ExchangesIndexed > 0 || stats.Errors > 0 {
		d.log.Info("background archive indexing pass",
			"exchanges_indexed", stats.ExchangesIndexed,
			"archives_processed", stats.ArchivesProcessed,
			"errors", stats.Errors)
	}
}

// Stop signals the tick loop to exit and waits for it, up to 5 seconds.
func (d *Driver) Stop() {
	close(d.shutdownChan)
	select {
	case <-d.doneChan:
	case <-time.After(5 * time.Second):
	}
}
