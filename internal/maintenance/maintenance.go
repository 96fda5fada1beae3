// Package maintenance runs the daemon's triggered housekeeping pass:
// pruning, VACUUM, ANALYZE (spec.md §4.12).
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
)

// Run executes one maintenance pass in the order spec.md §4.12 prescribes:
// file size before, optional retention pruning, VACUUM, ANALYZE, file size
// after. Pruning only runs when retentionDays > 0; hash-chain breaks left by
// pruning are expected and surfaced separately by verification.
func Run(ctx context.Context, store *storage.Store, retentionDays int) (types.MaintenanceStats, error) {
	start := time.Now()

	sizeBefore, err := store.FileSize()
	if err != nil {
		return types.MaintenanceStats{}, fmt.Errorf("maintenance: file size before: %w", err)
	}

	var eventsPruned, exchangesPruned int64
	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		eventsPruned, err = store.PruneOldEvents(ctx, cutoff)
		if err != nil {
			return types.MaintenanceStats{}, fmt.Errorf("maintenance: prune events: %w", err)
		}
		exchangesPruned, err = store.PruneOldExchanges(ctx, cutoff)
		if err != nil {
			return types.MaintenanceStats{}, fmt.Errorf("maintenance: prune exchanges: %w", err)
		}
	}

	if err := store.VacuumAndAnalyze(ctx); err != nil {
		return types.MaintenanceStats{}, fmt.Errorf("maintenance: vacuum/analyze: %w", err)
	}

	sizeAfter, err := store.FileSize()
	if err != nil {
		return types.MaintenanceStats{}, fmt.Errorf("maintenance: file size after: %w", err)
	}

	return types.MaintenanceStats{
		SizeBefore:      sizeBefore,
		SizeAfter:       sizeAfter,
		EventsPruned:    eventsPruned,
		ExchangesPruned: exchangesPruned,
		DurationMS:      time.Since(start).Milliseconds(),
	}, nil
}
