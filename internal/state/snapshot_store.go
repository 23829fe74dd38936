package state

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/eggfarm/tvl/internal/types"
)

// SaveValuationSnapshot inserts one valuation row and returns its id.
func SaveValuationSnapshot(ctx context.Context, snapshot types.ValuationSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	query := `
		INSERT INTO valuation_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, deployment,
			farms_value_usd, pools_value_usd, total_value_usd,
			generation, unknown_positions, stale
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRowContext(ctx,
		query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp, string(snapshot.Deployment),
		snapshot.FarmsValueUSD, snapshot.PoolsValueUSD, snapshot.TotalValueUSD,
		int64(snapshot.Generation), pq.Array(positionIDsToInt64(snapshot.UnknownPositions)), snapshot.Stale,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save valuation snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("deployment", string(snapshot.Deployment)).
		Str("total_value_usd", snapshot.TotalValueUSD).
		Msg("Valuation snapshot saved to database")

	return snapshotID, nil
}

// NewValuationSnapshot converts a computed total into a history row.
func NewValuationSnapshot(cycleNumber int, cycleID string, at time.Time, tv types.TotalValue) types.ValuationSnapshot {
	return types.ValuationSnapshot{
		CycleNumber:      cycleNumber,
		CycleID:          cycleID,
		Timestamp:        at,
		Deployment:       tv.Deployment,
		FarmsValueUSD:    tv.Farms.String(),
		PoolsValueUSD:    tv.Pools.String(),
		TotalValueUSD:    tv.Total.String(),
		Generation:       tv.Generation,
		UnknownPositions: tv.UnknownPositions,
		Stale:            tv.Stale,
	}
}

// HistoryRecorder persists totals into valuation_snapshots.
type HistoryRecorder struct{}

// RecordTotals stores one row per deployment under a fresh valuation cycle number.
func (HistoryRecorder) RecordTotals(ctx context.Context, cycleID string, totals []types.TotalValue) error {
	cycleNumber, err := NextCycleNumber(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, tv := range totals {
		if _, err := SaveValuationSnapshot(ctx, NewValuationSnapshot(cycleNumber, cycleID, now, tv)); err != nil {
			return fmt.Errorf("deployment %s: %w", tv.Deployment, err)
		}
	}
	return nil
}

func positionIDsToInt64(ids []types.PositionID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func int64ToPositionIDs(ids []int64) []types.PositionID {
	out := make([]types.PositionID, len(ids))
	for i, id := range ids {
		out[i] = types.PositionID(id)
	}
	return out
}
