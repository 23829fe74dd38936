package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/eggfarm/tvl/internal/types"
)

// ValuationSummary is the latest total and the row count of one deployment.
// LastCycleNumber is the counter value across all deployments.
type ValuationSummary struct {
	Deployment      types.Deployment `json:"deployment"`
	TotalValueUSD   string           `json:"total_value_usd"`
	MinTotalUSD     string           `json:"min_total_usd"`
	MaxTotalUSD     string           `json:"max_total_usd"`
	Snapshots       int              `json:"snapshots"`
	LastUpdated     string           `json:"last_updated"`
	LastCycleNumber int              `json:"last_cycle_number"`
}

const valuationColumns = `
	snapshot_id, cycle_number, cycle_id, snapshot_timestamp, deployment,
	farms_value_usd::TEXT, pools_value_usd::TEXT, total_value_usd::TEXT,
	generation, unknown_positions, stale`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanValuation(row rowScanner) (types.ValuationSnapshot, error) {
	var (
		v          types.ValuationSnapshot
		deployment string
		generation int64
		unknown    []int64
	)
	err := row.Scan(
		&v.SnapshotID, &v.CycleNumber, &v.CycleID, &v.Timestamp, &deployment,
		&v.FarmsValueUSD, &v.PoolsValueUSD, &v.TotalValueUSD,
		&generation, pq.Array(&unknown), &v.Stale,
	)
	if err != nil {
		return v, err
	}
	v.Deployment = types.Deployment(deployment)
	v.Generation = uint64(generation)
	v.UnknownPositions = int64ToPositionIDs(unknown)
	return v, nil
}

// GetRecentValuations returns the newest rows, optionally for one deployment (empty = all).
func GetRecentValuations(ctx context.Context, deployment types.Deployment, limit int) ([]types.ValuationSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `SELECT ` + valuationColumns + `
		FROM valuation_snapshots
		WHERE ($1 = '' OR deployment = $1)
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $2`

	rows, err := DB.QueryContext(ctx, query, string(deployment), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent valuations: %w", err)
	}
	defer rows.Close()

	var out []types.ValuationSnapshot
	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan valuation row")
			continue
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(out)).Int("limit", limit).Msg("Retrieved recent valuations")
	return out, nil
}

// GetValuationByID returns ErrNotFound when the row does not exist.
func GetValuationByID(ctx context.Context, snapshotID int64) (*types.ValuationSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	query := `SELECT ` + valuationColumns + ` FROM valuation_snapshots WHERE snapshot_id = $1`

	v, err := scanValuation(DB.QueryRowContext(ctx, query, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("valuation %d: %w", snapshotID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query valuation by ID: %w", err)
	}
	return &v, nil
}

// GetValuationSummary aggregates the history of one deployment.
func GetValuationSummary(ctx context.Context, deployment types.Deployment) (*ValuationSummary, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	summary := &ValuationSummary{Deployment: deployment}

	var latest, lastUpdated, minTotal, maxTotal sql.NullString
	err := DB.QueryRowContext(ctx, `
		SELECT total_value_usd::TEXT, snapshot_timestamp::TEXT
		FROM valuation_snapshots
		WHERE deployment = $1
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT 1`, string(deployment)).Scan(&latest, &lastUpdated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get latest valuation: %w", err)
	}

	err = DB.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(total_value_usd)::TEXT, MAX(total_value_usd)::TEXT
		FROM valuation_snapshots
		WHERE deployment = $1`, string(deployment)).Scan(&summary.Snapshots, &minTotal, &maxTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate valuations: %w", err)
	}

	summary.LastCycleNumber, err = CurrentCycleNumber(ctx)
	if err != nil {
		return nil, err
	}

	summary.TotalValueUSD = latest.String
	summary.LastUpdated = lastUpdated.String
	summary.MinTotalUSD = minTotal.String
	summary.MaxTotalUSD = maxTotal.String
	return summary, nil
}
