/*

This file contains the outputs of the aggregator and the persisted valuation history.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// TotalValue is the aggregate USD value of one deployment at one store generation.
type TotalValue struct {
	Deployment       Deployment        `json:"deployment"`
	Farms            sdkmath.LegacyDec `json:"farms"`             // Farm subtotal
	Pools            sdkmath.LegacyDec `json:"pools"`             // Pool subtotal
	Total            sdkmath.LegacyDec `json:"total"`             // Farms + Pools
	UnknownPositions []PositionID      `json:"unknown_positions"` // Farms excluded because liquidity is not known yet
	Generation       uint64            `json:"generation"`        // Store generation the value was computed from
	UpdatedAt        time.Time         `json:"updated_at"`        // Oldest commit among the collections it depends on
	Stale            bool              `json:"stale"`             // Consumers should render a loading affordance
}

// ValuationSnapshot is one persisted TotalValue row.
type ValuationSnapshot struct {
	SnapshotID       int64        `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	CycleNumber      int          `json:"cycle_number"`
	CycleID          string       `json:"cycle_id"`
	Timestamp        time.Time    `json:"timestamp"`
	Deployment       Deployment   `json:"deployment"`
	FarmsValueUSD    string       `json:"farms_value_usd"` // Decimal strings, full precision
	PoolsValueUSD    string       `json:"pools_value_usd"`
	TotalValueUSD    string       `json:"total_value_usd"`
	Generation       uint64       `json:"generation"`
	UnknownPositions []PositionID `json:"unknown_positions"`
	Stale            bool         `json:"stale"`
}
