/*

This file contains the types for price resolution: the per-deployment dispatch table mapping
each quote-token class to the rule that prices it, and the pool valuation rule.

A class absent from a table is priced by identity: its liquidity is already USD.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// RuleKind selects how a PriceRule derives its price.
type RuleKind string

const (
	RuleReference RuleKind = "reference" // Cross price recorded on a designated farm
	RuleConstant  RuleKind = "constant"  // Literal override, no store dependency
)

// PriceRule prices one quote-token class.
type PriceRule struct {
	Kind       RuleKind          `json:"kind"`
	Deployment Deployment        `json:"deployment,omitempty"` // For RuleReference: where the reference farm lives
	PID        PositionID        `json:"pid,omitempty"`        // For RuleReference: the reference farm
	Value      sdkmath.LegacyDec `json:"value,omitempty"`      // For RuleConstant
}

// ReferenceRule builds a rule that reads the cross price of farm pid in deployment d.
func ReferenceRule(d Deployment, pid PositionID) PriceRule {
	return PriceRule{Kind: RuleReference, Deployment: d, PID: pid}
}

// ConstantRule builds a literal price rule.
func ConstantRule(value sdkmath.LegacyDec) PriceRule {
	return PriceRule{Kind: RuleConstant, Value: value}
}

// ReferenceTable is the closed dispatch table of one deployment.
type ReferenceTable map[QuoteToken]PriceRule

// PoolValuation describes which pools count towards a deployment's total.
// Only pools staking StakingToken are valued; others contribute zero.
type PoolValuation struct {
	Enabled      bool       `json:"enabled"`
	StakingToken QuoteToken `json:"staking_token"`
	Decimals     int        `json:"decimals"`
}

// ValuationConfig is everything the resolver and aggregator need for one deployment.
type ValuationConfig struct {
	Deployment Deployment     `json:"deployment"`
	References ReferenceTable `json:"references"`
	Pools      PoolValuation  `json:"pools"`
}

// ResolutionStatus describes how a price was obtained.
type ResolutionStatus string

const (
	ResolutionResolved   ResolutionStatus = "resolved"   // Reference found or constant applied
	ResolutionUnresolved ResolutionStatus = "unresolved" // Reference farm or its cross price is missing, price is zero
	ResolutionUnmapped   ResolutionStatus = "unmapped"   // No rule: liquidity is taken as USD
)

// ResolvedPrice is the outcome of resolving one class.
type ResolvedPrice struct {
	QuoteToken QuoteToken        `json:"quote_token"`
	Price      sdkmath.LegacyDec `json:"price"`
	Status     ResolutionStatus  `json:"status"`
}
