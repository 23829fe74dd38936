/*

This file contains the aggregator: the USD value of one deployment's farms and pools.

*/

package analyzer

import (
	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

var aggregatorLogger = logger.GetForComponent("aggregator")

// CalculateTotalValue sums farms and pools of cfg.Deployment in USD.
// Farms with unknown liquidity are skipped and listed in UnknownPositions.
// Generation, UpdatedAt and Stale are left for the caller, which knows the commit history.
func CalculateTotalValue(entries EntryReader, cfg types.ValuationConfig) types.TotalValue {
	prices := ResolvePrices(entries, cfg.References)

	farms, unknown := CalculateFarmsValue(entries, cfg.Deployment, prices)
	pools := CalculatePoolsValue(entries, cfg, prices)

	return types.TotalValue{
		Deployment:       cfg.Deployment,
		Farms:            farms,
		Pools:            pools,
		Total:            farms.Add(pools),
		UnknownPositions: unknown,
	}
}

// CalculateFarmsValue returns the running sum of liquidity × class price in store order.
func CalculateFarmsValue(entries EntryReader, d types.Deployment, prices map[types.QuoteToken]types.ResolvedPrice) (sdkmath.LegacyDec, []types.PositionID) {
	total := sdkmath.LegacyZeroDec()
	unknown := []types.PositionID{}

	for _, f := range entries.Farms(d) {
		if f.LPTotalInQuoteToken == nil || f.LPTotalInQuoteToken.IsNil() {
			unknown = append(unknown, f.PID)
			continue
		}

		price, ok := prices[f.QuoteToken]
		if !ok {
			// Class outside the resolved set: pass liquidity through as USD
			total = total.Add(*f.LPTotalInQuoteToken)
			continue
		}
		total = total.Add(f.LPTotalInQuoteToken.Mul(price.Price))
	}

	return total, unknown
}

// CalculatePoolsValue values pools staking cfg.Pools.StakingToken. Other pools contribute zero.
// TODO: price the remaining staking tokens through the reference table so SENZU pools count.
func CalculatePoolsValue(entries EntryReader, cfg types.ValuationConfig, prices map[types.QuoteToken]types.ResolvedPrice) sdkmath.LegacyDec {
	total := sdkmath.LegacyZeroDec()
	if !cfg.Pools.Enabled {
		return total
	}

	price, ok := prices[cfg.Pools.StakingToken]
	if !ok {
		price = ResolvePrice(entries, cfg.References, cfg.Pools.StakingToken)
	}

	decimals := cfg.Pools.Decimals
	if decimals == 0 {
		decimals = utils.TokenDecimals
	}

	for _, p := range entries.Pools() {
		if p.StakingTokenName != cfg.Pools.StakingToken || p.TotalStaked == nil {
			continue
		}
		staked, err := utils.RawToDec(*p.TotalStaked, decimals)
		if err != nil {
			aggregatorLogger.Warn().Err(err).Uint64("sousID", uint64(p.SousID)).Msg("Skipping pool with unusable staked amount")
			continue
		}
		total = total.Add(staked.Mul(price.Price))
	}

	return total
}
