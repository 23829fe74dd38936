package analyzer

import (
	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

var lpTwo = sdkmath.LegacyNewDec(2)

// CalculateLpTokenPrice prices one LP token of the farm with the given symbol:
// LPTotalSupply / 10^18 / LPTotalInQuoteToken × token USD price × 2.
// Returns zero when any input is unknown or liquidity is zero. A missing symbol is an error.
func CalculateLpTokenPrice(entries EntryReader, d types.Deployment, symbol string) (sdkmath.LegacyDec, error) {
	farm, err := entries.FarmBySymbol(d, symbol)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	if farm.LPTotalSupply == nil || farm.LPTotalInQuoteToken == nil || farm.LPTotalInQuoteToken.IsNil() {
		return sdkmath.LegacyZeroDec(), nil
	}
	if !farm.LPTotalInQuoteToken.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}

	tokenPrice, ok := entries.TokenPrice(farm.TokenAddress)
	if !ok || tokenPrice.IsNil() {
		return sdkmath.LegacyZeroDec(), nil
	}

	supply, err := utils.RawToDec(*farm.LPTotalSupply, utils.TokenDecimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), nil
	}

	return supply.Quo(*farm.LPTotalInQuoteToken).Mul(tokenPrice).Mul(lpTwo), nil
}
