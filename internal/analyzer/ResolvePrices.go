/*

This file contains the price resolver: it turns a deployment's reference table into one
USD price per quote-token class by reading the designated reference entries of a snapshot.

Resolution never fails. A missing reference entry or cross price yields a zero price with
ResolutionUnresolved so downstream totals degrade instead of erroring.

*/

package analyzer

import (
	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
)

var resolverLogger = logger.GetForComponent("price_resolver")

// EntryReader is the read side of an entry store snapshot.
type EntryReader interface {
	Farms(d types.Deployment) []types.Farm
	Pools() []types.Pool
	FarmByPID(d types.Deployment, pid types.PositionID) (types.Farm, error)
	FarmBySymbol(d types.Deployment, symbol string) (types.Farm, error)
	TokenPrice(address string) (sdkmath.LegacyDec, bool)
}

// ResolvePrice resolves the USD price of class q under table.
// Inputs:
//   - entries: the snapshot to read reference entries from (any deployment).
//   - table: the dispatch table of the deployment being valued.
//   - q: the quote-token class.
//
// Output:
//   - ResolutionUnmapped with price 1 when table has no rule for q (liquidity is already USD).
//   - ResolutionResolved with the constant or the reference cross price.
//   - ResolutionUnresolved with price 0 when the reference entry or its cross price is missing.
func ResolvePrice(entries EntryReader, table types.ReferenceTable, q types.QuoteToken) types.ResolvedPrice {
	rule, ok := table[q]
	if !ok {
		return types.ResolvedPrice{QuoteToken: q, Price: sdkmath.LegacyOneDec(), Status: types.ResolutionUnmapped}
	}

	switch rule.Kind {
	case types.RuleConstant:
		if rule.Value.IsNil() {
			break
		}
		return types.ResolvedPrice{QuoteToken: q, Price: rule.Value.Clone(), Status: types.ResolutionResolved}

	case types.RuleReference:
		ref, err := entries.FarmByPID(rule.Deployment, rule.PID)
		if err != nil {
			resolverLogger.Debug().
				Err(err).
				Str("quoteToken", string(q)).
				Str("referenceDeployment", string(rule.Deployment)).
				Uint64("referencePID", uint64(rule.PID)).
				Msg("Reference entry missing, pricing class at zero")
			break
		}
		if ref.TokenPriceVsQuote == nil || ref.TokenPriceVsQuote.IsNil() {
			break
		}
		return types.ResolvedPrice{QuoteToken: q, Price: ref.TokenPriceVsQuote.Clone(), Status: types.ResolutionResolved}
	}

	return types.ResolvedPrice{QuoteToken: q, Price: sdkmath.LegacyZeroDec(), Status: types.ResolutionUnresolved}
}

// ResolvePrices resolves every known class for one deployment's table.
func ResolvePrices(entries EntryReader, table types.ReferenceTable) map[types.QuoteToken]types.ResolvedPrice {
	out := make(map[types.QuoteToken]types.ResolvedPrice, len(types.QuoteTokens))
	for _, q := range types.QuoteTokens {
		out[q] = ResolvePrice(entries, table, q)
	}
	return out
}
