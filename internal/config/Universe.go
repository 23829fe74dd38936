/*

This file contains the built-in universe of farms and pools: ids, symbols and quote classes.
Liquidity and user balances are filled in by refreshes.

UNIVERSE_FILE may point to a JSON document with the same shape to replace it.

*/

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/eggfarm/tvl/internal/types"
)

// DefaultUniverse returns a fresh copy of the built-in universe.
func DefaultUniverse() types.Universe {
	return types.Universe{
		PrimaryFarms: []types.Farm{
			{PID: 0, LPSymbol: "EGG-BUSD LP", TokenSymbol: "EGG", TokenAddress: "0xf952fc3ca7325cc27d15885d37117676d25bfda6", QuoteToken: types.QuoteTokenBUSD},
			{PID: 1, LPSymbol: "EGG-BNB LP", TokenSymbol: "EGG", TokenAddress: "0xf952fc3ca7325cc27d15885d37117676d25bfda6", QuoteToken: types.QuoteTokenBNB},
			{PID: 2, LPSymbol: "USDT-BUSD LP", TokenSymbol: "USDT", TokenAddress: "0x55d398326f99059ff775485246999027b3197955", QuoteToken: types.QuoteTokenBUSD},
			{PID: 3, LPSymbol: "BNB-BUSD LP", TokenSymbol: "BNB", TokenAddress: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", QuoteToken: types.QuoteTokenBUSD},
			{PID: 4, LPSymbol: "EGG", TokenSymbol: "EGG", TokenAddress: "0xf952fc3ca7325cc27d15885d37117676d25bfda6", QuoteToken: types.QuoteTokenEGG},
			{PID: 5, LPSymbol: "SENZU-EGG LP", TokenSymbol: "EGG", TokenAddress: "0xf952fc3ca7325cc27d15885d37117676d25bfda6", QuoteToken: types.QuoteTokenSENZU},
			{PID: 6, LPSymbol: "EGG2-BUSD LP", TokenSymbol: "BUSD", TokenAddress: "0xe9e7cea3dedca5984780bafc599bd69add087d56", QuoteToken: types.QuoteTokenEGG2},
			{PID: 7, LPSymbol: "BNB", TokenSymbol: "BNB", TokenAddress: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", QuoteToken: types.QuoteTokenBNB},
		},
		SecondaryFarms: []types.Farm{
			{PID: 0, LPSymbol: "SENZU-BUSD LP", TokenSymbol: "SENZU", TokenAddress: "0x3f8c2e2a8a1f3bc5a1d7c1f9a0b1f4a3e5c6d7e8", QuoteToken: types.QuoteTokenBUSD},
			{PID: 1, LPSymbol: "SENZU-BNB LP", TokenSymbol: "SENZU", TokenAddress: "0x3f8c2e2a8a1f3bc5a1d7c1f9a0b1f4a3e5c6d7e8", QuoteToken: types.QuoteTokenBNB},
			{PID: 2, LPSymbol: "SENZU", TokenSymbol: "SENZU", TokenAddress: "0x3f8c2e2a8a1f3bc5a1d7c1f9a0b1f4a3e5c6d7e8", QuoteToken: types.QuoteTokenSENZU},
			{PID: 7, LPSymbol: "BNB-BUSD LP", TokenSymbol: "BNB", TokenAddress: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", QuoteToken: types.QuoteTokenBUSD},
		},
		Pools: []types.Pool{
			{SousID: 0, StakingTokenName: types.QuoteTokenEGG},
			{SousID: 1, StakingTokenName: types.QuoteTokenSENZU},
		},
	}
}

// LoadUniverse returns the universe from path, or the built-in one when path is empty.
func LoadUniverse(path string) (types.Universe, error) {
	if path == "" {
		return DefaultUniverse(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Universe{}, fmt.Errorf("failed to read universe file %s: %w", path, err)
	}

	var u types.Universe
	if err := json.Unmarshal(raw, &u); err != nil {
		return types.Universe{}, fmt.Errorf("failed to parse universe file %s: %w", path, err)
	}

	for _, d := range types.Deployments {
		for _, f := range u.FarmsOf(d) {
			if !f.QuoteToken.Valid() {
				return types.Universe{}, fmt.Errorf("%s farm %d: %w: %q", d, f.PID, types.ErrUnknownQuoteToken, f.QuoteToken)
			}
		}
	}
	for _, p := range u.Pools {
		if !p.StakingTokenName.Valid() {
			return types.Universe{}, fmt.Errorf("pool %d: %w: %q", p.SousID, types.ErrUnknownQuoteToken, p.StakingTokenName)
		}
	}

	return u, nil
}
