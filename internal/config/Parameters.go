/*

This file contains the default parameters for the TVL engine.

*/

package config

import (
	"time"

	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

const (
	DefaultSlowRefreshInterval = 60 * time.Second
	DefaultFastRefreshInterval = 10 * time.Second
	DefaultStaleAfter          = 5 * time.Minute

	DefaultPriceAPI = "https://api.pancakeswap.info/api/v2/tokens"

	// DefaultFetchTimeout bounds one fetch of one collection.
	DefaultFetchTimeout = 25 * time.Second

	DefaultPriceCacheTTL = 30 * time.Second
)

// DefaultPoolValuation values primary pools by their EGG stake.
// Pools staking any other token are not valued yet.
var DefaultPoolValuation = types.PoolValuation{
	Enabled:      true,
	StakingToken: types.QuoteTokenEGG,
	Decimals:     utils.TokenDecimals,
}

// ValuationConfigs returns the resolver/aggregator configuration of every deployment.
func ValuationConfigs() map[types.Deployment]types.ValuationConfig {
	return map[types.Deployment]types.ValuationConfig{
		types.DeploymentPrimary: {
			Deployment: types.DeploymentPrimary,
			References: PrimaryReferences(),
			Pools:      DefaultPoolValuation,
		},
		types.DeploymentSecondary: {
			Deployment: types.DeploymentSecondary,
			References: SecondaryReferences(),
		},
	}
}
