/*

This file contains the reference tables: for each deployment, which farm's cross price is
the ground truth for a quote-token class.

The EGG price is read directly from the EGG-BUSD farm. Deriving it as EGG-BNB times the
BNB price was dropped in favour of the USD-quoted pair.

If a class has no entry here its liquidity is summed as-is, which is right for BUSD/USDT.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/types"
)

const (
	PrimaryEggBusdPID   types.PositionID = 0 // EGG-BUSD LP
	PrimaryBusdBnbPID   types.PositionID = 3 // BUSD-BNB LP
	SecondarySenzuPID   types.PositionID = 0 // SENZU-BUSD LP
	SecondaryBusdBnbPID types.PositionID = 7 // BUSD-BNB LP
)

// Egg2PegPrice is the manual USD peg of EGG2, which has no listed pair.
var Egg2PegPrice = sdkmath.LegacyNewDec(22)

func PrimaryReferences() types.ReferenceTable {
	return types.ReferenceTable{
		types.QuoteTokenBNB:   types.ReferenceRule(types.DeploymentPrimary, PrimaryBusdBnbPID),
		types.QuoteTokenEGG:   types.ReferenceRule(types.DeploymentPrimary, PrimaryEggBusdPID),
		types.QuoteTokenSENZU: types.ReferenceRule(types.DeploymentSecondary, SecondarySenzuPID),
		types.QuoteTokenEGG2:  types.ConstantRule(Egg2PegPrice),
	}
}

func SecondaryReferences() types.ReferenceTable {
	return types.ReferenceTable{
		types.QuoteTokenBNB:   types.ReferenceRule(types.DeploymentSecondary, SecondaryBusdBnbPID),
		types.QuoteTokenSENZU: types.ReferenceRule(types.DeploymentSecondary, SecondarySenzuPID),
	}
}
