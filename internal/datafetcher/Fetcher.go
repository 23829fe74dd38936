/*

This file defines the fetch collaborator used by the refresh engine. The engine never performs
network I/O itself; every collection is loaded through a Fetcher.

*/

package datafetcher

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/types"
)

var ErrInvalidResponse = errors.New("invalid API response")
var ErrAPIStatus = errors.New("API returned an error status")
var ErrAPIConfiguration = errors.New("API configuration error")

// Fetcher loads one collection per call. Farms and pools carry identity plus whatever
// public fields the source knows; user data is keyed by pid or sousId.
type Fetcher interface {
	FetchFarms(ctx context.Context, d types.Deployment) ([]types.Farm, error)
	FetchPools(ctx context.Context) ([]types.Pool, error)
	FetchTokenPrices(ctx context.Context) (map[string]sdkmath.LegacyDec, error)
	FetchFarmsUserData(ctx context.Context, d types.Deployment, account string) (map[types.PositionID]types.UserData, error)
	FetchPoolsUserData(ctx context.Context, account string) (map[types.PositionID]types.UserData, error)
}
