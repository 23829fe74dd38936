package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
)

var poolLogger = logger.GetForComponent("pool_retriever")

type poolDTO struct {
	SousID           types.PositionID `json:"sousId"`
	StakingTokenName string           `json:"stakingTokenName"`
	TotalStaked      json.Number      `json:"totalStaked"`
}

type poolsResponse struct {
	Data []poolDTO `json:"data"`
}

// FetchPools loads public pool data from GET {farmAPI}/pools.
func (c *Client) FetchPools(ctx context.Context) ([]types.Pool, error) {
	var resp poolsResponse
	if err := c.getJSON(ctx, c.farmAPI+"/pools", &resp); err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}

	pools := make([]types.Pool, 0, len(resp.Data))
	for _, dto := range resp.Data {
		p := types.Pool{SousID: dto.SousID}
		if dto.StakingTokenName != "" {
			q, err := types.ParseQuoteToken(dto.StakingTokenName)
			if err != nil {
				return nil, fmt.Errorf("pool %d: %w", dto.SousID, err)
			}
			p.StakingTokenName = q
		}

		staked, err := parseOptionalInt(dto.TotalStaked)
		if err != nil {
			poolLogger.Error().Err(err).Uint64("sousID", uint64(dto.SousID)).Msg("Rejecting pool response")
			return nil, fmt.Errorf("pool %d totalStaked: %w", dto.SousID, err)
		}
		p.TotalStaked = staked
		pools = append(pools, p)
	}

	poolLogger.Debug().Int("poolCount", len(pools)).Msg("Fetched public pool data")
	return pools, nil
}

// FetchPoolsUserData loads per-account pool balances from GET {farmAPI}/pools/users/{account}.
func (c *Client) FetchPoolsUserData(ctx context.Context, account string) (map[types.PositionID]types.UserData, error) {
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("%w: account is empty", ErrAPIConfiguration)
	}

	var resp userDataResponse
	if err := c.getJSON(ctx, c.farmAPI+"/pools/users/"+url.PathEscape(account), &resp); err != nil {
		return nil, fmt.Errorf("fetch pool user data: %w", err)
	}

	out := make(map[types.PositionID]types.UserData, len(resp.Data))
	for _, dto := range resp.Data {
		if dto.SousID == nil {
			return nil, fmt.Errorf("%w: pool user data without sousId", ErrInvalidResponse)
		}
		ud, err := dto.toUserData()
		if err != nil {
			return nil, fmt.Errorf("pool %d user data: %w", *dto.SousID, err)
		}
		out[*dto.SousID] = ud
	}
	return out, nil
}
