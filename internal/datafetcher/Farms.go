package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
)

var farmLogger = logger.GetForComponent("farm_retriever")

type farmDTO struct {
	PID                 types.PositionID `json:"pid"`
	LPSymbol            string           `json:"lpSymbol"`
	TokenSymbol         string           `json:"tokenSymbol"`
	TokenAddress        string           `json:"tokenAddress"`
	QuoteToken          string           `json:"quoteToken"`
	LPTotalInQuoteToken json.Number      `json:"lpTotalInQuoteToken"`
	TokenPriceVsQuote   json.Number      `json:"tokenPriceVsQuote"`
	LPTotalSupply       json.Number      `json:"lpTotalSupply"`
}

type farmsResponse struct {
	Data []farmDTO `json:"data"`
}

type userDataDTO struct {
	PID           *types.PositionID `json:"pid,omitempty"`
	SousID        *types.PositionID `json:"sousId,omitempty"`
	Allowance     json.Number       `json:"allowance"`
	TokenBalance  json.Number       `json:"tokenBalance"`
	StakedBalance json.Number       `json:"stakedBalance"`
	Earnings      json.Number       `json:"earnings"`
}

type userDataResponse struct {
	Data []userDataDTO `json:"data"`
}

// FetchFarms loads the public farm data of deployment d from GET {farmAPI}/farms/{d}.
func (c *Client) FetchFarms(ctx context.Context, d types.Deployment) ([]types.Farm, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}

	var resp farmsResponse
	if err := c.getJSON(ctx, c.farmAPI+"/farms/"+string(d), &resp); err != nil {
		return nil, fmt.Errorf("fetch %s farms: %w", d, err)
	}

	farms := make([]types.Farm, 0, len(resp.Data))
	for _, dto := range resp.Data {
		f, err := dto.toFarm()
		if err != nil {
			farmLogger.Error().Err(err).Str("deployment", string(d)).Uint64("pid", uint64(dto.PID)).Msg("Rejecting farm response")
			return nil, fmt.Errorf("%s farm %d: %w", d, dto.PID, err)
		}
		farms = append(farms, f)
	}

	farmLogger.Debug().Str("deployment", string(d)).Int("farmCount", len(farms)).Msg("Fetched public farm data")
	return farms, nil
}

// FetchFarmsUserData loads per-account farm balances from GET {farmAPI}/farms/{d}/users/{account}.
func (c *Client) FetchFarmsUserData(ctx context.Context, d types.Deployment, account string) (map[types.PositionID]types.UserData, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("%w: account is empty", ErrAPIConfiguration)
	}

	var resp userDataResponse
	endpoint := c.farmAPI + "/farms/" + string(d) + "/users/" + url.PathEscape(account)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s farm user data: %w", d, err)
	}

	out := make(map[types.PositionID]types.UserData, len(resp.Data))
	for _, dto := range resp.Data {
		if dto.PID == nil {
			return nil, fmt.Errorf("%w: farm user data without pid", ErrInvalidResponse)
		}
		ud, err := dto.toUserData()
		if err != nil {
			return nil, fmt.Errorf("%s farm %d user data: %w", d, *dto.PID, err)
		}
		out[*dto.PID] = ud
	}
	return out, nil
}

func (dto farmDTO) toFarm() (types.Farm, error) {
	f := types.Farm{
		PID:          dto.PID,
		LPSymbol:     dto.LPSymbol,
		TokenSymbol:  dto.TokenSymbol,
		TokenAddress: dto.TokenAddress,
	}

	if dto.QuoteToken != "" {
		q, err := types.ParseQuoteToken(dto.QuoteToken)
		if err != nil {
			return f, err
		}
		f.QuoteToken = q
	}

	var err error
	if f.LPTotalInQuoteToken, err = parseOptionalDec(dto.LPTotalInQuoteToken); err != nil {
		return f, fmt.Errorf("lpTotalInQuoteToken: %w", err)
	}
	if f.TokenPriceVsQuote, err = parseOptionalDec(dto.TokenPriceVsQuote); err != nil {
		return f, fmt.Errorf("tokenPriceVsQuote: %w", err)
	}
	if f.LPTotalSupply, err = parseOptionalInt(dto.LPTotalSupply); err != nil {
		return f, fmt.Errorf("lpTotalSupply: %w", err)
	}
	return f, nil
}

func (dto userDataDTO) toUserData() (types.UserData, error) {
	ud := types.UserData{
		Allowance:     dto.Allowance.String(),
		TokenBalance:  dto.TokenBalance.String(),
		StakedBalance: dto.StakedBalance.String(),
		Earnings:      dto.Earnings.String(),
	}
	// Validate now so a malformed amount never reaches the store
	if _, err := (&ud).Balances(); err != nil {
		return ud, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return ud, nil
}

// parseOptionalDec maps an absent value to nil; negative values are rejected.
func parseOptionalDec(n json.Number) (*sdkmath.LegacyDec, error) {
	if n == "" {
		return nil, nil
	}
	d, err := sdkmath.LegacyNewDecFromStr(n.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal", ErrInvalidResponse, n)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidResponse, n)
	}
	return &d, nil
}

func parseOptionalInt(n json.Number) (*sdkmath.Int, error) {
	if n == "" {
		return nil, nil
	}
	v, ok := sdkmath.NewIntFromString(n.String())
	if !ok || v.IsNegative() {
		return nil, fmt.Errorf("%w: %q is not a raw amount", ErrInvalidResponse, n)
	}
	return &v, nil
}
