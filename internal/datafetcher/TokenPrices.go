/*
This file fetches USD token prices keyed by contract address. The response format is the
PancakeSwap v2 tokens listing: {"updated_at": ..., "data": {"0x..": {"price": "1.23", ...}}}.

Results are kept in a TTL cache so restarts of the refresh clock do not hit the rate limit.
*/

package datafetcher

import (
	"context"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/patrickmn/go-cache"

	"github.com/eggfarm/tvl/internal/logger"
)

var priceLogger = logger.GetForComponent("price_retriever")

const tokenPricesCacheKey = "token_prices"

type tokenPriceDTO struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	PriceBNB string `json:"price_BNB"`
}

type tokenPricesResponse struct {
	UpdatedAt int64                    `json:"updated_at"`
	Data      map[string]tokenPriceDTO `json:"data"`
}

// FetchTokenPrices returns USD prices keyed by lower-cased token address.
// Entries with an unparsable price are skipped, not fatal.
func (c *Client) FetchTokenPrices(ctx context.Context) (map[string]sdkmath.LegacyDec, error) {
	if c.priceCache != nil {
		if cached, found := c.priceCache.Get(tokenPricesCacheKey); found {
			priceLogger.Debug().Msg("Serving token prices from cache")
			return copyPrices(cached.(map[string]sdkmath.LegacyDec)), nil
		}
	}

	var resp tokenPricesResponse
	if err := c.getJSON(ctx, c.priceAPI, &resp); err != nil {
		return nil, fmt.Errorf("fetch token prices: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: token price response has no data", ErrInvalidResponse)
	}

	prices := make(map[string]sdkmath.LegacyDec, len(resp.Data))
	skipped := 0
	for addr, dto := range resp.Data {
		price, err := sdkmath.LegacyNewDecFromStr(strings.TrimSpace(dto.Price))
		if err != nil || price.IsNegative() {
			skipped++
			continue
		}
		prices[strings.ToLower(addr)] = price
	}

	if skipped > 0 {
		priceLogger.Warn().Int("skipped", skipped).Int("priced", len(prices)).Msg("Skipped token prices that could not be parsed")
	}

	if c.priceCache != nil {
		c.priceCache.Set(tokenPricesCacheKey, copyPrices(prices), cache.DefaultExpiration)
	}
	return prices, nil
}

func copyPrices(in map[string]sdkmath.LegacyDec) map[string]sdkmath.LegacyDec {
	out := make(map[string]sdkmath.LegacyDec, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
