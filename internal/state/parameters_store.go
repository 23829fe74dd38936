/*

This file stores operator price overrides: constant USD prices per deployment and quote-token
class, applied on top of the built-in reference tables at startup and whenever an operator
changes one through the API. The manual EGG2 peg is the usual example.

*/

package state

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/eggfarm/tvl/internal/types"
)

// PriceOverrides maps deployment and class to a constant price.
type PriceOverrides map[types.Deployment]map[types.QuoteToken]sdkmath.LegacyDec

// SavePriceOverride upserts one constant price. A nil price removes the override.
func SavePriceOverride(ctx context.Context, d types.Deployment, q types.QuoteToken, price *sdkmath.LegacyDec) (err error) {
	if DB == nil {
		return ErrDBNotInitialized
	}
	if !d.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	if !q.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownQuoteToken, q)
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if price == nil {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM price_overrides WHERE deployment = $1 AND quote_token = $2;`,
			string(d), string(q)); err != nil {
			return fmt.Errorf("failed to delete price override %s/%s: %w", d, q, err)
		}
	} else {
		if price.IsNegative() {
			return fmt.Errorf("price override %s/%s cannot be negative: %s", d, q, price)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO price_overrides (deployment, quote_token, price_usd, updated_at)
			VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
			ON CONFLICT (deployment, quote_token)
			DO UPDATE SET price_usd = EXCLUDED.price_usd, updated_at = CURRENT_TIMESTAMP;`,
			string(d), string(q), price.String()); err != nil {
			return fmt.Errorf("failed to save price override %s/%s: %w", d, q, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().Str("deployment", string(d)).Str("quoteToken", string(q)).Bool("removed", price == nil).Msg("Saved price override")
	return nil
}

// LoadPriceOverrides reads every stored override. Rows with unknown classes are skipped.
func LoadPriceOverrides(ctx context.Context) (PriceOverrides, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	rows, err := DB.QueryContext(ctx, `SELECT deployment, quote_token, price_usd::TEXT FROM price_overrides;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price overrides: %w", err)
	}
	defer rows.Close()

	out := make(PriceOverrides)
	for rows.Next() {
		var d, q, raw string
		if err := rows.Scan(&d, &q, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan price override: %w", err)
		}

		deployment, err := types.ParseDeployment(d)
		if err != nil {
			log.Warn().Str("deployment", d).Msg("Skipping price override for unknown deployment")
			continue
		}
		quote, err := types.ParseQuoteToken(q)
		if err != nil {
			log.Warn().Str("quoteToken", q).Msg("Skipping price override for unknown quote token")
			continue
		}
		price, err := sdkmath.LegacyNewDecFromStr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid price override %s/%s %q: %w", d, q, raw, err)
		}

		if out[deployment] == nil {
			out[deployment] = make(map[types.QuoteToken]sdkmath.LegacyDec)
		}
		out[deployment][quote] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// ApplyPriceOverrides replaces the matching rules of cfgs with constant rules.
func ApplyPriceOverrides(cfgs map[types.Deployment]types.ValuationConfig, overrides PriceOverrides) {
	for d, prices := range overrides {
		cfg, ok := cfgs[d]
		if !ok {
			continue
		}
		refs := make(types.ReferenceTable, len(cfg.References)+len(prices))
		for q, rule := range cfg.References {
			refs[q] = rule
		}
		for q, price := range prices {
			refs[q] = types.ConstantRule(price)
		}
		cfg.References = refs
		cfgs[d] = cfg
	}
}
