/*

This file contains the entry types held by the entry store: LP farms, single-asset pools
and the optional per-account sub-balances attached to both.

Optional numeric fields are pointers: nil means "not fetched yet", never zero.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// PositionID is a farm pid or a pool sousId, unique within its collection.
type PositionID uint64

type Farm struct {
	PID          PositionID `json:"pid"`
	LPSymbol     string     `json:"lp_symbol"`     // e.g., "EGG-BUSD LP"
	TokenSymbol  string     `json:"token_symbol"`  // e.g., "EGG"
	TokenAddress string     `json:"token_address"` // Token contract address, used for API price lookups
	QuoteToken   QuoteToken `json:"quote_token"`   // Immutable once the entry exists

	LPTotalInQuoteToken *sdkmath.LegacyDec `json:"lp_total_in_quote_token,omitempty"` // Locked liquidity in quote token units
	TokenPriceVsQuote   *sdkmath.LegacyDec `json:"token_price_vs_quote,omitempty"`    // Cross price of the token in quote token units
	LPTotalSupply       *sdkmath.Int       `json:"lp_total_supply,omitempty"`         // Raw LP supply, 18 decimals

	UserData *UserData `json:"user_data,omitempty"`
}

type Pool struct {
	SousID           PositionID   `json:"sous_id"`
	StakingTokenName QuoteToken   `json:"staking_token_name"`
	TotalStaked      *sdkmath.Int `json:"total_staked,omitempty"` // Raw staked amount, 18 decimals

	UserData *UserData `json:"user_data,omitempty"`
}

// UserData holds raw integer strings as delivered by the chain.
type UserData struct {
	Allowance     string `json:"allowance"`
	TokenBalance  string `json:"token_balance"`
	StakedBalance string `json:"staked_balance"`
	Earnings      string `json:"earnings"`
}

// UserBalances is the parsed view of UserData. Loaded is false when no user fetch has landed.
type UserBalances struct {
	Allowance     sdkmath.Int `json:"allowance"`
	TokenBalance  sdkmath.Int `json:"token_balance"`
	StakedBalance sdkmath.Int `json:"staked_balance"`
	Earnings      sdkmath.Int `json:"earnings"`
	Loaded        bool        `json:"loaded"`
}

// EmptyUserBalances returns zero balances with Loaded unset.
func EmptyUserBalances() UserBalances {
	return UserBalances{
		Allowance:     sdkmath.ZeroInt(),
		TokenBalance:  sdkmath.ZeroInt(),
		StakedBalance: sdkmath.ZeroInt(),
		Earnings:      sdkmath.ZeroInt(),
	}
}

// Balances parses the raw strings. A nil receiver yields EmptyUserBalances.
func (u *UserData) Balances() (UserBalances, error) {
	if u == nil {
		return EmptyUserBalances(), nil
	}

	out := UserBalances{Loaded: true}
	fields := []struct {
		name string
		raw  string
		dst  *sdkmath.Int
	}{
		{"allowance", u.Allowance, &out.Allowance},
		{"tokenBalance", u.TokenBalance, &out.TokenBalance},
		{"stakedBalance", u.StakedBalance, &out.StakedBalance},
		{"earnings", u.Earnings, &out.Earnings},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = sdkmath.ZeroInt()
			continue
		}
		v, ok := sdkmath.NewIntFromString(f.raw)
		if !ok {
			return EmptyUserBalances(), fmt.Errorf("invalid %s amount %q", f.name, f.raw)
		}
		*f.dst = v
	}
	return out, nil
}

// Clone returns a deep copy so snapshots never share mutable state.
func (f Farm) Clone() Farm {
	out := f
	if f.LPTotalInQuoteToken != nil {
		v := f.LPTotalInQuoteToken.Clone()
		out.LPTotalInQuoteToken = &v
	}
	if f.TokenPriceVsQuote != nil {
		v := f.TokenPriceVsQuote.Clone()
		out.TokenPriceVsQuote = &v
	}
	if f.LPTotalSupply != nil {
		v := sdkmath.NewIntFromBigInt(f.LPTotalSupply.BigInt())
		out.LPTotalSupply = &v
	}
	if f.UserData != nil {
		u := *f.UserData
		out.UserData = &u
	}
	return out
}

func (p Pool) Clone() Pool {
	out := p
	if p.TotalStaked != nil {
		v := sdkmath.NewIntFromBigInt(p.TotalStaked.BigInt())
		out.TotalStaked = &v
	}
	if p.UserData != nil {
		u := *p.UserData
		out.UserData = &u
	}
	return out
}

// Universe is the fixed set of positions tracked for a session: identity and class only.
type Universe struct {
	PrimaryFarms   []Farm `json:"primary_farms"`
	SecondaryFarms []Farm `json:"secondary_farms"`
	Pools          []Pool `json:"pools"`
}

// FarmsOf returns the farms of deployment d.
func (u Universe) FarmsOf(d Deployment) []Farm {
	if d == DeploymentSecondary {
		return u.SecondaryFarms
	}
	return u.PrimaryFarms
}
