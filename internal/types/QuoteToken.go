/*

This file contains the closed set of quote-token classes and deployments.

A quote token is the denomination in which a position's locked liquidity is expressed.
The class decides which resolved price converts that liquidity into USD.

*/

package types

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownQuoteToken = errors.New("unknown quote token")
var ErrUnknownDeployment = errors.New("unknown deployment")

// QuoteToken is a quote-token class.
type QuoteToken string

const (
	QuoteTokenBNB   QuoteToken = "BNB"   // Native chain token
	QuoteTokenBUSD  QuoteToken = "BUSD"  // Settlement stablecoin
	QuoteTokenUSDT  QuoteToken = "USDT"  // Second stablecoin
	QuoteTokenEGG   QuoteToken = "EGG"   // Primary deployment reward token
	QuoteTokenEGG2  QuoteToken = "EGG2"  // Manually pegged second reward token
	QuoteTokenSENZU QuoteToken = "SENZU" // Secondary deployment reward token
)

// QuoteTokens lists every known class in a stable order.
var QuoteTokens = []QuoteToken{
	QuoteTokenBNB,
	QuoteTokenBUSD,
	QuoteTokenUSDT,
	QuoteTokenEGG,
	QuoteTokenEGG2,
	QuoteTokenSENZU,
}

// Valid reports whether q is a member of the closed set.
func (q QuoteToken) Valid() bool {
	for _, known := range QuoteTokens {
		if q == known {
			return true
		}
	}
	return false
}

// ParseQuoteToken parses a class name, case-insensitively.
func ParseQuoteToken(s string) (QuoteToken, error) {
	q := QuoteToken(strings.ToUpper(strings.TrimSpace(s)))
	if !q.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuoteToken, s)
	}
	return q, nil
}

// Deployment identifies one of the two parallel farm universes.
type Deployment string

const (
	DeploymentPrimary   Deployment = "primary"
	DeploymentSecondary Deployment = "secondary"
)

// Deployments lists both deployments in a stable order.
var Deployments = []Deployment{DeploymentPrimary, DeploymentSecondary}

func (d Deployment) Valid() bool {
	return d == DeploymentPrimary || d == DeploymentSecondary
}

// ParseDeployment parses a deployment name. "layer" is accepted as an alias of secondary.
func ParseDeployment(s string) (Deployment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return DeploymentPrimary, nil
	case "secondary", "layer":
		return DeploymentSecondary, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDeployment, s)
}

// Collection names one independently refreshed slice of the entry store.
type Collection string

const (
	CollectionPrimaryFarms   Collection = "primary_farms"
	CollectionSecondaryFarms Collection = "secondary_farms"
	CollectionPools          Collection = "pools"
	CollectionTokenPrices    Collection = "token_prices"
)

// FarmCollection returns the farm collection of a deployment.
func FarmCollection(d Deployment) Collection {
	if d == DeploymentSecondary {
		return CollectionSecondaryFarms
	}
	return CollectionPrimaryFarms
}

// Scope separates public market data from account-specific data.
type Scope string

const (
	ScopePublic Scope = "public" // slow refresh, no wallet required
	ScopeUser   Scope = "user"   // fast refresh, requires a connected account
)
