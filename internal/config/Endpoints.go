package config

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// FarmAPI is the base URL of the farm/pool data service.
	FarmAPI string
	// PriceAPI is the URL of the token price service (address -> USD).
	PriceAPI string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	FarmAPI, err = getEnv("FARM_API_URL")
	if err != nil {
		return err
	}
	FarmAPI = strings.TrimRight(FarmAPI, "/")

	PriceAPI = getEnvOrDefault("PRICE_API_URL", DefaultPriceAPI)

	log.Debug().
		Str("FarmAPI", FarmAPI).
		Str("PriceAPI", PriceAPI).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
