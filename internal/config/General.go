package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// SlowRefreshInterval is the cadence of public market/liquidity refreshes.
	SlowRefreshInterval time.Duration
	// FastRefreshInterval is the cadence of account-specific refreshes.
	FastRefreshInterval time.Duration
	// StaleAfter marks a total as stale when its oldest input commit is older than this.
	StaleAfter time.Duration
	// FetchTimeout bounds one fetch of one collection.
	FetchTimeout time.Duration
	// PriceCacheTTL is how long token prices from PriceAPI are reused.
	PriceCacheTTL time.Duration

	// WalletAccount is the account whose balances are tracked. Empty disables user refreshes.
	WalletAccount string

	// UniverseFile optionally replaces the built-in farm and pool universe.
	UniverseFile string

	// WebPort is the port of the read API.
	WebPort string

	// RedisAddr enables total value notifications when set.
	RedisAddr string
	// RedisPassword is the password for RedisAddr.
	RedisPassword string
	// RedisChannel is the Pub/Sub channel total values are published on.
	RedisChannel string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// FARM_API_URL is required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	SlowRefreshInterval, err = getEnvAsDuration("SLOW_REFRESH_INTERVAL", DefaultSlowRefreshInterval)
	if err != nil {
		return err
	}

	FastRefreshInterval, err = getEnvAsDuration("FAST_REFRESH_INTERVAL", DefaultFastRefreshInterval)
	if err != nil {
		return err
	}

	StaleAfter, err = getEnvAsDuration("STALE_AFTER", DefaultStaleAfter)
	if err != nil {
		return err
	}

	FetchTimeout, err = getEnvAsDuration("FETCH_TIMEOUT", DefaultFetchTimeout)
	if err != nil {
		return err
	}

	PriceCacheTTL, err = getEnvAsDuration("PRICE_CACHE_TTL", DefaultPriceCacheTTL)
	if err != nil {
		return err
	}

	if FastRefreshInterval > SlowRefreshInterval {
		return errors.New("FAST_REFRESH_INTERVAL must not exceed SLOW_REFRESH_INTERVAL")
	}

	WalletAccount = getEnvOrDefault("WALLET_ACCOUNT", "")
	UniverseFile = getEnvOrDefault("UNIVERSE_FILE", "")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	RedisChannel = getEnvOrDefault("REDIS_CHANNEL", "tvl:total_value")

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Dur("SlowRefreshInterval", SlowRefreshInterval).
		Dur("FastRefreshInterval", FastRefreshInterval).
		Bool("WalletConnected", WalletAccount != "").
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back to def.
func getEnvOrDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return def
}

// getEnvAsDuration retrieves an environment variable as a positive time.Duration ("30s", "2m").
func getEnvAsDuration(key string, def time.Duration) (time.Duration, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return def, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return 0, errors.New("environment variable " + key + " must be a positive duration, got: " + valueStr)
	}
	return value, nil
}

// GetEnvAsInt retrieves an environment variable as an int with a default value.
func GetEnvAsInt(key string, def int) int {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return def
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return def
	}
	return value
}
