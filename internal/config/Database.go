package config

import (
	"github.com/eggfarm/tvl/internal/state"
)

// DatabaseConfig reads the history database settings. ok is false when DB_NAME is unset,
// which disables valuation history.
func DatabaseConfig() (cfg state.DBConfig, ok bool) {
	name := getEnvOrDefault("DB_NAME", "")
	if name == "" {
		return state.DBConfig{}, false
	}
	return state.DBConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     GetEnvAsInt("DB_PORT", 5432),
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:   name,
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}, true
}
