// reset_db drops and recreates the valuation history tables. Price overrides and the cycle
// counter are lost too.
//
//	go run ./scripts/reset_db.go
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/eggfarm/tvl/internal/config"
	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/state"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, using OS environment")
	}
	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	dbCfg, ok := config.DatabaseConfig()
	if !ok {
		log.Fatal().Msg("DB_NAME is not set, nothing to reset")
	}
	if dbCfg.User == "" {
		log.Fatal().Msg("DB_USER is not set")
	}

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Str("host", dbCfg.Host).Int("port", dbCfg.Port).Msg("Cannot connect to history database")
	}
	defer state.CloseDB()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := state.DropSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to drop history tables")
	}
	if err := state.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate history tables")
	}
	log.Info().Str("dbName", dbCfg.DBName).Msg("Valuation history reset")
}
