package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eggfarm/tvl/internal/types"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FARM_API_URL", "http://farms.local/")
	t.Setenv("SLOW_REFRESH_INTERVAL", "")
	t.Setenv("FAST_REFRESH_INTERVAL", "")
	t.Setenv("WALLET_ACCOUNT", "")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "http://farms.local", FarmAPI)
	assert.Equal(t, DefaultSlowRefreshInterval, SlowRefreshInterval)
	assert.Equal(t, DefaultFastRefreshInterval, FastRefreshInterval)
	assert.Equal(t, DefaultPriceAPI, PriceAPI)
	assert.Empty(t, WalletAccount)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FARM_API_URL", "http://farms.local")
	t.Setenv("SLOW_REFRESH_INTERVAL", "2m")
	t.Setenv("FAST_REFRESH_INTERVAL", "15s")
	t.Setenv("WALLET_ACCOUNT", "0xabc")

	require.NoError(t, LoadConfig())
	assert.Equal(t, 2*time.Minute, SlowRefreshInterval)
	assert.Equal(t, 15*time.Second, FastRefreshInterval)
	assert.Equal(t, "0xabc", WalletAccount)
}

func TestLoadConfig_MissingFarmAPI(t *testing.T) {
	t.Setenv("FARM_API_URL", "")
	assert.Error(t, LoadConfig())
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("FARM_API_URL", "http://farms.local")
	t.Setenv("SLOW_REFRESH_INTERVAL", "soon")
	assert.Error(t, LoadConfig())
}

func TestLoadConfig_FastSlowerThanSlow(t *testing.T) {
	t.Setenv("FARM_API_URL", "http://farms.local")
	t.Setenv("SLOW_REFRESH_INTERVAL", "10s")
	t.Setenv("FAST_REFRESH_INTERVAL", "1m")
	assert.Error(t, LoadConfig())
}

func TestDatabaseConfig(t *testing.T) {
	t.Setenv("DB_NAME", "")
	_, ok := DatabaseConfig()
	assert.False(t, ok, "history is disabled without DB_NAME")

	t.Setenv("DB_NAME", "tvl")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_USER", "tvl")
	t.Setenv("DB_SSLMODE", "")
	cfg, ok := DatabaseConfig()
	require.True(t, ok)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "tvl", cfg.User)
	assert.Equal(t, "disable", cfg.SSLMode)

	t.Setenv("DB_PORT", "6543")
	cfg, _ = DatabaseConfig()
	assert.Equal(t, 6543, cfg.Port)
}

func TestReferenceTables(t *testing.T) {
	primary := PrimaryReferences()
	assert.Equal(t, types.ReferenceRule(types.DeploymentPrimary, 3), primary[types.QuoteTokenBNB])
	assert.Equal(t, types.ReferenceRule(types.DeploymentPrimary, 0), primary[types.QuoteTokenEGG])
	assert.Equal(t, types.RuleConstant, primary[types.QuoteTokenEGG2].Kind)
	assert.True(t, primary[types.QuoteTokenEGG2].Value.Equal(Egg2PegPrice))
	_, mapped := primary[types.QuoteTokenBUSD]
	assert.False(t, mapped)

	secondary := SecondaryReferences()
	assert.Equal(t, types.ReferenceRule(types.DeploymentSecondary, 7), secondary[types.QuoteTokenBNB])
}

func TestLoadUniverse_Default(t *testing.T) {
	u, err := LoadUniverse("")
	require.NoError(t, err)
	assert.NotEmpty(t, u.PrimaryFarms)
	assert.NotEmpty(t, u.SecondaryFarms)
	assert.NotEmpty(t, u.Pools)
}

func TestLoadUniverse_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.json")
	doc := `{"primary_farms":[{"pid":3,"lp_symbol":"BNB-BUSD LP","quote_token":"BUSD"}],"pools":[{"sous_id":0,"staking_token_name":"EGG"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	u, err := LoadUniverse(path)
	require.NoError(t, err)
	require.Len(t, u.PrimaryFarms, 1)
	assert.Equal(t, types.PositionID(3), u.PrimaryFarms[0].PID)
	assert.Empty(t, u.SecondaryFarms)
}

func TestLoadUniverse_UnknownQuoteToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"primary_farms":[{"pid":1,"quote_token":"CAKE"}]}`), 0o600))

	_, err := LoadUniverse(path)
	assert.ErrorIs(t, err, types.ErrUnknownQuoteToken)
}
