package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eggfarm/tvl/internal/observability"
	"github.com/eggfarm/tvl/internal/state"
	"github.com/eggfarm/tvl/internal/types"
)

const (
	testAccount  = "0x00000000000000000000000000000000000000aa"
	otherAccount = "0x00000000000000000000000000000000000000bb"
)

func dec(s string) *sdkmath.LegacyDec {
	d := sdkmath.LegacyMustNewDecFromStr(s)
	return &d
}

func rawInt(s string) *sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		panic("bad int " + s)
	}
	return &v
}

// fakeFetcher serves fixed collections. Pools and pool user data can be held open to
// simulate slow fetches.
type fakeFetcher struct {
	poolsCalls     atomic.Int32
	poolsUserCalls atomic.Int32

	poolsStarted     chan struct{}
	poolsRelease     chan struct{}
	poolsUserStarted chan struct{}
	poolsUserRelease chan struct{}

	pricesErr error

	mu       sync.Mutex
	accounts []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{}
}

func (f *fakeFetcher) FetchFarms(_ context.Context, d types.Deployment) ([]types.Farm, error) {
	if d == types.DeploymentSecondary {
		return []types.Farm{
			{PID: 1, LPTotalInQuoteToken: dec("10")},
		}, nil
	}
	return []types.Farm{
		{PID: 0, LPTotalInQuoteToken: dec("100"), TokenPriceVsQuote: dec("2"), LPTotalSupply: rawInt("400000000000000000000")},
		{PID: 3, LPTotalInQuoteToken: dec("50"), TokenPriceVsQuote: dec("300")},
	}, nil
}

func (f *fakeFetcher) FetchPools(_ context.Context) ([]types.Pool, error) {
	f.poolsCalls.Add(1)
	signal(f.poolsStarted)
	if f.poolsRelease != nil {
		<-f.poolsRelease
	}
	return []types.Pool{
		{SousID: 0, TotalStaked: rawInt("2500000000000000000")},
		{SousID: 1, TotalStaked: rawInt("1000000000000000000")},
	}, nil
}

func (f *fakeFetcher) FetchTokenPrices(_ context.Context) (map[string]sdkmath.LegacyDec, error) {
	if f.pricesErr != nil {
		return nil, f.pricesErr
	}
	return map[string]sdkmath.LegacyDec{
		"0xEGG": sdkmath.LegacyNewDec(2),
	}, nil
}

func (f *fakeFetcher) FetchFarmsUserData(_ context.Context, d types.Deployment, account string) (map[types.PositionID]types.UserData, error) {
	if d == types.DeploymentSecondary {
		return map[types.PositionID]types.UserData{}, nil
	}
	if account == otherAccount {
		return map[types.PositionID]types.UserData{
			3: {StakedBalance: "7"},
		}, nil
	}
	return map[types.PositionID]types.UserData{
		0: {Allowance: "1", TokenBalance: "2", StakedBalance: "3", Earnings: "4"},
	}, nil
}

func (f *fakeFetcher) FetchPoolsUserData(_ context.Context, account string) (map[types.PositionID]types.UserData, error) {
	f.poolsUserCalls.Add(1)
	f.mu.Lock()
	f.accounts = append(f.accounts, account)
	f.mu.Unlock()

	signal(f.poolsUserStarted)
	if f.poolsUserRelease != nil {
		<-f.poolsUserRelease
	}
	if account == otherAccount {
		return map[types.PositionID]types.UserData{}, nil
	}
	return map[types.PositionID]types.UserData{
		0: {StakedBalance: "5000000000000000000"},
	}, nil
}

func (f *fakeFetcher) seenAccounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

func signal(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	totals [][]types.TotalValue
}

func (n *fakeNotifier) PublishTotals(_ context.Context, totals []types.TotalValue) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.totals = append(n.totals, totals)
	return nil
}

func (n *fakeNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.totals)
}

type fakeRecorder struct {
	mu       sync.Mutex
	cycleIDs []string
	err      error
}

func (r *fakeRecorder) RecordTotals(_ context.Context, cycleID string, _ []types.TotalValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycleIDs = append(r.cycleIDs, cycleID)
	return r.err
}

func testUniverse() types.Universe {
	return types.Universe{
		PrimaryFarms: []types.Farm{
			{PID: 0, LPSymbol: "EGG-BUSD LP", TokenAddress: "0xegg", QuoteToken: types.QuoteTokenBUSD},
			{PID: 3, LPSymbol: "EGG-BNB LP", QuoteToken: types.QuoteTokenBNB},
		},
		SecondaryFarms: []types.Farm{
			{PID: 1, LPSymbol: "SENZU-EGG LP", QuoteToken: types.QuoteTokenEGG},
		},
		Pools: []types.Pool{
			{SousID: 0, StakingTokenName: types.QuoteTokenEGG},
			{SousID: 1, StakingTokenName: types.QuoteTokenSENZU},
		},
	}
}

// testValuation prices EGG from primary pid 0 and BNB from primary pid 3. The secondary
// deployment reuses the primary EGG reference and has no pools.
func testValuation() map[types.Deployment]types.ValuationConfig {
	return map[types.Deployment]types.ValuationConfig{
		types.DeploymentPrimary: {
			Deployment: types.DeploymentPrimary,
			References: types.ReferenceTable{
				types.QuoteTokenEGG: types.ReferenceRule(types.DeploymentPrimary, 0),
				types.QuoteTokenBNB: types.ReferenceRule(types.DeploymentPrimary, 3),
			},
			Pools: types.PoolValuation{Enabled: true, StakingToken: types.QuoteTokenEGG, Decimals: 18},
		},
		types.DeploymentSecondary: {
			Deployment: types.DeploymentSecondary,
			References: types.ReferenceTable{
				types.QuoteTokenEGG: types.ReferenceRule(types.DeploymentPrimary, 0),
			},
		},
	}
}

type testEnv struct {
	engine   *Engine
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	recorder *fakeRecorder
	metrics  *observability.Metrics
}

func newTestEngine(t *testing.T, f *fakeFetcher) testEnv {
	t.Helper()

	store, err := state.NewEntryStore(testUniverse())
	require.NoError(t, err)

	env := testEnv{
		fetcher:  f,
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	env.engine, err = NewEngine(Config{
		Fetcher:      f,
		Store:        store,
		Valuation:    testValuation(),
		StaleAfter:   time.Minute,
		FetchTimeout: 5 * time.Second,
		Workers:      4,
		Metrics:      env.metrics,
		Recorder:     env.recorder,
		Notifier:     env.notifier,
	})
	require.NoError(t, err)
	t.Cleanup(env.engine.Close)
	return env
}

func TestNewEngine_Validation(t *testing.T) {
	store, err := state.NewEntryStore(testUniverse())
	require.NoError(t, err)

	valid := Config{
		Fetcher:      newFakeFetcher(),
		Store:        store,
		Valuation:    testValuation(),
		StaleAfter:   time.Minute,
		FetchTimeout: time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil fetcher", func(c *Config) { c.Fetcher = nil }},
		{"nil store", func(c *Config) { c.Store = nil }},
		{"missing deployment config", func(c *Config) { delete(c.Valuation, types.DeploymentSecondary) }},
		{"zero stale-after", func(c *Config) { c.StaleAfter = 0 }},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Valuation = testValuation()
			tt.mutate(&cfg)
			_, err := NewEngine(cfg)
			assert.Error(t, err)
		})
	}

	e, err := NewEngine(valid)
	require.NoError(t, err)
	e.Close()
}

func TestRunPublicCycle_CommitsAndTotals(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	require.NoError(t, e.RunPublicCycle(context.Background()))

	primary, err := e.TotalValue(types.DeploymentPrimary)
	require.NoError(t, err)
	// Farms: 100 BUSD passes through + 50 BNB * 300 = 15100. Pools: 2.5 EGG * 2 = 5.
	assert.True(t, primary.Farms.Equal(sdkmath.LegacyNewDec(15100)), "got %s", primary.Farms)
	assert.True(t, primary.Pools.Equal(sdkmath.LegacyNewDec(5)), "got %s", primary.Pools)
	assert.True(t, primary.Total.Equal(sdkmath.LegacyNewDec(15105)), "got %s", primary.Total)
	assert.Empty(t, primary.UnknownPositions)
	assert.False(t, primary.Stale)
	assert.Equal(t, uint64(4), primary.Generation)

	secondary, err := e.TotalValue(types.DeploymentSecondary)
	require.NoError(t, err)
	assert.True(t, secondary.Total.Equal(sdkmath.LegacyNewDec(20)), "got %s", secondary.Total)

	price, ok := e.TokenPrice("0xegg")
	require.True(t, ok)
	assert.True(t, price.Equal(sdkmath.LegacyNewDec(2)))

	assert.Equal(t, 1, env.notifier.calls())
	assert.Len(t, env.notifier.totals[0], len(types.Deployments))
	assert.Len(t, env.recorder.cycleIDs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.FetchesTotal.WithLabelValues("pools", "public", observability.StatusSuccess)))
}

func TestRunPublicCycle_PartialFailure(t *testing.T) {
	f := newFakeFetcher()
	f.pricesErr = errors.New("price API down")
	env := newTestEngine(t, f)

	err := env.engine.RunPublicCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_prices/public")

	// The failing collection leaves the store unchanged; the others commit.
	snap := env.engine.Snapshot()
	_, ok := snap.LastCommit(types.CollectionTokenPrices, types.ScopePublic)
	assert.False(t, ok)
	_, ok = snap.LastCommit(types.CollectionPools, types.ScopePublic)
	assert.True(t, ok)
	assert.Equal(t, 1, env.notifier.calls())
}

func TestRunPublicCycle_SinkErrorsAreNotFatal(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	env.recorder.err = errors.New("database unavailable")

	require.NoError(t, env.engine.RunPublicCycle(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SinkErrors.WithLabelValues("recorder")))
}

func TestRefresh_InFlightGuardDropsTrigger(t *testing.T) {
	f := newFakeFetcher()
	f.poolsStarted = make(chan struct{}, 1)
	f.poolsRelease = make(chan struct{})
	env := newTestEngine(t, f)
	e := env.engine

	first := make(chan error, 1)
	go func() { first <- e.RunPublicCycle(context.Background()) }()
	<-f.poolsStarted

	err := e.RunPublicCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int32(1), f.poolsCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TriggersDropped.WithLabelValues("pools", "public")))

	close(f.poolsRelease)
	require.NoError(t, <-first)

	// The guard is released once the fetch completes.
	require.NoError(t, e.RunPublicCycle(context.Background()))
	assert.Equal(t, int32(2), f.poolsCalls.Load())
}

func TestRefresh_EpochChangeDiscardsResult(t *testing.T) {
	f := newFakeFetcher()
	f.poolsStarted = make(chan struct{}, 1)
	f.poolsRelease = make(chan struct{})
	env := newTestEngine(t, f)
	e := env.engine

	done := make(chan error, 1)
	go func() { done <- e.RunPublicCycle(context.Background()) }()
	<-f.poolsStarted

	e.AdvanceEpoch(types.ScopePublic)
	close(f.poolsRelease)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEpochChanged)

	pool, err := e.PoolBySousID(0)
	require.NoError(t, err)
	assert.Nil(t, pool.TotalStaked)
}

func TestRunUserCycle(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	require.Error(t, e.RunUserCycle(context.Background(), "", e.Epoch(types.ScopeUser)))

	before, err := e.FarmUser(types.DeploymentPrimary, 0)
	require.NoError(t, err)
	assert.False(t, before.Loaded)
	assert.True(t, before.StakedBalance.IsZero())

	require.NoError(t, e.RunUserCycle(context.Background(), testAccount, e.Epoch(types.ScopeUser)))

	after, err := e.FarmUser(types.DeploymentPrimary, 0)
	require.NoError(t, err)
	assert.True(t, after.Loaded)
	assert.Equal(t, int64(3), after.StakedBalance.Int64())

	pool, err := e.PoolUser(0)
	require.NoError(t, err)
	assert.True(t, pool.Loaded)
	assert.Equal(t, "5000000000000000000", pool.StakedBalance.String())

	assert.Equal(t, testAccount, e.Snapshot().UserAccount())
	// User data does not move totals.
	assert.Equal(t, 0, env.notifier.calls())
}

func TestRunUserCycle_OldEpochDiscarded(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	stale := e.Epoch(types.ScopeUser)
	e.AdvanceEpoch(types.ScopeUser)

	err := e.RunUserCycle(context.Background(), testAccount, stale)
	assert.ErrorIs(t, err, ErrEpochChanged)
	assert.Empty(t, e.Snapshot().UserAccount())
}

func TestResetUser(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	epoch := e.Epoch(types.ScopeUser)
	require.NoError(t, e.RunUserCycle(context.Background(), testAccount, epoch))
	generation := e.Snapshot().Generation()

	next := e.ResetUser()
	assert.Equal(t, epoch+1, next)
	assert.Equal(t, generation+1, e.Snapshot().Generation())
	assert.Empty(t, e.Snapshot().UserAccount())

	farm, err := e.FarmUser(types.DeploymentPrimary, 0)
	require.NoError(t, err)
	assert.False(t, farm.Loaded)
	pool, err := e.PoolUser(0)
	require.NoError(t, err)
	assert.False(t, pool.Loaded)

	assert.ErrorIs(t, e.RunUserCycle(context.Background(), testAccount, epoch), ErrEpochChanged)
	farm, err = e.FarmUser(types.DeploymentPrimary, 0)
	require.NoError(t, err)
	assert.False(t, farm.Loaded)
}

func TestAccessors_Errors(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	_, err := e.Farms("tertiary")
	assert.ErrorIs(t, err, types.ErrUnknownDeployment)
	_, err = e.TotalValue("tertiary")
	assert.ErrorIs(t, err, types.ErrUnknownDeployment)
	_, err = e.Price(types.DeploymentPrimary, "DOGE")
	assert.ErrorIs(t, err, types.ErrUnknownQuoteToken)
	_, err = e.FarmUser(types.DeploymentPrimary, 99)
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = e.PoolUser(99)
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = e.LpTokenPrice("tertiary", "EGG-BUSD LP")
	assert.ErrorIs(t, err, types.ErrUnknownDeployment)
}

func TestPricesAndLpTokenPrice(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine
	require.NoError(t, e.RunPublicCycle(context.Background()))

	prices, err := e.Prices(types.DeploymentPrimary)
	require.NoError(t, err)
	assert.Len(t, prices, len(types.QuoteTokens))
	assert.Equal(t, types.ResolutionResolved, prices[types.QuoteTokenBNB].Status)
	assert.Equal(t, types.ResolutionUnmapped, prices[types.QuoteTokenBUSD].Status)

	egg, err := e.Price(types.DeploymentSecondary, types.QuoteTokenEGG)
	require.NoError(t, err)
	assert.True(t, egg.Price.Equal(sdkmath.LegacyNewDec(2)))

	// 400 LP over 100 of quote liquidity with the token at 2 USD: 400 / 100 * 2 * 2 = 16.
	lp, err := e.LpTokenPrice(types.DeploymentPrimary, "EGG-BUSD LP")
	require.NoError(t, err)
	assert.True(t, lp.Equal(sdkmath.LegacyNewDec(16)), "got %s", lp)
}

func TestSetPriceOverride(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine
	require.NoError(t, e.RunPublicCycle(context.Background()))

	hundred := sdkmath.LegacyNewDec(100)
	require.NoError(t, e.SetPriceOverride(types.DeploymentPrimary, types.QuoteTokenBNB, &hundred))

	bnb, err := e.Price(types.DeploymentPrimary, types.QuoteTokenBNB)
	require.NoError(t, err)
	assert.True(t, bnb.Price.Equal(hundred), "got %s", bnb.Price)
	assert.Equal(t, types.ResolutionResolved, bnb.Status)

	// 100 BUSD + 50 BNB * 100 = 5100 in farms, pools unchanged at 5.
	primary, err := e.TotalValue(types.DeploymentPrimary)
	require.NoError(t, err)
	assert.True(t, primary.Total.Equal(sdkmath.LegacyNewDec(5105)), "got %s", primary.Total)

	// Other deployments keep their own table
	secondary, err := e.Price(types.DeploymentSecondary, types.QuoteTokenBNB)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionUnmapped, secondary.Status)

	require.NoError(t, e.SetPriceOverride(types.DeploymentPrimary, types.QuoteTokenBNB, nil))
	primary, err = e.TotalValue(types.DeploymentPrimary)
	require.NoError(t, err)
	assert.True(t, primary.Total.Equal(sdkmath.LegacyNewDec(15105)), "got %s", primary.Total)

	negative := sdkmath.LegacyNewDec(-1)
	assert.ErrorIs(t, e.SetPriceOverride(types.DeploymentPrimary, types.QuoteTokenBNB, &negative), ErrInvalidOverride)
	assert.ErrorIs(t, e.SetPriceOverride("tertiary", types.QuoteTokenBNB, &hundred), types.ErrUnknownDeployment)
	assert.ErrorIs(t, e.SetPriceOverride(types.DeploymentPrimary, "DOGE", &hundred), types.ErrUnknownQuoteToken)
}

func TestNewEngine_PriceOverrides(t *testing.T) {
	store, err := state.NewEntryStore(testUniverse())
	require.NoError(t, err)

	base := testValuation()
	e, err := NewEngine(Config{
		Fetcher:      newFakeFetcher(),
		Store:        store,
		Valuation:    base,
		StaleAfter:   time.Minute,
		FetchTimeout: time.Second,
		PriceOverrides: state.PriceOverrides{
			types.DeploymentSecondary: {types.QuoteTokenEGG: sdkmath.LegacyMustNewDecFromStr("1.5")},
		},
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	egg, err := e.Price(types.DeploymentSecondary, types.QuoteTokenEGG)
	require.NoError(t, err)
	assert.True(t, egg.Price.Equal(sdkmath.LegacyMustNewDecFromStr("1.5")), "got %s", egg.Price)

	// The caller's tables are not modified
	assert.Equal(t, types.RuleReference, base[types.DeploymentSecondary].References[types.QuoteTokenEGG].Kind)
}

func TestTotalValue_Staleness(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())
	e := env.engine

	tv, err := e.TotalValue(types.DeploymentPrimary)
	require.NoError(t, err)
	assert.True(t, tv.Stale, "never fetched")
	assert.True(t, tv.UpdatedAt.IsZero())

	// The secondary total depends on the primary reference farm.
	_, err = e.store.Apply(state.FetchResult{
		Collection: types.CollectionSecondaryFarms,
		Scope:      types.ScopePublic,
		Cycle:      1,
		Farms:      []types.Farm{{PID: 1, LPTotalInQuoteToken: dec("10")}},
	})
	require.NoError(t, err)
	tv, err = e.TotalValue(types.DeploymentSecondary)
	require.NoError(t, err)
	assert.True(t, tv.Stale)

	require.NoError(t, e.RunPublicCycle(context.Background()))
	for _, tv := range e.TotalValues() {
		assert.False(t, tv.Stale, "deployment %s", tv.Deployment)
		assert.False(t, tv.UpdatedAt.IsZero())
	}

	e.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	for _, tv := range e.TotalValues() {
		assert.True(t, tv.Stale, "deployment %s", tv.Deployment)
	}
}

func TestNewClock_Validation(t *testing.T) {
	env := newTestEngine(t, newFakeFetcher())

	_, err := NewClock(nil, time.Minute, time.Second)
	assert.Error(t, err)
	_, err = NewClock(env.engine, 0, time.Second)
	assert.Error(t, err)
	_, err = NewClock(env.engine, time.Second, time.Minute)
	assert.Error(t, err)

	c, err := NewClock(env.engine, time.Minute, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, c.Account())
}

func TestClock_AccountTriggers(t *testing.T) {
	f := newFakeFetcher()
	env := newTestEngine(t, f)

	c, err := NewClock(env.engine, time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClockRunning)

	require.Eventually(t, func() bool { return f.poolsCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), f.poolsUserCalls.Load(), "no user fetch without an account")

	c.SetAccount(testAccount)
	require.Eventually(t, func() bool { return f.poolsUserCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.SetAccount(testAccount)
	assert.Never(t, func() bool { return f.poolsUserCalls.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)

	other := otherAccount
	c.SetAccount(other)
	require.Eventually(t, func() bool { return f.poolsUserCalls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{testAccount, other}, f.seenAccounts())
	require.Eventually(t, func() bool { return env.engine.Snapshot().UserAccount() == other }, 2*time.Second, 10*time.Millisecond)

	c.SetAccount("")
	assert.Never(t, func() bool { return f.poolsUserCalls.Load() > 2 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestClock_AccountChangeClearsUserData(t *testing.T) {
	f := newFakeFetcher()
	env := newTestEngine(t, f)
	e := env.engine

	c, err := NewClock(e, time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	loaded := func(pid types.PositionID) bool {
		b, err := e.FarmUser(types.DeploymentPrimary, pid)
		return err == nil && b.Loaded
	}

	c.SetAccount(testAccount)
	require.Eventually(t, func() bool { return loaded(0) }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		b, err := e.PoolUser(0)
		return err == nil && b.Loaded
	}, 2*time.Second, 10*time.Millisecond)

	// The second account holds only pid 3 and no pool position
	c.SetAccount(otherAccount)
	assert.False(t, loaded(0), "balances of the previous account are dropped on switch")
	require.Eventually(t, func() bool {
		return loaded(3) && e.Snapshot().UserAccount() == otherAccount
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot().LastCommit(types.CollectionPools, types.ScopeUser)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, loaded(0))
	pool, err := e.PoolUser(0)
	require.NoError(t, err)
	assert.False(t, pool.Loaded)

	c.SetAccount("")
	assert.False(t, loaded(3))
	assert.Empty(t, e.Snapshot().UserAccount())
	assert.Never(t, func() bool { return loaded(0) || loaded(3) }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestClock_StartWithAccount(t *testing.T) {
	f := newFakeFetcher()
	env := newTestEngine(t, f)

	c, err := NewClock(env.engine, time.Hour, time.Hour)
	require.NoError(t, err)
	c.SetAccount(testAccount)
	assert.Equal(t, int32(0), f.poolsUserCalls.Load(), "stopped clock does not fetch")

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	require.Eventually(t, func() bool { return f.poolsUserCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClock_StopDiscardsInFlight(t *testing.T) {
	f := newFakeFetcher()
	f.poolsUserStarted = make(chan struct{}, 1)
	f.poolsUserRelease = make(chan struct{})
	env := newTestEngine(t, f)
	e := env.engine

	c, err := NewClock(e, time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	c.SetAccount(testAccount)
	<-f.poolsUserStarted

	userEpoch := e.Epoch(types.ScopeUser)
	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool { return e.Epoch(types.ScopeUser) > userEpoch }, 2*time.Second, 10*time.Millisecond)
	close(f.poolsUserRelease)
	<-stopped

	pool, err := e.PoolUser(0)
	require.NoError(t, err)
	assert.False(t, pool.Loaded)

	// Stop is idempotent.
	c.Stop()
}
