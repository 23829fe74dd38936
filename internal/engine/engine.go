package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/eggfarm/tvl/internal/analyzer"
	"github.com/eggfarm/tvl/internal/datafetcher"
	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/observability"
	"github.com/eggfarm/tvl/internal/state"
	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

var (
	// ErrBusy is returned when a fetch of the same collection is already in flight.
	ErrBusy = errors.New("collection fetch already in flight")
	// ErrEpochChanged is returned when a result was discarded because of teardown or an account switch.
	ErrEpochChanged = errors.New("refresh epoch changed while fetching")
	// ErrInvalidOverride is returned for a price override that is not a non-negative decimal.
	ErrInvalidOverride = errors.New("invalid price override")
)

const DefaultWorkers = 4

// Recorder persists computed totals.
type Recorder interface {
	RecordTotals(ctx context.Context, cycleID string, totals []types.TotalValue) error
}

// Notifier pushes computed totals to subscribers.
type Notifier interface {
	PublishTotals(ctx context.Context, totals []types.TotalValue) error
}

// Engine fetches collections, commits them to the entry store and serves derived values.
type Engine struct {
	logger       zerolog.Logger
	fetcher      datafetcher.Fetcher
	store        *state.EntryStore
	staleAfter   time.Duration
	fetchTimeout time.Duration

	pool     pond.Pool
	metrics  *observability.Metrics
	recorder Recorder
	notifier Notifier

	inFlight *xsync.Map[string, struct{}]
	cycles   *xsync.Map[string, uint64]

	// commitMu orders epoch changes against commits: once AdvanceEpoch returns,
	// no result fetched under the previous epoch can reach the store.
	commitMu sync.RWMutex
	epochs   map[types.Scope]*atomic.Uint64

	// valuation is rebuilt from base and overrides on every override change and never
	// mutated in place.
	valMu     sync.RWMutex
	base      map[types.Deployment]types.ValuationConfig
	overrides state.PriceOverrides
	valuation map[types.Deployment]types.ValuationConfig

	now func() time.Time
}

// Config holds the dependencies of a new Engine.
type Config struct {
	Fetcher      datafetcher.Fetcher
	Store        *state.EntryStore
	Valuation    map[types.Deployment]types.ValuationConfig
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Workers      int

	// Optional
	PriceOverrides state.PriceOverrides
	Metrics        *observability.Metrics
	Recorder Recorder
	Notifier Notifier
}

// NewEngine creates an Engine with dependency injection.
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	e := &Engine{
		logger:       logger.GetForComponent("engine"),
		fetcher:      cfg.Fetcher,
		store:        cfg.Store,
		staleAfter:   cfg.StaleAfter,
		fetchTimeout: cfg.FetchTimeout,
		pool:         pond.NewPool(workers),
		metrics:      cfg.Metrics,
		recorder:     cfg.Recorder,
		notifier:     cfg.Notifier,
		inFlight:     xsync.NewMap[string, struct{}](),
		cycles:       xsync.NewMap[string, uint64](),
		epochs: map[types.Scope]*atomic.Uint64{
			types.ScopePublic: {},
			types.ScopeUser:   {},
		},
		base:      cfg.Valuation,
		overrides: copyOverrides(cfg.PriceOverrides),
		now:       time.Now,
	}
	e.valuation = buildValuation(e.base, e.overrides)

	e.logger.Info().
		Int("workers", workers).
		Dur("staleAfter", e.staleAfter).
		Dur("fetchTimeout", e.fetchTimeout).
		Bool("recorder", e.recorder != nil).
		Bool("notifier", e.notifier != nil).
		Int("overriddenDeployments", len(e.overrides)).
		Msg("Engine created")

	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Fetcher == nil {
		return fmt.Errorf("fetcher cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("entry store cannot be nil")
	}
	for _, d := range types.Deployments {
		if _, ok := cfg.Valuation[d]; !ok {
			return fmt.Errorf("missing valuation config for deployment %s", d)
		}
	}
	if cfg.StaleAfter <= 0 {
		return fmt.Errorf("stale-after must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	return nil
}

// Close waits for queued fetch tasks and releases the worker pool.
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// Epoch returns the current epoch of scope.
func (e *Engine) Epoch(scope types.Scope) uint64 {
	return e.epochs[scope].Load()
}

// AdvanceEpoch invalidates every in-flight fetch of scope and returns the new epoch.
func (e *Engine) AdvanceEpoch(scope types.Scope) uint64 {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.epochs[scope].Add(1)
}

// ResetUser advances the user epoch and clears every account balance under the same lock
// commits take, so neither an old result nor old balances survive an account change.
func (e *Engine) ResetUser() uint64 {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	epoch := e.epochs[types.ScopeUser].Add(1)
	snap := e.store.ClearUserData()
	e.logger.Debug().
		Uint64("epoch", epoch).
		Uint64("generation", snap.Generation()).
		Msg("Cleared account data")
	return epoch
}

type fetchFunc func(ctx context.Context) (state.FetchResult, error)

type task struct {
	collection types.Collection
	fetch      fetchFunc
}

// RunPublicCycle fetches every public collection in parallel and commits each independently.
// The returned error joins the per-collection failures.
func (e *Engine) RunPublicCycle(ctx context.Context) error {
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Str("scope", string(types.ScopePublic)).Logger()
	cycleLogger.Debug().Msg("Starting public refresh cycle")
	e.metrics.RecordCycle(string(types.ScopePublic))

	epoch := e.Epoch(types.ScopePublic)
	tasks := []task{
		{types.CollectionPrimaryFarms, e.publicFarms(types.DeploymentPrimary)},
		{types.CollectionSecondaryFarms, e.publicFarms(types.DeploymentSecondary)},
		{types.CollectionPools, func(ctx context.Context) (state.FetchResult, error) {
			pools, err := e.fetcher.FetchPools(ctx)
			return state.FetchResult{Pools: pools}, err
		}},
		{types.CollectionTokenPrices, func(ctx context.Context) (state.FetchResult, error) {
			prices, err := e.fetcher.FetchTokenPrices(ctx)
			return state.FetchResult{TokenPrices: prices}, err
		}},
	}

	committed, err := e.runTasks(ctx, cycleLogger, types.ScopePublic, "", epoch, tasks)
	if committed > 0 {
		e.publishTotals(ctx, cycleID, cycleLogger)
	}

	cycleLogger.Debug().Int("committed", committed).Msg("Public refresh cycle completed")
	return err
}

// RunUserCycle fetches the account-specific collections. Results are committed only while
// the user epoch still equals epoch.
func (e *Engine) RunUserCycle(ctx context.Context, account string, epoch uint64) error {
	if account == "" {
		return fmt.Errorf("user refresh requires an account")
	}

	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Str("scope", string(types.ScopeUser)).Logger()
	cycleLogger.Debug().Msg("Starting user refresh cycle")
	e.metrics.RecordCycle(string(types.ScopeUser))

	tasks := []task{
		{types.CollectionPrimaryFarms, e.userFarms(types.DeploymentPrimary, account)},
		{types.CollectionSecondaryFarms, e.userFarms(types.DeploymentSecondary, account)},
		{types.CollectionPools, func(ctx context.Context) (state.FetchResult, error) {
			data, err := e.fetcher.FetchPoolsUserData(ctx, account)
			return state.FetchResult{UserData: data}, err
		}},
	}

	committed, err := e.runTasks(ctx, cycleLogger, types.ScopeUser, account, epoch, tasks)
	cycleLogger.Debug().Int("committed", committed).Msg("User refresh cycle completed")
	return err
}

func (e *Engine) publicFarms(d types.Deployment) fetchFunc {
	return func(ctx context.Context) (state.FetchResult, error) {
		farms, err := e.fetcher.FetchFarms(ctx, d)
		return state.FetchResult{Farms: farms}, err
	}
}

func (e *Engine) userFarms(d types.Deployment, account string) fetchFunc {
	return func(ctx context.Context) (state.FetchResult, error) {
		data, err := e.fetcher.FetchFarmsUserData(ctx, d, account)
		return state.FetchResult{UserData: data}, err
	}
}

func (e *Engine) runTasks(ctx context.Context, l zerolog.Logger, scope types.Scope, account string, epoch uint64, tasks []task) (int, error) {
	var (
		mu        sync.Mutex
		errs      []error
		committed int
	)

	group := e.pool.NewGroupContext(ctx)
	for _, t := range tasks {
		group.Submit(func() {
			err := e.refresh(group.Context(), l, t.collection, scope, account, epoch, t.fetch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", t.collection, scope, err))
				return
			}
			committed++
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		l.Warn().Err(err).Msg("Parallel fetch group ended with error")
	}

	mu.Lock()
	defer mu.Unlock()
	return committed, errors.Join(errs...)
}

func inFlightKey(c types.Collection, scope types.Scope, epoch uint64) string {
	return fmt.Sprintf("%s/%s/%d", c, scope, epoch)
}

// refresh runs one fetch-and-commit of one collection. A trigger that finds the collection
// busy is dropped. Failures leave the store unchanged.
//
// The epoch is part of the in-flight key. Right after an account switch the old account's
// fetch and the new one can both be in flight for the same collection; the old one is
// cancelled through its context and its result discarded by the epoch check, so at most one
// fetch per collection remains once the cancellation takes effect.
func (e *Engine) refresh(ctx context.Context, l zerolog.Logger, c types.Collection, scope types.Scope, account string, epoch uint64, fetch fetchFunc) error {
	key := inFlightKey(c, scope, epoch)
	if _, busy := e.inFlight.LoadOrStore(key, struct{}{}); busy {
		e.metrics.RecordDroppedTrigger(string(c), string(scope))
		l.Debug().Str("collection", string(c)).Msg("Fetch already in flight, dropping trigger")
		return ErrBusy
	}
	defer e.inFlight.Delete(key)

	cycle := e.nextCycle(c, scope)
	start := time.Now()

	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	result, err := fetch(fctx)
	cancel()
	if err != nil {
		e.metrics.RecordFetch(string(c), string(scope), observability.StatusError, time.Since(start))
		l.Warn().Err(err).Str("collection", string(c)).Uint64("cycle", cycle).Msg("Fetch failed, store unchanged")
		return err
	}

	result.Collection = c
	result.Scope = scope
	result.Cycle = cycle
	result.Account = account

	e.commitMu.RLock()
	defer e.commitMu.RUnlock()

	if e.Epoch(scope) != epoch {
		e.metrics.RecordFetch(string(c), string(scope), observability.StatusDiscarded, time.Since(start))
		l.Debug().Str("collection", string(c)).Uint64("cycle", cycle).Msg("Discarding result from a previous epoch")
		return ErrEpochChanged
	}

	snap, err := e.store.Apply(result)
	if err != nil {
		status := observability.StatusError
		if errors.Is(err, state.ErrStaleResult) {
			status = observability.StatusStale
		}
		e.metrics.RecordFetch(string(c), string(scope), status, time.Since(start))
		l.Warn().Err(err).Str("collection", string(c)).Uint64("cycle", cycle).Msg("Result rejected by entry store")
		return err
	}

	e.metrics.RecordFetch(string(c), string(scope), observability.StatusSuccess, time.Since(start))
	if commit, ok := snap.LastCommit(c, scope); ok {
		e.metrics.RecordCommit(string(c), string(scope), snap.Generation(), commit.At)
	}
	l.Debug().
		Str("collection", string(c)).
		Uint64("cycle", cycle).
		Uint64("generation", snap.Generation()).
		Msg("Committed fetch result")
	return nil
}

// nextCycle issues increasing cycle numbers per collection and scope.
func (e *Engine) nextCycle(c types.Collection, scope types.Scope) uint64 {
	next, _ := e.cycles.Compute(string(c)+"/"+string(scope), func(old uint64, _ bool) (uint64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	return next
}

// publishTotals sends fresh totals to metrics, the notifier and the recorder. Sink failures
// are logged and counted only.
func (e *Engine) publishTotals(ctx context.Context, cycleID string, l zerolog.Logger) {
	totals := e.TotalValues()

	for _, tv := range totals {
		farms, _ := utils.DecToFloat64(tv.Farms)
		pools, _ := utils.DecToFloat64(tv.Pools)
		total, _ := utils.DecToFloat64(tv.Total)
		e.metrics.RecordValuation(string(tv.Deployment), farms, pools, total, len(tv.UnknownPositions), tv.Stale)

		l.Info().
			Str("deployment", string(tv.Deployment)).
			Str("totalUSD", utils.FormatUSD(tv.Total)).
			Int("unknownPositions", len(tv.UnknownPositions)).
			Bool("stale", tv.Stale).
			Uint64("generation", tv.Generation).
			Msg("Total value recomputed")
	}

	if e.notifier != nil {
		if err := e.notifier.PublishTotals(ctx, totals); err != nil {
			e.metrics.RecordSinkError("notifier")
			l.Warn().Err(err).Msg("Failed to publish total values")
		}
	}
	if e.recorder != nil {
		if err := e.recorder.RecordTotals(ctx, cycleID, totals); err != nil {
			e.metrics.RecordSinkError("recorder")
			l.Warn().Err(err).Msg("Failed to record total values")
		}
	}
}

// SetPriceOverride pins class q of deployment d to a constant USD price, or restores the
// configured rule when price is nil. Totals and prices use it from the next read on.
func (e *Engine) SetPriceOverride(d types.Deployment, q types.QuoteToken, price *sdkmath.LegacyDec) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	if !q.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownQuoteToken, q)
	}
	if price != nil && (price.IsNil() || price.IsNegative()) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidOverride, d, q)
	}

	e.valMu.Lock()
	defer e.valMu.Unlock()

	next := copyOverrides(e.overrides)
	if price == nil {
		delete(next[d], q)
	} else {
		if next[d] == nil {
			next[d] = make(map[types.QuoteToken]sdkmath.LegacyDec)
		}
		next[d][q] = price.Clone()
	}
	e.overrides = next
	e.valuation = buildValuation(e.base, next)

	e.logger.Info().
		Str("deployment", string(d)).
		Str("quoteToken", string(q)).
		Bool("removed", price == nil).
		Msg("Price override changed")
	return nil
}

func copyOverrides(in state.PriceOverrides) state.PriceOverrides {
	out := make(state.PriceOverrides, len(in))
	for d, prices := range in {
		inner := make(map[types.QuoteToken]sdkmath.LegacyDec, len(prices))
		for q, price := range prices {
			inner[q] = price
		}
		out[d] = inner
	}
	return out
}

func buildValuation(base map[types.Deployment]types.ValuationConfig, overrides state.PriceOverrides) map[types.Deployment]types.ValuationConfig {
	out := make(map[types.Deployment]types.ValuationConfig, len(base))
	for d, cfg := range base {
		out[d] = cfg
	}
	state.ApplyPriceOverrides(out, overrides)
	return out
}

func (e *Engine) valuations() map[types.Deployment]types.ValuationConfig {
	e.valMu.RLock()
	defer e.valMu.RUnlock()
	return e.valuation
}

func (e *Engine) valuationConfig(d types.Deployment) (types.ValuationConfig, error) {
	cfg, ok := e.valuations()[d]
	if !ok {
		return types.ValuationConfig{}, fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	return cfg, nil
}

// Snapshot returns the latest committed snapshot.
func (e *Engine) Snapshot() *state.Snapshot {
	return e.store.Snapshot()
}

// Farms returns the farms of d in store order.
func (e *Engine) Farms(d types.Deployment) ([]types.Farm, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	return e.store.Snapshot().Farms(d), nil
}

// Pools returns all pools in store order.
func (e *Engine) Pools() []types.Pool {
	return e.store.Snapshot().Pools()
}

func (e *Engine) FarmByPID(d types.Deployment, pid types.PositionID) (types.Farm, error) {
	return e.store.Snapshot().FarmByPID(d, pid)
}

func (e *Engine) FarmBySymbol(d types.Deployment, symbol string) (types.Farm, error) {
	return e.store.Snapshot().FarmBySymbol(d, symbol)
}

func (e *Engine) PoolBySousID(sousID types.PositionID) (types.Pool, error) {
	return e.store.Snapshot().PoolBySousID(sousID)
}

// FarmUser returns the parsed balances of a farm; zero with Loaded=false before any user fetch.
func (e *Engine) FarmUser(d types.Deployment, pid types.PositionID) (types.UserBalances, error) {
	farm, err := e.store.Snapshot().FarmByPID(d, pid)
	if err != nil {
		return types.EmptyUserBalances(), err
	}
	return farm.UserData.Balances()
}

// PoolUser returns the parsed balances of a pool; zero with Loaded=false before any user fetch.
func (e *Engine) PoolUser(sousID types.PositionID) (types.UserBalances, error) {
	pool, err := e.store.Snapshot().PoolBySousID(sousID)
	if err != nil {
		return types.EmptyUserBalances(), err
	}
	return pool.UserData.Balances()
}

// Price resolves the USD price of class q for deployment d.
func (e *Engine) Price(d types.Deployment, q types.QuoteToken) (types.ResolvedPrice, error) {
	cfg, err := e.valuationConfig(d)
	if err != nil {
		return types.ResolvedPrice{}, err
	}
	if !q.Valid() {
		return types.ResolvedPrice{}, fmt.Errorf("%w: %q", types.ErrUnknownQuoteToken, q)
	}
	return analyzer.ResolvePrice(e.store.Snapshot(), cfg.References, q), nil
}

// Prices resolves every class for deployment d.
func (e *Engine) Prices(d types.Deployment) (map[types.QuoteToken]types.ResolvedPrice, error) {
	cfg, err := e.valuationConfig(d)
	if err != nil {
		return nil, err
	}
	return analyzer.ResolvePrices(e.store.Snapshot(), cfg.References), nil
}

// TotalValue computes the total of d from the latest snapshot.
func (e *Engine) TotalValue(d types.Deployment) (types.TotalValue, error) {
	cfg, err := e.valuationConfig(d)
	if err != nil {
		return types.TotalValue{}, err
	}
	return e.totalValue(e.store.Snapshot(), cfg), nil
}

// TotalValues computes every deployment's total from one snapshot.
func (e *Engine) TotalValues() []types.TotalValue {
	snap := e.store.Snapshot()
	cfgs := e.valuations()
	out := make([]types.TotalValue, 0, len(types.Deployments))
	for _, d := range types.Deployments {
		out = append(out, e.totalValue(snap, cfgs[d]))
	}
	return out
}

func (e *Engine) totalValue(snap *state.Snapshot, cfg types.ValuationConfig) types.TotalValue {
	tv := analyzer.CalculateTotalValue(snap, cfg)
	tv.Generation = snap.Generation()
	tv.UpdatedAt, tv.Stale = e.freshness(snap, cfg)
	return tv
}

// freshness returns the oldest commit among the public collections cfg depends on, and
// whether the total is stale: some dependency never committed or is older than staleAfter.
func (e *Engine) freshness(snap *state.Snapshot, cfg types.ValuationConfig) (time.Time, bool) {
	deps := map[types.Collection]struct{}{
		types.FarmCollection(cfg.Deployment): {},
	}
	if cfg.Pools.Enabled {
		deps[types.CollectionPools] = struct{}{}
	}
	for _, rule := range cfg.References {
		if rule.Kind == types.RuleReference {
			deps[types.FarmCollection(rule.Deployment)] = struct{}{}
		}
	}

	var oldest time.Time
	for c := range deps {
		commit, ok := snap.LastCommit(c, types.ScopePublic)
		if !ok {
			return time.Time{}, true
		}
		if oldest.IsZero() || commit.At.Before(oldest) {
			oldest = commit.At
		}
	}
	return oldest, e.now().Sub(oldest) > e.staleAfter
}

// LpTokenPrice prices one LP token of the farm with symbol in deployment d.
func (e *Engine) LpTokenPrice(d types.Deployment, symbol string) (sdkmath.LegacyDec, error) {
	if !d.Valid() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %q", types.ErrUnknownDeployment, d)
	}
	return analyzer.CalculateLpTokenPrice(e.store.Snapshot(), d, symbol)
}

// TokenPrice returns the API USD price of a token address.
func (e *Engine) TokenPrice(address string) (sdkmath.LegacyDec, bool) {
	return e.store.Snapshot().TokenPrice(address)
}
