/*

This file contains the in-memory entry store: the current snapshot of farm and pool entries
for both deployments, and the single write path that commits fetch results into it.

Snapshots are immutable. Apply builds the next snapshot copy-on-write and swaps it in under
the lock, so a reader always sees every field of one completed fetch cycle or none of it.
ClearUserData is the only other writer and follows the same copy-on-write path.

*/

package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/eggfarm/tvl/internal/types"
)

// Entry store errors.
var (
	// ErrNotFound is returned when a lookup key does not exist in a collection.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a universe repeats a position id or symbol.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownPosition is returned when a fetch result names a position outside the universe.
	ErrUnknownPosition = errors.New("position not in universe")

	// ErrClassMismatch is returned when a fetch result tries to change an entry's quote token.
	ErrClassMismatch = errors.New("quote token of an entry cannot change")

	// ErrStaleResult is returned when a result belongs to an older cycle than the last commit.
	ErrStaleResult = errors.New("stale fetch result")

	// ErrInvalidResult is returned when a fetch result is malformed.
	ErrInvalidResult = errors.New("invalid fetch result")
)

// FetchResult is one completed fetch of one collection, ready to commit.
type FetchResult struct {
	Collection types.Collection
	Scope      types.Scope
	Cycle      uint64 // Issued by the refresh clock, increasing per collection and scope
	Account    string // ScopeUser only

	Farms       []types.Farm                        // Public farm collections
	Pools       []types.Pool                        // Public pool collection
	UserData    map[types.PositionID]types.UserData // User scope of farm and pool collections
	TokenPrices map[string]sdkmath.LegacyDec        // CollectionTokenPrices, keyed by token address
}

// Commit records when a collection/scope pair was last written.
type Commit struct {
	Cycle uint64    `json:"cycle"`
	At    time.Time `json:"at"`
}

type commitKey struct {
	collection types.Collection
	scope      types.Scope
}

// universeIndex is built once; it never changes because the universe is fixed.
type universeIndex struct {
	farmsByPID    map[types.Deployment]map[types.PositionID]int
	farmsBySymbol map[types.Deployment]map[string]int
	poolsBySousID map[types.PositionID]int
}

// Snapshot is an immutable view of the store. Accessors return copies.
type Snapshot struct {
	generation  uint64
	index       *universeIndex
	farms       map[types.Deployment][]types.Farm
	pools       []types.Pool
	tokenPrices map[string]sdkmath.LegacyDec
	commits     map[commitKey]Commit
	userAccount string
}

// EntryStore owns the current snapshot.
type EntryStore struct {
	mu      sync.RWMutex
	current *Snapshot
	now     func() time.Time
}

// NewEntryStore creates a store holding the empty entries of u.
// Duplicate position ids or farm symbols within one collection are rejected.
func NewEntryStore(u types.Universe) (*EntryStore, error) {
	idx := &universeIndex{
		farmsByPID:    make(map[types.Deployment]map[types.PositionID]int),
		farmsBySymbol: make(map[types.Deployment]map[string]int),
		poolsBySousID: make(map[types.PositionID]int),
	}
	snap := &Snapshot{
		index:       idx,
		farms:       make(map[types.Deployment][]types.Farm),
		tokenPrices: make(map[string]sdkmath.LegacyDec),
		commits:     make(map[commitKey]Commit),
	}

	for _, d := range types.Deployments {
		byPID := make(map[types.PositionID]int)
		bySymbol := make(map[string]int)
		farms := make([]types.Farm, 0, len(u.FarmsOf(d)))

		for i, f := range u.FarmsOf(d) {
			if !f.QuoteToken.Valid() {
				return nil, fmt.Errorf("%s farm %d: %w: %q", d, f.PID, types.ErrUnknownQuoteToken, f.QuoteToken)
			}
			if _, exists := byPID[f.PID]; exists {
				return nil, fmt.Errorf("%s farm pid %d: %w", d, f.PID, ErrDuplicateKey)
			}
			byPID[f.PID] = i
			if f.LPSymbol != "" {
				if _, exists := bySymbol[f.LPSymbol]; exists {
					return nil, fmt.Errorf("%s farm symbol %q: %w", d, f.LPSymbol, ErrDuplicateKey)
				}
				bySymbol[f.LPSymbol] = i
			}
			farms = append(farms, f.Clone())
		}

		idx.farmsByPID[d] = byPID
		idx.farmsBySymbol[d] = bySymbol
		snap.farms[d] = farms
	}

	snap.pools = make([]types.Pool, 0, len(u.Pools))
	for i, p := range u.Pools {
		if !p.StakingTokenName.Valid() {
			return nil, fmt.Errorf("pool %d: %w: %q", p.SousID, types.ErrUnknownQuoteToken, p.StakingTokenName)
		}
		if _, exists := idx.poolsBySousID[p.SousID]; exists {
			return nil, fmt.Errorf("pool sousId %d: %w", p.SousID, ErrDuplicateKey)
		}
		idx.poolsBySousID[p.SousID] = i
		snap.pools = append(snap.pools, p.Clone())
	}

	return &EntryStore{current: snap, now: time.Now}, nil
}

// Snapshot returns the latest committed snapshot.
func (s *EntryStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply commits r and returns the new snapshot. On any error the store is unchanged.
// A result older than the last committed cycle of its collection and scope is discarded
// with ErrStaleResult; replaying the latest cycle is allowed and idempotent.
func (s *EntryStore) Apply(r FetchResult) (*Snapshot, error) {
	if err := validateResult(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	key := commitKey{collection: r.Collection, scope: r.Scope}
	if last, ok := cur.commits[key]; ok && r.Cycle < last.Cycle {
		return nil, fmt.Errorf("%w: %s/%s cycle %d < committed %d", ErrStaleResult, r.Collection, r.Scope, r.Cycle, last.Cycle)
	}

	next := cur.shallowCopy()
	next.generation = cur.generation + 1

	var err error
	switch r.Collection {
	case types.CollectionPrimaryFarms, types.CollectionSecondaryFarms:
		d := deploymentOf(r.Collection)
		if r.Scope == types.ScopePublic {
			next.farms[d], err = mergeFarms(cur, d, r.Farms)
		} else {
			next.farms[d], err = mergeFarmUserData(cur, d, r.UserData)
		}
	case types.CollectionPools:
		if r.Scope == types.ScopePublic {
			next.pools, err = mergePools(cur, r.Pools)
		} else {
			next.pools, err = mergePoolUserData(cur, r.UserData)
		}
	case types.CollectionTokenPrices:
		next.tokenPrices = make(map[string]sdkmath.LegacyDec, len(r.TokenPrices))
		for addr, price := range r.TokenPrices {
			next.tokenPrices[strings.ToLower(addr)] = price.Clone()
		}
	}
	if err != nil {
		return nil, err
	}

	if r.Scope == types.ScopeUser {
		next.userAccount = r.Account
	}
	next.commits[key] = Commit{Cycle: r.Cycle, At: s.now()}

	s.current = next
	return next, nil
}

// ClearUserData drops every account balance, the user account and the user-scope commit
// history. Called on account change so no balances of the previous account stay visible.
func (s *EntryStore) ClearUserData() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	next := cur.shallowCopy()
	next.generation = cur.generation + 1

	for d, farms := range cur.farms {
		cleared := cloneFarms(farms)
		for i := range cleared {
			cleared[i].UserData = nil
		}
		next.farms[d] = cleared
	}
	next.pools = clonePools(cur.pools)
	for i := range next.pools {
		next.pools[i].UserData = nil
	}

	for k := range next.commits {
		if k.scope == types.ScopeUser {
			delete(next.commits, k)
		}
	}
	next.userAccount = ""

	s.current = next
	return next
}

func validateResult(r FetchResult) error {
	switch r.Collection {
	case types.CollectionPrimaryFarms, types.CollectionSecondaryFarms, types.CollectionPools:
	case types.CollectionTokenPrices:
		if r.Scope != types.ScopePublic {
			return fmt.Errorf("%w: token prices are public data", ErrInvalidResult)
		}
	default:
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidResult, r.Collection)
	}

	switch r.Scope {
	case types.ScopePublic:
	case types.ScopeUser:
		if r.Account == "" {
			return fmt.Errorf("%w: user result without account", ErrInvalidResult)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidResult, r.Scope)
	}
	return nil
}

func deploymentOf(c types.Collection) types.Deployment {
	if c == types.CollectionSecondaryFarms {
		return types.DeploymentSecondary
	}
	return types.DeploymentPrimary
}

// shallowCopy shares the entry slices; merge functions replace the ones they touch.
func (snap *Snapshot) shallowCopy() *Snapshot {
	next := &Snapshot{
		generation:  snap.generation,
		index:       snap.index,
		farms:       make(map[types.Deployment][]types.Farm, len(snap.farms)),
		pools:       snap.pools,
		tokenPrices: snap.tokenPrices,
		commits:     make(map[commitKey]Commit, len(snap.commits)+1),
		userAccount: snap.userAccount,
	}
	for d, farms := range snap.farms {
		next.farms[d] = farms
	}
	for k, c := range snap.commits {
		next.commits[k] = c
	}
	return next
}

func cloneFarms(in []types.Farm) []types.Farm {
	out := make([]types.Farm, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

func clonePools(in []types.Pool) []types.Pool {
	out := make([]types.Pool, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// mergeFarms fills public fields. A nil field in the result keeps the last known value.
func mergeFarms(cur *Snapshot, d types.Deployment, incoming []types.Farm) ([]types.Farm, error) {
	farms := cloneFarms(cur.farms[d])
	byPID := cur.index.farmsByPID[d]

	for _, in := range incoming {
		i, ok := byPID[in.PID]
		if !ok {
			return nil, fmt.Errorf("%s farm %d: %w", d, in.PID, ErrUnknownPosition)
		}
		if in.QuoteToken != "" && in.QuoteToken != farms[i].QuoteToken {
			return nil, fmt.Errorf("%s farm %d: %w (%s -> %s)", d, in.PID, ErrClassMismatch, farms[i].QuoteToken, in.QuoteToken)
		}

		fresh := in.Clone()
		if fresh.LPTotalInQuoteToken != nil {
			farms[i].LPTotalInQuoteToken = fresh.LPTotalInQuoteToken
		}
		if fresh.TokenPriceVsQuote != nil {
			farms[i].TokenPriceVsQuote = fresh.TokenPriceVsQuote
		}
		if fresh.LPTotalSupply != nil {
			farms[i].LPTotalSupply = fresh.LPTotalSupply
		}
	}
	return farms, nil
}

// mergeFarmUserData replaces the user data of the whole deployment. Farms missing from
// incoming go back to unloaded.
func mergeFarmUserData(cur *Snapshot, d types.Deployment, incoming map[types.PositionID]types.UserData) ([]types.Farm, error) {
	farms := cloneFarms(cur.farms[d])
	byPID := cur.index.farmsByPID[d]
	for i := range farms {
		farms[i].UserData = nil
	}

	for pid, ud := range incoming {
		i, ok := byPID[pid]
		if !ok {
			return nil, fmt.Errorf("%s farm %d: %w", d, pid, ErrUnknownPosition)
		}
		u := ud
		farms[i].UserData = &u
	}
	return farms, nil
}

func mergePools(cur *Snapshot, incoming []types.Pool) ([]types.Pool, error) {
	pools := clonePools(cur.pools)

	for _, in := range incoming {
		i, ok := cur.index.poolsBySousID[in.SousID]
		if !ok {
			return nil, fmt.Errorf("pool %d: %w", in.SousID, ErrUnknownPosition)
		}
		if in.StakingTokenName != "" && in.StakingTokenName != pools[i].StakingTokenName {
			return nil, fmt.Errorf("pool %d: %w (%s -> %s)", in.SousID, ErrClassMismatch, pools[i].StakingTokenName, in.StakingTokenName)
		}
		if in.TotalStaked != nil {
			pools[i].TotalStaked = in.Clone().TotalStaked
		}
	}
	return pools, nil
}

func mergePoolUserData(cur *Snapshot, incoming map[types.PositionID]types.UserData) ([]types.Pool, error) {
	pools := clonePools(cur.pools)
	for i := range pools {
		pools[i].UserData = nil
	}

	for sousID, ud := range incoming {
		i, ok := cur.index.poolsBySousID[sousID]
		if !ok {
			return nil, fmt.Errorf("pool %d: %w", sousID, ErrUnknownPosition)
		}
		u := ud
		pools[i].UserData = &u
	}
	return pools, nil
}

// Generation increases by one with every successful Apply and every ClearUserData.
func (snap *Snapshot) Generation() uint64 {
	return snap.generation
}

// UserAccount is the account of the most recent user-scope commit.
func (snap *Snapshot) UserAccount() string {
	return snap.userAccount
}

// Farms returns the farms of d in store order.
func (snap *Snapshot) Farms(d types.Deployment) []types.Farm {
	return cloneFarms(snap.farms[d])
}

// Pools returns all pools in store order.
func (snap *Snapshot) Pools() []types.Pool {
	return clonePools(snap.pools)
}

// FarmByPID returns ErrNotFound when pid is not part of deployment d.
func (snap *Snapshot) FarmByPID(d types.Deployment, pid types.PositionID) (types.Farm, error) {
	i, ok := snap.index.farmsByPID[d][pid]
	if !ok {
		return types.Farm{}, fmt.Errorf("%s farm pid %d: %w", d, pid, ErrNotFound)
	}
	return snap.farms[d][i].Clone(), nil
}

// FarmBySymbol returns ErrNotFound when no farm of d has that LP symbol.
func (snap *Snapshot) FarmBySymbol(d types.Deployment, symbol string) (types.Farm, error) {
	i, ok := snap.index.farmsBySymbol[d][symbol]
	if !ok {
		return types.Farm{}, fmt.Errorf("%s farm symbol %q: %w", d, symbol, ErrNotFound)
	}
	return snap.farms[d][i].Clone(), nil
}

// PoolBySousID returns ErrNotFound when the pool does not exist.
func (snap *Snapshot) PoolBySousID(sousID types.PositionID) (types.Pool, error) {
	i, ok := snap.index.poolsBySousID[sousID]
	if !ok {
		return types.Pool{}, fmt.Errorf("pool sousId %d: %w", sousID, ErrNotFound)
	}
	return snap.pools[i].Clone(), nil
}

// TokenPrice returns the USD price of a token address, case-insensitively.
func (snap *Snapshot) TokenPrice(address string) (sdkmath.LegacyDec, bool) {
	price, ok := snap.tokenPrices[strings.ToLower(address)]
	return price, ok
}

// TokenPrices returns a copy of the token price map.
func (snap *Snapshot) TokenPrices() map[string]sdkmath.LegacyDec {
	out := make(map[string]sdkmath.LegacyDec, len(snap.tokenPrices))
	for k, v := range snap.tokenPrices {
		out[k] = v
	}
	return out
}

// LastCommit reports the last commit of a collection and scope.
func (snap *Snapshot) LastCommit(c types.Collection, scope types.Scope) (Commit, bool) {
	commit, ok := snap.commits[commitKey{collection: c, scope: scope}]
	return commit, ok
}
