/*

This file contains the refresh clock: a slow cadence for public data and a fast cadence for
account data, both driven by cron. The fast cadence only fetches while an account is set.

Connecting an account, or switching to another one, fires one user cycle immediately.
Every account change and every Stop advances the epoch, so results fetched for a previous
account or before teardown never reach the store. An account change also clears the balances
already committed for the previous account.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
)

var ErrClockRunning = errors.New("refresh clock already running")

// Clock schedules refresh cycles on an Engine.
type Clock struct {
	engine *Engine
	slow   time.Duration
	fast   time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	cron       *cron.Cron
	running    bool
	account    string
	baseCtx    context.Context
	baseCancel context.CancelFunc
	userCtx    context.Context
	userCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewClock creates a stopped clock. fast must not exceed slow.
func NewClock(e *Engine, slow, fast time.Duration) (*Clock, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if slow <= 0 || fast <= 0 {
		return nil, fmt.Errorf("refresh intervals must be positive")
	}
	if fast > slow {
		return nil, fmt.Errorf("fast refresh interval %s exceeds slow interval %s", fast, slow)
	}
	return &Clock{
		engine: e,
		slow:   slow,
		fast:   fast,
		logger: logger.GetForComponent("refresh_clock"),
	}, nil
}

// Start schedules both cadences, runs one public cycle immediately and, when an account is
// already set, one user cycle.
func (c *Clock) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrClockRunning
	}

	cl := cronLogger{l: c.logger}
	sched := cron.New(
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	if _, err := sched.AddFunc(everySpec(c.slow), c.runPublic); err != nil {
		return fmt.Errorf("schedule slow refresh: %w", err)
	}
	if _, err := sched.AddFunc(everySpec(c.fast), c.runUser); err != nil {
		return fmt.Errorf("schedule fast refresh: %w", err)
	}

	c.baseCtx, c.baseCancel = context.WithCancel(ctx)
	c.userCtx, c.userCancel = context.WithCancel(c.baseCtx)
	c.cron = sched
	c.running = true

	sched.Start()
	c.logger.Info().
		Dur("slowInterval", c.slow).
		Dur("fastInterval", c.fast).
		Bool("accountSet", c.account != "").
		Msg("Refresh clock started")

	c.goRun(c.runPublic)
	if c.account != "" {
		c.goRun(c.runUser)
	}
	return nil
}

// Stop cancels both cadences, discards in-flight results and waits for running cycles.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cronDone := c.cron.Stop()
	c.baseCancel()
	c.engine.AdvanceEpoch(types.ScopePublic)
	c.engine.AdvanceEpoch(types.ScopeUser)
	c.mu.Unlock()

	<-cronDone.Done()
	c.wg.Wait()
	c.logger.Info().Msg("Refresh clock stopped")
}

// SetAccount changes the tracked account and clears the previous account's balances. Any
// change to a non-empty account fires one user cycle immediately while the clock runs; an
// empty account disables the fast cadence.
func (c *Clock) SetAccount(account string) {
	c.mu.Lock()
	if account == c.account {
		c.mu.Unlock()
		return
	}

	previous := c.account
	c.account = account
	c.engine.ResetUser()

	if c.running {
		c.userCancel()
		c.userCtx, c.userCancel = context.WithCancel(c.baseCtx)
		if account != "" {
			c.goRun(c.runUser)
		}
	}
	c.mu.Unlock()

	c.logger.Info().
		Bool("hadAccount", previous != "").
		Bool("hasAccount", account != "").
		Msg("Tracked account changed")
}

// Account returns the tracked account, empty when none is connected.
func (c *Clock) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// goRun runs fn outside cron; Stop waits for it. Callers hold c.mu.
func (c *Clock) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Clock) runPublic() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.baseCtx
	c.mu.Unlock()

	if err := c.engine.RunPublicCycle(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Public refresh cycle finished with errors")
	}
}

func (c *Clock) runUser() {
	c.mu.Lock()
	if !c.running || c.account == "" {
		c.mu.Unlock()
		return
	}
	account := c.account
	ctx := c.userCtx
	epoch := c.engine.Epoch(types.ScopeUser)
	c.mu.Unlock()

	if err := c.engine.RunUserCycle(ctx, account, epoch); err != nil {
		c.logger.Warn().Err(err).Msg("User refresh cycle finished with errors")
	}
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
