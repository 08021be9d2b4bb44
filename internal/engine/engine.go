package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"DbankSync/internal/demux"
	"DbankSync/internal/gateway"
	"DbankSync/internal/observability"
	"DbankSync/internal/position"
	"DbankSync/internal/snapshot"
	"DbankSync/internal/submit"
)

// ErrNotStarted is returned for any operation attempted before the
// bootstrap snapshot has completed.
var ErrNotStarted = errors.New("engine not started")

// Engine owns the sync lifecycle: network identity check, bootstrap
// snapshot, then the long-lived event subscription feeding the position
// Book. Exactly one tracked account per running engine; switching
// accounts restarts the whole thing, tearing the old subscription down
// first so no cross-account event leaks into the new state.
type Engine struct {
	gw      *gateway.Gateway
	log     zerolog.Logger
	metrics *observability.Metrics
	health  *observability.HealthChecker

	mu        sync.Mutex
	book      *position.Book
	dmx       *demux.Demux
	submitter *submit.Submitter
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool

	networkOK atomic.Bool
	degraded  atomic.Bool
}

func New(gw *gateway.Gateway, log zerolog.Logger, metrics *observability.Metrics, health *observability.HealthChecker) *Engine {
	e := &Engine{
		gw:      gw,
		log:     log.With().Str("component", "engine").Logger(),
		metrics: metrics,
		health:  health,
	}
	if health != nil {
		health.SetStatusSource(e)
	}
	return e
}

// Start performs the ordered bring-up. It must fully succeed before any
// submission is accepted; a failure leaves the engine stopped, not
// half-initialized.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("engine already started")
	}

	if err := e.gw.VerifyNetwork(ctx); err != nil {
		e.networkOK.Store(false)
		return err
	}
	e.networkOK.Store(true)

	accounts := e.gw.Accounts()
	if len(accounts) == 0 {
		return fmt.Errorf("%w: no account available", gateway.ErrEndpointUnavailable)
	}
	account := accounts[0]

	loader := snapshot.NewLoader(e.gw, e.log, e.metrics)
	baseline, err := loader.Load(ctx, account)
	if err != nil {
		return err
	}

	book := position.NewBook(account, e.log)
	baseline.Apply(book)

	dmx := demux.New(account, baseline.Height, book, e.log, e.metrics)

	// The subscription lives for the engine's lifetime, detached from
	// the bootstrap context.
	runCtx, cancel := context.WithCancel(context.Background())
	logs, sub, err := e.gw.Subscribe(runCtx, baseline.Height)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})

	// Install the new state, including the ready/degraded flags, before
	// the consumer starts: a subscription that fails immediately must
	// not have its degradation overwritten by the bring-up path.
	e.book = book
	e.dmx = dmx
	e.submitter = submit.New(e.gw, book, e.log, e.metrics)
	e.cancel = cancel
	e.done = done
	e.started = true
	e.degraded.Store(false)
	if e.health != nil {
		e.health.SetReady(true)
	}

	go func() {
		defer close(done)
		if err := dmx.Run(runCtx, logs, sub); err != nil {
			e.degraded.Store(true)
			if e.health != nil {
				e.health.SetReady(false)
			}
			e.log.Error().Err(err).Msg("engine degraded, facet values frozen")
		}
	}()

	e.log.Info().
		Str("account", account.Hex()).
		Uint64("baseline_height", baseline.Height).
		Msg("engine started")
	return nil
}

// Restart tears the current subscription down, then runs the full
// bring-up again. This is the account-switch path: the old feed is gone
// before a new one is established.
func (e *Engine) Restart(ctx context.Context) error {
	e.stop()
	return e.Start(ctx)
}

// Close cancels the subscription and stops the engine.
func (e *Engine) Close() {
	e.stop()
}

func (e *Engine) stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.started = false
	e.mu.Unlock()

	if e.health != nil {
		e.health.SetReady(false)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// NetworkMatches reports whether the connected ledger's identity was
// verified against the expected one. While false, facet values must not
// be treated as trustworthy.
func (e *Engine) NetworkMatches() bool {
	return e.networkOK.Load()
}

// Degraded reports whether the event stream has been interrupted.
// Observable state stays at its last confirmed values.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// State returns the current observable view.
func (e *Engine) State() (*position.View, error) {
	e.mu.Lock()
	book := e.book
	started := e.started
	e.mu.Unlock()

	if !started || book == nil {
		return nil, ErrNotStarted
	}
	return book.Snapshot(), nil
}

// LastProcessedHeight returns the demultiplexer's watermark.
func (e *Engine) LastProcessedHeight() uint64 {
	e.mu.Lock()
	dmx := e.dmx
	e.mu.Unlock()

	if dmx == nil {
		return 0
	}
	return dmx.LastProcessedHeight()
}

// --- Submissions ---

func (e *Engine) Deposit(ctx context.Context, amount *big.Int) (*submit.Request, error) {
	s, err := e.readySubmitter()
	if err != nil {
		return nil, err
	}
	return s.Deposit(ctx, amount)
}

func (e *Engine) Withdraw(ctx context.Context) (*submit.Request, error) {
	s, err := e.readySubmitter()
	if err != nil {
		return nil, err
	}
	return s.Withdraw(ctx)
}

func (e *Engine) Borrow(ctx context.Context, collateral *big.Int) (*submit.Request, error) {
	s, err := e.readySubmitter()
	if err != nil {
		return nil, err
	}
	return s.Borrow(ctx, collateral)
}

func (e *Engine) PayOff(ctx context.Context) (*submit.Request, error) {
	s, err := e.readySubmitter()
	if err != nil {
		return nil, err
	}
	return s.PayOff(ctx)
}

func (e *Engine) readySubmitter() (*submit.Submitter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.submitter == nil {
		return nil, ErrNotStarted
	}
	return e.submitter, nil
}
