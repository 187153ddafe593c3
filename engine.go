package carepay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xolani/carepay/gateway"
	"github.com/xolani/carepay/plugin"
	"github.com/xolani/carepay/release"
	"github.com/xolani/carepay/store"
	"github.com/xolani/carepay/wallet"
)

// Engine is the financial consistency core: it owns ledger appends, wallet
// projections, fund release, subscription billing and withdrawal debits.
type Engine struct {
	store   store.Store
	gateway gateway.Gateway
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	currency         string
	holdWindow       time.Duration
	maxRetryAttempts int
	retryBase        time.Duration
	chargeTimeout    time.Duration
	billingInterval  time.Duration
	releaseInterval  time.Duration
	withdrawalFeeBps int64
}

// New creates a new Engine over a store and a payment gateway.
func New(s store.Store, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		gateway:          gw,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		now:              time.Now,
		stopChan:         make(chan struct{}),
		currency:         "ngn",
		holdWindow:       release.DefaultHoldWindow,
		maxRetryAttempts: 3,
		retryBase:        6 * time.Hour,
		chargeTimeout:    10 * time.Minute,
		billingInterval:  time.Hour,
		releaseInterval:  time.Hour,
		withdrawalFeeBps: 150, // 1.5%
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCurrency sets the operating currency (default "ngn").
func WithCurrency(currency string) Option {
	return func(e *Engine) { e.currency = currency }
}

// WithHoldWindow sets how long unapproved one-time order credits stay
// pending before auto-release.
func WithHoldWindow(d time.Duration) Option {
	return func(e *Engine) { e.holdWindow = d }
}

// WithRetryPolicy sets the subscription charge retry budget and the base
// delay between past-due retries (delays double per failed attempt).
func WithRetryPolicy(maxAttempts int, base time.Duration) Option {
	return func(e *Engine) {
		e.maxRetryAttempts = maxAttempts
		e.retryBase = base
	}
}

// WithChargeTimeout sets how long a subscription may sit in the transient
// charging state before the recovery pass reconciles it with the gateway.
func WithChargeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.chargeTimeout = d }
}

// WithSweepIntervals sets how often the billing rollover and pending-funds
// release sweeps run.
func WithSweepIntervals(billing, releaseSweep time.Duration) Option {
	return func(e *Engine) {
		e.billingInterval = billing
		e.releaseInterval = releaseSweep
	}
}

// WithWithdrawalFee sets the withdrawal service charge in basis points.
func WithWithdrawalFee(bps int64) Option {
	return func(e *Engine) { e.withdrawalFeeBps = bps }
}

// WithClock overrides the engine's time source. Intended for tests and
// deterministic replays.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Start migrates the store, reconciles charges interrupted by a crash, and
// begins the background sweep workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	// Reconcile subscriptions stuck in the charging state from a previous
	// run before any new charges are attempted.
	if err := e.RecoverCharging(ctx); err != nil {
		return err
	}

	e.wg.Add(2)
	go e.billingWorker(ctx)
	go e.releaseWorker(ctx)

	e.logger.Info("carepay engine started",
		"hold_window", e.holdWindow,
		"max_retry_attempts", e.maxRetryAttempts,
		"billing_interval", e.billingInterval,
		"release_interval", e.releaseInterval,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// billingWorker periodically runs the subscription rollover sweep.
func (e *Engine) billingWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.billingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if err := e.RunBillingSweep(ctx); err != nil {
				e.logger.Error("billing sweep failed", "error", err)
			}
		}
	}
}

// releaseWorker periodically runs the pending-funds auto-release sweep.
func (e *Engine) releaseWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.releaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if err := e.RunReleaseSweep(ctx); err != nil {
				e.logger.Error("release sweep failed", "error", err)
			}
		}
	}
}

// getOrCreateWallet loads a caregiver's wallet, creating an empty one on
// first credit.
func (e *Engine) getOrCreateWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	w, err := e.store.GetWallet(ctx, caregiverID)
	if err == nil {
		return w, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	w = wallet.New(caregiverID, e.currency)
	if err := e.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, ErrAlreadyExists) { // lost a creation race; re-read
			return e.store.GetWallet(ctx, caregiverID)
		}
		return nil, err
	}
	return w, nil
}
