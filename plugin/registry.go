package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry manages all registered plugins and provides efficient dispatch.
// Interfaces are type-cached at registration so emitting an event is a
// slice walk, not a type switch per call.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                   []OnInit
	onShutdown               []OnShutdown
	onWalletCredited         []OnWalletCredited
	onFundsReleased          []OnFundsReleased
	onIntegrityFault         []OnIntegrityFault
	onChargeSucceeded        []OnChargeSucceeded
	onChargeFailed           []OnChargeFailed
	onSubscriptionSuspended  []OnSubscriptionSuspended
	onSubscriptionTerminated []OnSubscriptionTerminated
	onWithdrawalCompleted    []OnWithdrawalCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnWalletCredited); ok {
		r.onWalletCredited = append(r.onWalletCredited, v)
	}
	if v, ok := p.(OnFundsReleased); ok {
		r.onFundsReleased = append(r.onFundsReleased, v)
	}
	if v, ok := p.(OnIntegrityFault); ok {
		r.onIntegrityFault = append(r.onIntegrityFault, v)
	}
	if v, ok := p.(OnChargeSucceeded); ok {
		r.onChargeSucceeded = append(r.onChargeSucceeded, v)
	}
	if v, ok := p.(OnChargeFailed); ok {
		r.onChargeFailed = append(r.onChargeFailed, v)
	}
	if v, ok := p.(OnSubscriptionSuspended); ok {
		r.onSubscriptionSuspended = append(r.onSubscriptionSuspended, v)
	}
	if v, ok := p.(OnSubscriptionTerminated); ok {
		r.onSubscriptionTerminated = append(r.onSubscriptionTerminated, v)
	}
	if v, ok := p.(OnWithdrawalCompleted); ok {
		r.onWithdrawalCompleted = append(r.onWithdrawalCompleted, v)
	}

	return nil
}

// Plugins returns the names of all registered plugins.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// Emit helpers. Hook errors are logged, never propagated: a misbehaving
// plugin must not be able to fail a financial operation.

func (r *Registry) emitErr(hook, name string, err error) {
	if err != nil {
		r.logger.Error("plugin hook failed", "hook", hook, "plugin", name, "error", err)
	}
}

// EmitInit dispatches OnInit to all registered plugins.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onInit {
		r.emitErr("on_init", p.Name(), p.OnInit(ctx, engine))
	}
}

// EmitShutdown dispatches OnShutdown to all registered plugins.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onShutdown {
		r.emitErr("on_shutdown", p.Name(), p.OnShutdown(ctx))
	}
}

// EmitWalletCredited dispatches OnWalletCredited.
func (r *Registry) EmitWalletCredited(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onWalletCredited {
		r.emitErr("on_wallet_credited", p.Name(), p.OnWalletCredited(ctx, entry))
	}
}

// EmitFundsReleased dispatches OnFundsReleased.
func (r *Registry) EmitFundsReleased(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onFundsReleased {
		r.emitErr("on_funds_released", p.Name(), p.OnFundsReleased(ctx, entry))
	}
}

// EmitIntegrityFault dispatches OnIntegrityFault.
func (r *Registry) EmitIntegrityFault(ctx context.Context, caregiverID, detail string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onIntegrityFault {
		r.emitErr("on_integrity_fault", p.Name(), p.OnIntegrityFault(ctx, caregiverID, detail))
	}
}

// EmitChargeSucceeded dispatches OnChargeSucceeded.
func (r *Registry) EmitChargeSucceeded(ctx context.Context, sub, record interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onChargeSucceeded {
		r.emitErr("on_charge_succeeded", p.Name(), p.OnChargeSucceeded(ctx, sub, record))
	}
}

// EmitChargeFailed dispatches OnChargeFailed.
func (r *Registry) EmitChargeFailed(ctx context.Context, sub interface{}, attempt int, cause error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onChargeFailed {
		r.emitErr("on_charge_failed", p.Name(), p.OnChargeFailed(ctx, sub, attempt, cause))
	}
}

// EmitSubscriptionSuspended dispatches OnSubscriptionSuspended.
func (r *Registry) EmitSubscriptionSuspended(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onSubscriptionSuspended {
		r.emitErr("on_subscription_suspended", p.Name(), p.OnSubscriptionSuspended(ctx, sub))
	}
}

// EmitSubscriptionTerminated dispatches OnSubscriptionTerminated.
func (r *Registry) EmitSubscriptionTerminated(ctx context.Context, sub, refunded interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onSubscriptionTerminated {
		r.emitErr("on_subscription_terminated", p.Name(), p.OnSubscriptionTerminated(ctx, sub, refunded))
	}
}

// EmitWithdrawalCompleted dispatches OnWithdrawalCompleted.
func (r *Registry) EmitWithdrawalCompleted(ctx context.Context, request interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.onWithdrawalCompleted {
		r.emitErr("on_withdrawal_completed", p.Name(), p.OnWithdrawalCompleted(ctx, request))
	}
}
