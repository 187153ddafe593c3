// Package memory provides an in-memory store, primarily for tests and
// prototyping. All methods are safe for concurrent use behind a single
// mutex, which also gives ApplyEntry its atomicity for free.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xolani/carepay"
	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	carepaystore "github.com/xolani/carepay/store"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

var _ carepaystore.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Wallet storage, keyed by caregiver ID
	wallets map[string]*wallet.Wallet

	// Ledger storage, append order; refs index non-empty gateway references
	entries []*ledger.Entry
	refs    map[string]*ledger.Entry

	// Release hold storage, keyed by order ID
	holds map[string]*release.Hold

	// Subscription storage
	subscriptions map[string]*subscription.Subscription

	// Billing record storage
	records    map[string]*billing.Record
	recordRefs map[string]*billing.Record

	// Withdrawal storage
	withdrawals map[string]*withdrawal.Request
}

func New() *Store {
	return &Store{
		wallets:       make(map[string]*wallet.Wallet),
		entries:       make([]*ledger.Entry, 0),
		refs:          make(map[string]*ledger.Entry),
		holds:         make(map[string]*release.Hold),
		subscriptions: make(map[string]*subscription.Subscription),
		records:       make(map[string]*billing.Record),
		recordRefs:    make(map[string]*billing.Record),
		withdrawals:   make(map[string]*withdrawal.Request),
	}
}

// Stored values are never handed out directly: callers mutate their copies
// and commit through Update/Apply, which is what makes the version check
// meaningful.

func cloneSub(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	c.PlanChanges = append([]subscription.PlanChange(nil), s.PlanChanges...)
	c.PaymentAttempts = append([]subscription.PaymentAttempt(nil), s.PaymentAttempts...)
	return &c
}

func cloneHold(h *release.Hold) *release.Hold {
	c := *h
	return &c
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	c := *e
	return &c
}

func cloneWithdrawal(r *withdrawal.Request) *withdrawal.Request {
	c := *r
	return &c
}

func cloneRecord(r *billing.Record) *billing.Record {
	c := *r
	return &c
}

// Wallet Store implementation

func (s *Store) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[w.CaregiverID]; exists {
		return carepay.ErrAlreadyExists
	}
	s.wallets[w.CaregiverID] = w.Clone()
	return nil
}

func (s *Store) GetWallet(_ context.Context, caregiverID string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.wallets[caregiverID]; ok {
		return w.Clone(), nil
	}
	return nil, carepay.ErrWalletNotFound
}

func (s *Store) UpdateWallet(_ context.Context, w *wallet.Wallet, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateWalletLocked(w, expectedVersion)
}

func (s *Store) updateWalletLocked(w *wallet.Wallet, expectedVersion int64) error {
	stored, ok := s.wallets[w.CaregiverID]
	if !ok {
		return carepay.ErrWalletNotFound
	}
	if stored.Version != expectedVersion {
		return wallet.ErrVersionConflict
	}

	next := w.Clone()
	next.Version = expectedVersion + 1
	next.Touch()
	s.wallets[w.CaregiverID] = next
	w.Version = next.Version
	return nil
}

// Ledger Store implementation

func (s *Store) ApplyEntry(_ context.Context, e *ledger.Entry, w *wallet.Wallet, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.GatewayRef != "" {
		if _, dup := s.refs[e.GatewayRef]; dup {
			return carepay.ErrDuplicateTransaction
		}
	}
	if err := s.updateWalletLocked(w, expectedVersion); err != nil {
		return err
	}

	stored := cloneEntry(e)
	s.entries = append(s.entries, stored)
	if stored.GatewayRef != "" {
		s.refs[stored.GatewayRef] = stored
	}
	return nil
}

func (s *Store) ListEntries(_ context.Context, caregiverID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	result := make([]*ledger.Entry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CaregiverID == caregiverID {
			result = append(result, cloneEntry(s.entries[i]))
		}
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) ReplayEntries(_ context.Context, caregiverID string) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Oldest first, for balance reconstruction.
	result := make([]*ledger.Entry, 0)
	for _, e := range s.entries {
		if e.CaregiverID == caregiverID {
			result = append(result, cloneEntry(e))
		}
	}
	return result, nil
}

func (s *Store) GetEntryByGatewayRef(_ context.Context, ref string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.refs[ref]; ok {
		return cloneEntry(e), nil
	}
	return nil, carepay.ErrNotFound
}

// Release hold Store implementation

func (s *Store) CreateHold(_ context.Context, h *release.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holds[h.OrderID]; exists {
		return carepay.ErrAlreadyExists
	}
	s.holds[h.OrderID] = cloneHold(h)
	return nil
}

func (s *Store) GetHold(_ context.Context, orderID string) (*release.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.holds[orderID]; ok {
		return cloneHold(h), nil
	}
	return nil, carepay.ErrHoldNotFound
}

func (s *Store) UpdateHold(_ context.Context, h *release.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holds[h.OrderID]; !exists {
		return carepay.ErrHoldNotFound
	}
	s.holds[h.OrderID] = cloneHold(h)
	return nil
}

func (s *Store) ListDueHolds(_ context.Context, now time.Time) ([]*release.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*release.Hold, 0)
	for _, h := range s.holds {
		if h.Due(now) {
			result = append(result, cloneHold(h))
		}
	}
	return result, nil
}

// Subscription Store implementation

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return carepay.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = cloneSub(sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSub(sub), nil
	}
	return nil, carepay.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return carepay.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID.String()] = cloneSub(sub)
	return nil
}

func (s *Store) ClaimForCharge(_ context.Context, subID id.SubscriptionID, from subscription.Status) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, carepay.ErrSubscriptionNotFound
	}
	if sub.Status != from || !subscription.CanTransition(from, subscription.StatusCharging) {
		return nil, carepay.ErrChargeInFlight
	}

	sub.Status = subscription.StatusCharging
	now := time.Now().UTC()
	sub.ChargingSince = &now
	sub.Touch()
	return cloneSub(sub), nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		switch sub.Status {
		case subscription.StatusActive:
			if !sub.NextChargeDate.After(now) {
				result = append(result, cloneSub(sub))
			}
		case subscription.StatusPastDue, subscription.StatusSuspended:
			if sub.NextRetryAt != nil && !sub.NextRetryAt.After(now) {
				result = append(result, cloneSub(sub))
			}
		}
	}
	return result, nil
}

func (s *Store) ListStuckCharging(_ context.Context, before time.Time) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status == subscription.StatusCharging &&
			sub.ChargingSince != nil && sub.ChargingSince.Before(before) {
			result = append(result, cloneSub(sub))
		}
	}
	return result, nil
}

func (s *Store) ListSubscriptionsByClient(_ context.Context, clientID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.ClientID == clientID {
			if opts.Status == "" || sub.Status == opts.Status {
				result = append(result, cloneSub(sub))
			}
		}
	}
	return applySubWindow(result, opts), nil
}

func (s *Store) ListSubscriptionsByCaregiver(_ context.Context, caregiverID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.CaregiverID == caregiverID {
			if opts.Status == "" || sub.Status == opts.Status {
				result = append(result, cloneSub(sub))
			}
		}
	}
	return applySubWindow(result, opts), nil
}

func applySubWindow(result []*subscription.Subscription, opts subscription.ListOpts) []*subscription.Subscription {
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end]
}

// Billing record Store implementation

func (s *Store) CreateBillingRecord(_ context.Context, r *billing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID.String()]; exists {
		return carepay.ErrAlreadyExists
	}
	if r.GatewayRef != "" {
		if _, dup := s.recordRefs[r.GatewayRef]; dup {
			return carepay.ErrAlreadyExists
		}
	}

	stored := cloneRecord(r)
	s.records[stored.ID.String()] = stored
	if stored.GatewayRef != "" {
		s.recordRefs[stored.GatewayRef] = stored
	}
	return nil
}

func (s *Store) GetBillingRecordByRef(_ context.Context, gatewayRef string) (*billing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.recordRefs[gatewayRef]; ok {
		return cloneRecord(r), nil
	}
	return nil, carepay.ErrNotFound
}

func (s *Store) ListBillingRecords(_ context.Context, opts billing.ListOpts) ([]*billing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*billing.Record, 0)
	for _, r := range s.records {
		if opts.OrderID != "" && r.OrderID != opts.OrderID {
			continue
		}
		if !opts.SubscriptionID.IsNil() && r.SubscriptionID != opts.SubscriptionID {
			continue
		}
		if opts.ClientID != "" && r.ClientID != opts.ClientID {
			continue
		}
		if opts.CaregiverID != "" && r.CaregiverID != opts.CaregiverID {
			continue
		}
		result = append(result, cloneRecord(r))
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Withdrawal Store implementation

func (s *Store) CreateWithdrawal(_ context.Context, r *withdrawal.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.withdrawals[r.ID.String()]; exists {
		return carepay.ErrAlreadyExists
	}
	s.withdrawals[r.ID.String()] = cloneWithdrawal(r)
	return nil
}

func (s *Store) GetWithdrawal(_ context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.withdrawals[wdID.String()]; ok {
		return cloneWithdrawal(r), nil
	}
	return nil, carepay.ErrWithdrawalNotFound
}

func (s *Store) UpdateWithdrawal(_ context.Context, r *withdrawal.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.withdrawals[r.ID.String()]; !exists {
		return carepay.ErrWithdrawalNotFound
	}
	s.withdrawals[r.ID.String()] = cloneWithdrawal(r)
	return nil
}

func (s *Store) ListWithdrawals(_ context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*withdrawal.Request, 0)
	for _, r := range s.withdrawals {
		if r.CaregiverID == caregiverID {
			if opts.Status == "" || r.Status == opts.Status {
				result = append(result, cloneWithdrawal(r))
			}
		}
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Core Store implementation

func (s *Store) Migrate(_ context.Context) error { return nil }
func (s *Store) Ping(_ context.Context) error    { return nil }
func (s *Store) Close() error                    { return nil }
