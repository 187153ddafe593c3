// Package postgres implements store.Store on PostgreSQL using pgx.
// ApplyEntry wraps the entry insert and the wallet update in one
// transaction; optimistic concurrency rides on a version column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xolani/carepay"
	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	carepaystore "github.com/xolani/carepay/store"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

// compile-time interface check
var _ carepaystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store from a connection string.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("carepay/postgres: migrate: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("carepay/postgres: migration %d failed: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier abstracts pool vs transaction for the shared write paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Wallet Store ====================

const walletColumns = `id, caregiver_id, currency,
	total_earned_kobo, withdrawable_kobo, pending_kobo, withdrawn_kobo, deducted_kobo,
	version, created_at, updated_at`

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO carepay_wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID.String(), w.CaregiverID, w.Currency,
		w.TotalEarned.Amount, w.Withdrawable.Amount, w.Pending.Amount,
		w.Withdrawn.Amount, w.Deducted.Amount,
		w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/postgres: create wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM carepay_wallets WHERE caregiver_id = $1`, caregiverID)

	w, err := scanWallet(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrWalletNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get wallet: %w", err)
	}
	return w, nil
}

func scanWallet(row rowScanner) (*wallet.Wallet, error) {
	var (
		idStr                             string
		w                                 wallet.Wallet
		earned, avail, pend, wdrn, deduct int64
	)
	err := row.Scan(&idStr, &w.CaregiverID, &w.Currency,
		&earned, &avail, &pend, &wdrn, &deduct,
		&w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wID, err := id.ParseWalletID(idStr)
	if err != nil {
		return nil, err
	}
	w.ID = wID
	w.TotalEarned = types.Money{Amount: earned, Currency: w.Currency}
	w.Withdrawable = types.Money{Amount: avail, Currency: w.Currency}
	w.Pending = types.Money{Amount: pend, Currency: w.Currency}
	w.Withdrawn = types.Money{Amount: wdrn, Currency: w.Currency}
	w.Deducted = types.Money{Amount: deduct, Currency: w.Currency}
	return &w, nil
}

func (s *Store) UpdateWallet(ctx context.Context, w *wallet.Wallet, expectedVersion int64) error {
	return s.updateWallet(ctx, s.pool, w, expectedVersion)
}

func (s *Store) updateWallet(ctx context.Context, q querier, w *wallet.Wallet, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE carepay_wallets SET
			total_earned_kobo = $1, withdrawable_kobo = $2, pending_kobo = $3,
			withdrawn_kobo = $4, deducted_kobo = $5,
			version = $6, updated_at = NOW()
		WHERE caregiver_id = $7 AND version = $8`,
		w.TotalEarned.Amount, w.Withdrawable.Amount, w.Pending.Amount,
		w.Withdrawn.Amount, w.Deducted.Amount,
		expectedVersion+1, w.CaregiverID, expectedVersion)
	if err != nil {
		return fmt.Errorf("carepay/postgres: update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var n int
		err := q.QueryRow(ctx,
			`SELECT COUNT(*) FROM carepay_wallets WHERE caregiver_id = $1`,
			w.CaregiverID).Scan(&n)
		if err != nil {
			return fmt.Errorf("carepay/postgres: update wallet: %w", err)
		}
		if n == 0 {
			return carepay.ErrWalletNotFound
		}
		return wallet.ErrVersionConflict
	}
	w.Version = expectedVersion + 1
	return nil
}

// ==================== Ledger Store ====================

const entryColumns = `id, caregiver_id, type, amount_kobo, amount_currency,
	order_id, contract_id, subscription_id, billing_cycle, gateway_ref,
	description, release_reason, balance_after_kobo, created_at`

func (s *Store) ApplyEntry(ctx context.Context, e *ledger.Entry, w *wallet.Wallet, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("carepay/postgres: apply entry: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertEntry(ctx, tx, e); err != nil {
		return err
	}
	if err := s.updateWallet(ctx, tx, w, expectedVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	subID := ""
	if !e.SubscriptionID.IsNil() {
		subID = e.SubscriptionID.String()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO carepay_ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID.String(), e.CaregiverID, string(e.Type),
		e.Amount.Amount, e.Amount.Currency,
		e.OrderID, e.ContractID, subID, e.BillingCycle, e.GatewayRef,
		e.Description, string(e.ReleaseReason), e.BalanceAfter.Amount, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrDuplicateTransaction
		}
		return fmt.Errorf("carepay/postgres: insert entry: %w", err)
	}
	return nil
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		idStr, typ, subID, reason string
		e                         ledger.Entry
		amount, balance           int64
		currency                  string
	)
	err := row.Scan(&idStr, &e.CaregiverID, &typ, &amount, &currency,
		&e.OrderID, &e.ContractID, &subID, &e.BillingCycle, &e.GatewayRef,
		&e.Description, &reason, &balance, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	eID, err := id.ParseLedgerEntryID(idStr)
	if err != nil {
		return nil, err
	}
	e.ID = eID
	e.Type = ledger.Type(typ)
	e.Amount = types.Money{Amount: amount, Currency: currency}
	e.ReleaseReason = ledger.ReleaseReason(reason)
	e.BalanceAfter = types.Money{Amount: balance, Currency: currency}
	if subID != "" {
		sID, err := id.ParseSubscriptionID(subID)
		if err != nil {
			return nil, err
		}
		e.SubscriptionID = sID
	}
	return &e, nil
}

func (s *Store) ListEntries(ctx context.Context, caregiverID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	q := `SELECT ` + entryColumns + `
		FROM carepay_ledger_entries
		WHERE caregiver_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{caregiverID}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Store) ReplayEntries(ctx context.Context, caregiverID string) ([]*ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM carepay_ledger_entries
		WHERE caregiver_id = $1
		ORDER BY created_at ASC, id ASC`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: replay entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*ledger.Entry, error) {
	defer rows.Close()

	result := make([]*ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) GetEntryByGatewayRef(ctx context.Context, ref string) (*ledger.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM carepay_ledger_entries
		WHERE gateway_ref = $1 AND gateway_ref <> ''`, ref)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get entry by ref: %w", err)
	}
	return e, nil
}

// ==================== Release hold Store ====================

const holdColumns = `order_id, caregiver_id, amount_kobo, amount_currency,
	held_at, release_after, disputed, released, created_at, updated_at`

func (s *Store) CreateHold(ctx context.Context, h *release.Hold) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO carepay_release_holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.OrderID, h.CaregiverID, h.Amount.Amount, h.Amount.Currency,
		h.HeldAt, h.ReleaseAfter, h.Disputed, h.Released,
		h.CreatedAt, h.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/postgres: create hold: %w", err)
	}
	return nil
}

func (s *Store) GetHold(ctx context.Context, orderID string) (*release.Hold, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+holdColumns+`
		FROM carepay_release_holds WHERE order_id = $1`, orderID)

	h, err := scanHold(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrHoldNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get hold: %w", err)
	}
	return h, nil
}

func scanHold(row rowScanner) (*release.Hold, error) {
	var (
		h        release.Hold
		amount   int64
		currency string
	)
	err := row.Scan(&h.OrderID, &h.CaregiverID, &amount, &currency,
		&h.HeldAt, &h.ReleaseAfter, &h.Disputed, &h.Released,
		&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Amount = types.Money{Amount: amount, Currency: currency}
	return &h, nil
}

func (s *Store) UpdateHold(ctx context.Context, h *release.Hold) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carepay_release_holds SET
			disputed = $1, released = $2, release_after = $3, updated_at = NOW()
		WHERE order_id = $4`,
		h.Disputed, h.Released, h.ReleaseAfter, h.OrderID)
	if err != nil {
		return fmt.Errorf("carepay/postgres: update hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return carepay.ErrHoldNotFound
	}
	return nil
}

func (s *Store) ListDueHolds(ctx context.Context, now time.Time) ([]*release.Hold, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+holdColumns+`
		FROM carepay_release_holds
		WHERE NOT released AND NOT disputed AND release_after <= $1
		ORDER BY release_after ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list due holds: %w", err)
	}
	defer rows.Close()

	result := make([]*release.Hold, 0)
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// ==================== Subscription Store ====================

const subColumns = `id, client_id, caregiver_id, order_id, contract_id,
	billing_cycle, frequency_per_week,
	recurring_amount_kobo, order_fee_kobo, service_charge_kobo, gateway_fees_kobo, currency,
	status, current_period_start, current_period_end, next_charge_date,
	billing_cycles_completed, failed_charge_attempts, max_retry_attempts,
	next_retry_at, charging_since, charge_ref,
	cancel_at_period_end, cancellation_requested_at, ended_at, end_date,
	payment_token, plan_changes, payment_attempts, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	changes, attempts, err := marshalSubJSON(sub)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO carepay_subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		sub.ID.String(), sub.ClientID, sub.CaregiverID, sub.OrderID, sub.ContractID,
		string(sub.BillingCycle), sub.FrequencyPerWeek,
		sub.RecurringAmount.Amount, sub.OrderFee.Amount, sub.ServiceCharge.Amount,
		sub.GatewayFees.Amount, sub.RecurringAmount.Currency,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeDate,
		sub.BillingCyclesDone, sub.FailedChargeAttempts, sub.MaxRetryAttempts,
		sub.NextRetryAt, sub.ChargingSince, sub.ChargeRef,
		sub.CancelAtPeriodEnd, sub.CancellationRequestedAt, sub.EndedAt, sub.EndDate,
		sub.PaymentToken, changes, attempts, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/postgres: create subscription: %w", err)
	}
	return nil
}

func marshalSubJSON(sub *subscription.Subscription) ([]byte, []byte, error) {
	changes, err := json.Marshal(sub.PlanChanges)
	if err != nil {
		return nil, nil, fmt.Errorf("carepay/postgres: marshal plan changes: %w", err)
	}
	attempts, err := json.Marshal(sub.PaymentAttempts)
	if err != nil {
		return nil, nil, fmt.Errorf("carepay/postgres: marshal payment attempts: %w", err)
	}
	return changes, attempts, nil
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	var (
		idStr, cycle, status              string
		sub                               subscription.Subscription
		amount, fee, svcCharge, gwFees    int64
		currency                          string
		changesJSON, attemptsJSON         []byte
	)
	err := row.Scan(&idStr, &sub.ClientID, &sub.CaregiverID, &sub.OrderID, &sub.ContractID,
		&cycle, &sub.FrequencyPerWeek,
		&amount, &fee, &svcCharge, &gwFees, &currency,
		&status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextChargeDate,
		&sub.BillingCyclesDone, &sub.FailedChargeAttempts, &sub.MaxRetryAttempts,
		&sub.NextRetryAt, &sub.ChargingSince, &sub.ChargeRef,
		&sub.CancelAtPeriodEnd, &sub.CancellationRequestedAt, &sub.EndedAt, &sub.EndDate,
		&sub.PaymentToken, &changesJSON, &attemptsJSON, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	subID, err := id.ParseSubscriptionID(idStr)
	if err != nil {
		return nil, err
	}
	sub.ID = subID
	sub.BillingCycle = subscription.Cycle(cycle)
	sub.Status = subscription.Status(status)
	sub.RecurringAmount = types.Money{Amount: amount, Currency: currency}
	sub.OrderFee = types.Money{Amount: fee, Currency: currency}
	sub.ServiceCharge = types.Money{Amount: svcCharge, Currency: currency}
	sub.GatewayFees = types.Money{Amount: gwFees, Currency: currency}

	if err := json.Unmarshal(changesJSON, &sub.PlanChanges); err != nil {
		return nil, fmt.Errorf("carepay/postgres: unmarshal plan changes: %w", err)
	}
	if err := json.Unmarshal(attemptsJSON, &sub.PaymentAttempts); err != nil {
		return nil, fmt.Errorf("carepay/postgres: unmarshal payment attempts: %w", err)
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions WHERE id = $1`, subID.String())

	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	changes, attempts, err := marshalSubJSON(sub)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE carepay_subscriptions SET
			billing_cycle = $1, frequency_per_week = $2,
			recurring_amount_kobo = $3, order_fee_kobo = $4,
			service_charge_kobo = $5, gateway_fees_kobo = $6,
			status = $7, current_period_start = $8, current_period_end = $9,
			next_charge_date = $10, billing_cycles_completed = $11,
			failed_charge_attempts = $12, max_retry_attempts = $13,
			next_retry_at = $14, charging_since = $15, charge_ref = $16,
			cancel_at_period_end = $17, cancellation_requested_at = $18, ended_at = $19,
			end_date = $20, payment_token = $21, plan_changes = $22, payment_attempts = $23,
			updated_at = NOW()
		WHERE id = $24`,
		string(sub.BillingCycle), sub.FrequencyPerWeek,
		sub.RecurringAmount.Amount, sub.OrderFee.Amount,
		sub.ServiceCharge.Amount, sub.GatewayFees.Amount,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextChargeDate, sub.BillingCyclesDone,
		sub.FailedChargeAttempts, sub.MaxRetryAttempts,
		sub.NextRetryAt, sub.ChargingSince, sub.ChargeRef,
		sub.CancelAtPeriodEnd, sub.CancellationRequestedAt, sub.EndedAt,
		sub.EndDate, sub.PaymentToken, changes, attempts,
		sub.ID.String())
	if err != nil {
		return fmt.Errorf("carepay/postgres: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return carepay.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ClaimForCharge(ctx context.Context, subID id.SubscriptionID, from subscription.Status) (*subscription.Subscription, error) {
	if !subscription.CanTransition(from, subscription.StatusCharging) {
		return nil, carepay.ErrChargeInFlight
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE carepay_subscriptions SET
			status = $1, charging_since = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING `+subColumns,
		string(subscription.StatusCharging), subID.String(), string(from))

	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			var n int
			cErr := s.pool.QueryRow(ctx,
				`SELECT COUNT(*) FROM carepay_subscriptions WHERE id = $1`,
				subID.String()).Scan(&n)
			if cErr != nil {
				return nil, fmt.Errorf("carepay/postgres: claim for charge: %w", cErr)
			}
			if n == 0 {
				return nil, carepay.ErrSubscriptionNotFound
			}
			return nil, carepay.ErrChargeInFlight
		}
		return nil, fmt.Errorf("carepay/postgres: claim for charge: %w", err)
	}
	return sub, nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions
		WHERE (status = $1 AND next_charge_date <= $2)
		   OR (status IN ($3, $4) AND next_retry_at IS NOT NULL AND next_retry_at <= $2)
		ORDER BY next_charge_date ASC`,
		string(subscription.StatusActive), now,
		string(subscription.StatusPastDue), string(subscription.StatusSuspended))
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list due subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListStuckCharging(ctx context.Context, before time.Time) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions
		WHERE status = $1 AND charging_since IS NOT NULL AND charging_since < $2`,
		string(subscription.StatusCharging), before)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list stuck charging: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListSubscriptionsByClient(ctx context.Context, clientID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return s.listSubscriptionsBy(ctx, "client_id", clientID, opts)
}

func (s *Store) ListSubscriptionsByCaregiver(ctx context.Context, caregiverID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return s.listSubscriptionsBy(ctx, "caregiver_id", caregiverID, opts)
}

func (s *Store) listSubscriptionsBy(ctx context.Context, column, value string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	q := `SELECT ` + subColumns + `
		FROM carepay_subscriptions
		WHERE ` + column + ` = $1`
	args := []any{value}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*subscription.Subscription, error) {
	defer rows.Close()

	result := make([]*subscription.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// ==================== Billing record Store ====================

const billingColumns = `id, order_id, contract_id, subscription_id, client_id, caregiver_id,
	cycle_number, period_start, period_end, next_charge_date,
	amount_paid_kobo, order_fee_kobo, service_charge_kobo, gateway_fees_kobo, currency,
	gateway_ref, created_at`

func (s *Store) CreateBillingRecord(ctx context.Context, r *billing.Record) error {
	subID := ""
	if !r.SubscriptionID.IsNil() {
		subID = r.SubscriptionID.String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO carepay_billing_records (`+billingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID.String(), r.OrderID, r.ContractID, subID, r.ClientID, r.CaregiverID,
		r.CycleNumber, r.PeriodStart, r.PeriodEnd, r.NextChargeDate,
		r.AmountPaid.Amount, r.OrderFee.Amount, r.ServiceCharge.Amount,
		r.GatewayFees.Amount, r.AmountPaid.Currency,
		r.GatewayRef, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/postgres: create billing record: %w", err)
	}
	return nil
}

func scanBillingRecord(row rowScanner) (*billing.Record, error) {
	var (
		idStr, subID                string
		r                           billing.Record
		paid, fee, svc, gw          int64
		currency                    string
	)
	err := row.Scan(&idStr, &r.OrderID, &r.ContractID, &subID, &r.ClientID, &r.CaregiverID,
		&r.CycleNumber, &r.PeriodStart, &r.PeriodEnd, &r.NextChargeDate,
		&paid, &fee, &svc, &gw, &currency,
		&r.GatewayRef, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	rID, err := id.ParseBillingRecordID(idStr)
	if err != nil {
		return nil, err
	}
	r.ID = rID
	r.AmountPaid = types.Money{Amount: paid, Currency: currency}
	r.OrderFee = types.Money{Amount: fee, Currency: currency}
	r.ServiceCharge = types.Money{Amount: svc, Currency: currency}
	r.GatewayFees = types.Money{Amount: gw, Currency: currency}
	if subID != "" {
		sID, err := id.ParseSubscriptionID(subID)
		if err != nil {
			return nil, err
		}
		r.SubscriptionID = sID
	}
	return &r, nil
}

func (s *Store) GetBillingRecordByRef(ctx context.Context, gatewayRef string) (*billing.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+billingColumns+`
		FROM carepay_billing_records WHERE gateway_ref = $1`, gatewayRef)

	r, err := scanBillingRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get billing record: %w", err)
	}
	return r, nil
}

func (s *Store) ListBillingRecords(ctx context.Context, opts billing.ListOpts) ([]*billing.Record, error) {
	q := `SELECT ` + billingColumns + ` FROM carepay_billing_records WHERE 1=1`
	args := []any{}

	if opts.OrderID != "" {
		args = append(args, opts.OrderID)
		q += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if !opts.SubscriptionID.IsNil() {
		args = append(args, opts.SubscriptionID.String())
		q += fmt.Sprintf(" AND subscription_id = $%d", len(args))
	}
	if opts.ClientID != "" {
		args = append(args, opts.ClientID)
		q += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if opts.CaregiverID != "" {
		args = append(args, opts.CaregiverID)
		q += fmt.Sprintf(" AND caregiver_id = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list billing records: %w", err)
	}
	defer rows.Close()

	result := make([]*billing.Record, 0)
	for rows.Next() {
		r, err := scanBillingRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ==================== Withdrawal Store ====================

const withdrawalColumns = `id, caregiver_id,
	amount_requested_kobo, service_charge_kobo, final_amount_kobo, currency,
	status, verified_by, verified_at, completed_by, completed_at,
	rejected_by, rejected_at, admin_notes, created_at, updated_at`

func (s *Store) CreateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO carepay_withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID.String(), r.CaregiverID,
		r.AmountRequested.Amount, r.ServiceCharge.Amount, r.FinalAmount.Amount,
		r.AmountRequested.Currency,
		string(r.Status), r.VerifiedBy, r.VerifiedAt, r.CompletedBy, r.CompletedAt,
		r.RejectedBy, r.RejectedAt, r.AdminNotes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/postgres: create withdrawal: %w", err)
	}
	return nil
}

func scanWithdrawal(row rowScanner) (*withdrawal.Request, error) {
	var (
		idStr, status        string
		r                    withdrawal.Request
		requested, svc, fin  int64
		currency             string
	)
	err := row.Scan(&idStr, &r.CaregiverID,
		&requested, &svc, &fin, &currency,
		&status, &r.VerifiedBy, &r.VerifiedAt, &r.CompletedBy, &r.CompletedAt,
		&r.RejectedBy, &r.RejectedAt, &r.AdminNotes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wdID, err := id.ParseWithdrawalID(idStr)
	if err != nil {
		return nil, err
	}
	r.ID = wdID
	r.Status = withdrawal.Status(status)
	r.AmountRequested = types.Money{Amount: requested, Currency: currency}
	r.ServiceCharge = types.Money{Amount: svc, Currency: currency}
	r.FinalAmount = types.Money{Amount: fin, Currency: currency}
	return &r, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM carepay_withdrawals WHERE id = $1`, wdID.String())

	r, err := scanWithdrawal(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("carepay/postgres: get withdrawal: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carepay_withdrawals SET
			status = $1, verified_by = $2, verified_at = $3,
			completed_by = $4, completed_at = $5,
			rejected_by = $6, rejected_at = $7, admin_notes = $8,
			updated_at = NOW()
		WHERE id = $9`,
		string(r.Status), r.VerifiedBy, r.VerifiedAt,
		r.CompletedBy, r.CompletedAt,
		r.RejectedBy, r.RejectedAt, r.AdminNotes,
		r.ID.String())
	if err != nil {
		return fmt.Errorf("carepay/postgres: update withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return carepay.ErrWithdrawalNotFound
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	q := `SELECT ` + withdrawalColumns + `
		FROM carepay_withdrawals
		WHERE caregiver_id = $1`
	args := []any{caregiverID}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/postgres: list withdrawals: %w", err)
	}
	defer rows.Close()

	result := make([]*withdrawal.Request, 0)
	for rows.Next() {
		r, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ==================== Helpers ====================

// isNoRows checks if an error wraps pgx.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
