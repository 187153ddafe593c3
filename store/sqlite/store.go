// Package sqlite implements store.Store on SQLite via database/sql and the
// pure-Go modernc.org/sqlite driver. Suited to embedded and single-node
// deployments; the connection pool is capped at one writer so transactions
// serialize naturally.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
// Use ":memory:" for an ephemeral database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent engine operations.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("carepay/sqlite: migrate: begin: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("carepay/sqlite: migration %d failed: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier abstracts db vs transaction for the shared write paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Wallet Store ====================

const walletColumns = `id, caregiver_id, currency,
	total_earned_kobo, withdrawable_kobo, pending_kobo, withdrawn_kobo, deducted_kobo,
	version, created_at, updated_at`

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carepay_wallets (`+walletColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.CaregiverID, w.Currency,
		w.TotalEarned.Amount, w.Withdrawable.Amount, w.Pending.Amount,
		w.Withdrawn.Amount, w.Deducted.Amount,
		w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/sqlite: create wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM carepay_wallets WHERE caregiver_id = ?`, caregiverID)

	w, err := scanWallet(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrWalletNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get wallet: %w", err)
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
	return updateWallet(ctx, s.db, w, expectedVersion)
}

func updateWallet(ctx context.Context, q querier, w *wallet.Wallet, expectedVersion int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE carepay_wallets SET
			total_earned_kobo = ?, withdrawable_kobo = ?, pending_kobo = ?,
			withdrawn_kobo = ?, deducted_kobo = ?,
			version = ?, updated_at = ?
		WHERE caregiver_id = ? AND version = ?`,
		w.TotalEarned.Amount, w.Withdrawable.Amount, w.Pending.Amount,
		w.Withdrawn.Amount, w.Deducted.Amount,
		expectedVersion+1, time.Now().UTC(), w.CaregiverID, expectedVersion)
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update wallet: %w", err)
	}
	if n == 0 {
		var count int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM carepay_wallets WHERE caregiver_id = ?`,
			w.CaregiverID).Scan(&count)
		if err != nil {
			return fmt.Errorf("carepay/sqlite: update wallet: %w", err)
		}
		if count == 0 {
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("carepay/sqlite: apply entry: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertEntry(ctx, tx, e); err != nil {
		return err
	}
	if err := updateWallet(ctx, tx, w, expectedVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	subID := ""
	if !e.SubscriptionID.IsNil() {
		subID = e.SubscriptionID.String()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO carepay_ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.CaregiverID, string(e.Type),
		e.Amount.Amount, e.Amount.Currency,
		e.OrderID, e.ContractID, subID, e.BillingCycle, e.GatewayRef,
		e.Description, string(e.ReleaseReason), e.BalanceAfter.Amount, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrDuplicateTransaction
		}
		return fmt.Errorf("carepay/sqlite: insert entry: %w", err)
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
		WHERE caregiver_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{caregiverID}

	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Store) ReplayEntries(ctx context.Context, caregiverID string) ([]*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM carepay_ledger_entries
		WHERE caregiver_id = ?
		ORDER BY created_at ASC, id ASC`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: replay entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]*ledger.Entry, error) {
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
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM carepay_ledger_entries
		WHERE gateway_ref = ? AND gateway_ref <> ''`, ref)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get entry by ref: %w", err)
	}
	return e, nil
}

// ==================== Release hold Store ====================

const holdColumns = `order_id, caregiver_id, amount_kobo, amount_currency,
	held_at, release_after, disputed, released, created_at, updated_at`

func (s *Store) CreateHold(ctx context.Context, h *release.Hold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carepay_release_holds (`+holdColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.OrderID, h.CaregiverID, h.Amount.Amount, h.Amount.Currency,
		h.HeldAt, h.ReleaseAfter, h.Disputed, h.Released,
		h.CreatedAt, h.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/sqlite: create hold: %w", err)
	}
	return nil
}

func (s *Store) GetHold(ctx context.Context, orderID string) (*release.Hold, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+holdColumns+`
		FROM carepay_release_holds WHERE order_id = ?`, orderID)

	h, err := scanHold(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrHoldNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get hold: %w", err)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE carepay_release_holds SET
			disputed = ?, released = ?, release_after = ?, updated_at = ?
		WHERE order_id = ?`,
		h.Disputed, h.Released, h.ReleaseAfter, time.Now().UTC(), h.OrderID)
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update hold: %w", err)
	}
	if n == 0 {
		return carepay.ErrHoldNotFound
	}
	return nil
}

func (s *Store) ListDueHolds(ctx context.Context, now time.Time) ([]*release.Hold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM carepay_release_holds
		WHERE released = 0 AND disputed = 0 AND release_after <= ?
		ORDER BY release_after ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list due holds: %w", err)
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carepay_subscriptions (`+subColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(), sub.ClientID, sub.CaregiverID, sub.OrderID, sub.ContractID,
		string(sub.BillingCycle), sub.FrequencyPerWeek,
		sub.RecurringAmount.Amount, sub.OrderFee.Amount, sub.ServiceCharge.Amount,
		sub.GatewayFees.Amount, sub.RecurringAmount.Currency,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeDate,
		sub.BillingCyclesDone, sub.FailedChargeAttempts, sub.MaxRetryAttempts,
		nullTime(sub.NextRetryAt), nullTime(sub.ChargingSince), sub.ChargeRef,
		sub.CancelAtPeriodEnd, nullTime(sub.CancellationRequestedAt), nullTime(sub.EndedAt),
		nullTime(sub.EndDate), sub.PaymentToken, changes, attempts, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/sqlite: create subscription: %w", err)
	}
	return nil
}

func marshalSubJSON(sub *subscription.Subscription) (string, string, error) {
	changes, err := json.Marshal(sub.PlanChanges)
	if err != nil {
		return "", "", fmt.Errorf("carepay/sqlite: marshal plan changes: %w", err)
	}
	attempts, err := json.Marshal(sub.PaymentAttempts)
	if err != nil {
		return "", "", fmt.Errorf("carepay/sqlite: marshal payment attempts: %w", err)
	}
	return string(changes), string(attempts), nil
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	var (
		idStr, cycle, status           string
		sub                            subscription.Subscription
		amount, fee, svcCharge, gwFees int64
		currency                       string
		retryAt, chargingSince         sql.NullTime
		cancelledAt, endedAt, endDate  sql.NullTime
		changesJSON, attemptsJSON      string
	)
	err := row.Scan(&idStr, &sub.ClientID, &sub.CaregiverID, &sub.OrderID, &sub.ContractID,
		&cycle, &sub.FrequencyPerWeek,
		&amount, &fee, &svcCharge, &gwFees, &currency,
		&status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextChargeDate,
		&sub.BillingCyclesDone, &sub.FailedChargeAttempts, &sub.MaxRetryAttempts,
		&retryAt, &chargingSince, &sub.ChargeRef,
		&sub.CancelAtPeriodEnd, &cancelledAt, &endedAt, &endDate,
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
	sub.NextRetryAt = timePtr(retryAt)
	sub.ChargingSince = timePtr(chargingSince)
	sub.CancellationRequestedAt = timePtr(cancelledAt)
	sub.EndedAt = timePtr(endedAt)
	sub.EndDate = timePtr(endDate)

	if err := json.Unmarshal([]byte(changesJSON), &sub.PlanChanges); err != nil {
		return nil, fmt.Errorf("carepay/sqlite: unmarshal plan changes: %w", err)
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &sub.PaymentAttempts); err != nil {
		return nil, fmt.Errorf("carepay/sqlite: unmarshal payment attempts: %w", err)
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return getSubscription(ctx, s.db, subID)
}

func getSubscription(ctx context.Context, q querier, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions WHERE id = ?`, subID.String())

	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	changes, attempts, err := marshalSubJSON(sub)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE carepay_subscriptions SET
			billing_cycle = ?, frequency_per_week = ?,
			recurring_amount_kobo = ?, order_fee_kobo = ?,
			service_charge_kobo = ?, gateway_fees_kobo = ?,
			status = ?, current_period_start = ?, current_period_end = ?,
			next_charge_date = ?, billing_cycles_completed = ?,
			failed_charge_attempts = ?, max_retry_attempts = ?,
			next_retry_at = ?, charging_since = ?, charge_ref = ?,
			cancel_at_period_end = ?, cancellation_requested_at = ?, ended_at = ?,
			end_date = ?, payment_token = ?, plan_changes = ?, payment_attempts = ?,
			updated_at = ?
		WHERE id = ?`,
		string(sub.BillingCycle), sub.FrequencyPerWeek,
		sub.RecurringAmount.Amount, sub.OrderFee.Amount,
		sub.ServiceCharge.Amount, sub.GatewayFees.Amount,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextChargeDate, sub.BillingCyclesDone,
		sub.FailedChargeAttempts, sub.MaxRetryAttempts,
		nullTime(sub.NextRetryAt), nullTime(sub.ChargingSince), sub.ChargeRef,
		sub.CancelAtPeriodEnd, nullTime(sub.CancellationRequestedAt), nullTime(sub.EndedAt),
		nullTime(sub.EndDate), sub.PaymentToken, changes, attempts,
		time.Now().UTC(), sub.ID.String())
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update subscription: %w", err)
	}
	if n == 0 {
		return carepay.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ClaimForCharge(ctx context.Context, subID id.SubscriptionID, from subscription.Status) (*subscription.Subscription, error) {
	if !subscription.CanTransition(from, subscription.StatusCharging) {
		return nil, carepay.ErrChargeInFlight
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: claim for charge: begin: %w", err)
	}
	defer tx.Rollback()

	t := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE carepay_subscriptions SET
			status = ?, charging_since = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(subscription.StatusCharging), t, t, subID.String(), string(from))
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: claim for charge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: claim for charge: %w", err)
	}
	if n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM carepay_subscriptions WHERE id = ?`,
			subID.String()).Scan(&count); err != nil {
			return nil, fmt.Errorf("carepay/sqlite: claim for charge: %w", err)
		}
		if count == 0 {
			return nil, carepay.ErrSubscriptionNotFound
		}
		return nil, carepay.ErrChargeInFlight
	}

	sub, err := getSubscription(ctx, tx, subID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("carepay/sqlite: claim for charge: commit: %w", err)
	}
	return sub, nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions
		WHERE (status = ? AND next_charge_date <= ?)
		   OR (status IN (?, ?) AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
		ORDER BY next_charge_date ASC`,
		string(subscription.StatusActive), now,
		string(subscription.StatusPastDue), string(subscription.StatusSuspended), now)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list due subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListStuckCharging(ctx context.Context, before time.Time) ([]*subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subColumns+`
		FROM carepay_subscriptions
		WHERE status = ? AND charging_since IS NOT NULL AND charging_since < ?`,
		string(subscription.StatusCharging), before)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list stuck charging: %w", err)
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
		WHERE ` + column + ` = ?`
	args := []any{value}

	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]*subscription.Subscription, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carepay_billing_records (`+billingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.OrderID, r.ContractID, subID, r.ClientID, r.CaregiverID,
		r.CycleNumber, r.PeriodStart, r.PeriodEnd, r.NextChargeDate,
		r.AmountPaid.Amount, r.OrderFee.Amount, r.ServiceCharge.Amount,
		r.GatewayFees.Amount, r.AmountPaid.Currency,
		r.GatewayRef, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/sqlite: create billing record: %w", err)
	}
	return nil
}

func scanBillingRecord(row rowScanner) (*billing.Record, error) {
	var (
		idStr, subID       string
		r                  billing.Record
		paid, fee, svc, gw int64
		currency           string
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
	row := s.db.QueryRowContext(ctx, `
		SELECT `+billingColumns+`
		FROM carepay_billing_records WHERE gateway_ref = ?`, gatewayRef)

	r, err := scanBillingRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get billing record: %w", err)
	}
	return r, nil
}

func (s *Store) ListBillingRecords(ctx context.Context, opts billing.ListOpts) ([]*billing.Record, error) {
	q := `SELECT ` + billingColumns + ` FROM carepay_billing_records WHERE 1=1`
	args := []any{}

	if opts.OrderID != "" {
		q += " AND order_id = ?"
		args = append(args, opts.OrderID)
	}
	if !opts.SubscriptionID.IsNil() {
		q += " AND subscription_id = ?"
		args = append(args, opts.SubscriptionID.String())
	}
	if opts.ClientID != "" {
		q += " AND client_id = ?"
		args = append(args, opts.ClientID)
	}
	if opts.CaregiverID != "" {
		q += " AND caregiver_id = ?"
		args = append(args, opts.CaregiverID)
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list billing records: %w", err)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carepay_withdrawals (`+withdrawalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.CaregiverID,
		r.AmountRequested.Amount, r.ServiceCharge.Amount, r.FinalAmount.Amount,
		r.AmountRequested.Currency,
		string(r.Status), r.VerifiedBy, nullTime(r.VerifiedAt),
		r.CompletedBy, nullTime(r.CompletedAt),
		r.RejectedBy, nullTime(r.RejectedAt), r.AdminNotes,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/sqlite: create withdrawal: %w", err)
	}
	return nil
}

func scanWithdrawal(row rowScanner) (*withdrawal.Request, error) {
	var (
		idStr, status           string
		r                       withdrawal.Request
		requested, svc, fin     int64
		currency                string
		verAt, compAt, rejAt    sql.NullTime
	)
	err := row.Scan(&idStr, &r.CaregiverID,
		&requested, &svc, &fin, &currency,
		&status, &r.VerifiedBy, &verAt, &r.CompletedBy, &compAt,
		&r.RejectedBy, &rejAt, &r.AdminNotes, &r.CreatedAt, &r.UpdatedAt)
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
	r.VerifiedAt = timePtr(verAt)
	r.CompletedAt = timePtr(compAt)
	r.RejectedAt = timePtr(rejAt)
	return &r, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM carepay_withdrawals WHERE id = ?`, wdID.String())

	r, err := scanWithdrawal(row)
	if err != nil {
		if isNoRows(err) {
			return nil, carepay.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("carepay/sqlite: get withdrawal: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE carepay_withdrawals SET
			status = ?, verified_by = ?, verified_at = ?,
			completed_by = ?, completed_at = ?,
			rejected_by = ?, rejected_at = ?, admin_notes = ?,
			updated_at = ?
		WHERE id = ?`,
		string(r.Status), r.VerifiedBy, nullTime(r.VerifiedAt),
		r.CompletedBy, nullTime(r.CompletedAt),
		r.RejectedBy, nullTime(r.RejectedAt), r.AdminNotes,
		time.Now().UTC(), r.ID.String())
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("carepay/sqlite: update withdrawal: %w", err)
	}
	if n == 0 {
		return carepay.ErrWithdrawalNotFound
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	q := `SELECT ` + withdrawalColumns + `
		FROM carepay_withdrawals
		WHERE caregiver_id = ?`
	args := []any{caregiverID}

	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("carepay/sqlite: list withdrawals: %w", err)
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

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// isNoRows checks if an error wraps sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation checks for a SQLite unique constraint violation.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
