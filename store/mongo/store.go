// Package mongo implements store.Store on MongoDB. ApplyEntry and
// ClaimForCharge rely on a replica set: the first for multi-document
// transactions, the second for atomic conditional updates.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

// Collection name constants.
const (
	colWallets       = "carepay_wallets"
	colEntries       = "carepay_ledger_entries"
	colHolds         = "carepay_release_holds"
	colSubscriptions = "carepay_subscriptions"
	colBilling       = "carepay_billing_records"
	colWithdrawals   = "carepay_withdrawals"
)

// compile-time interface check
var _ carepaystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a new MongoDB store on the given database.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all carepay collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("carepay/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Wallet Store ====================

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	m := toWalletModel(w)
	_, err := s.db.Collection(colWallets).InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/mongo: create wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, caregiverID string) (*wallet.Wallet, error) {
	var m walletModel
	err := s.db.Collection(colWallets).
		FindOne(ctx, bson.M{"caregiver_id": caregiverID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrWalletNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get wallet: %w", err)
	}
	return fromWalletModel(&m)
}

func (s *Store) UpdateWallet(ctx context.Context, w *wallet.Wallet, expectedVersion int64) error {
	return s.updateWallet(ctx, s.db.Collection(colWallets), w, expectedVersion)
}

// updateWallet performs the version-guarded wallet write. The version in the
// filter is what turns a lost race into wallet.ErrVersionConflict instead of
// a silent overwrite.
func (s *Store) updateWallet(ctx context.Context, col *mongo.Collection, w *wallet.Wallet, expectedVersion int64) error {
	res, err := col.UpdateOne(ctx,
		bson.M{"caregiver_id": w.CaregiverID, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"total_earned_kobo": w.TotalEarned.Amount,
			"withdrawable_kobo": w.Withdrawable.Amount,
			"pending_kobo":      w.Pending.Amount,
			"withdrawn_kobo":    w.Withdrawn.Amount,
			"deducted_kobo":     w.Deducted.Amount,
			"version":           expectedVersion + 1,
			"updated_at":        now(),
		}})
	if err != nil {
		return fmt.Errorf("carepay/mongo: update wallet: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := col.CountDocuments(ctx, bson.M{"caregiver_id": w.CaregiverID})
		if err != nil {
			return fmt.Errorf("carepay/mongo: update wallet: %w", err)
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

func (s *Store) ApplyEntry(ctx context.Context, e *ledger.Entry, w *wallet.Wallet, expectedVersion int64) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("carepay/mongo: apply entry: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		if _, err := s.db.Collection(colEntries).InsertOne(ctx, toEntryModel(e)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, carepay.ErrDuplicateTransaction
			}
			return nil, fmt.Errorf("carepay/mongo: apply entry: insert: %w", err)
		}
		if err := s.updateWallet(ctx, s.db.Collection(colWallets), w, expectedVersion); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (s *Store) ListEntries(ctx context.Context, caregiverID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colEntries).
		Find(ctx, bson.M{"caregiver_id": caregiverID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: list entries: %w", err)
	}
	return decodeEntries(ctx, cursor)
}

func (s *Store) ReplayEntries(ctx context.Context, caregiverID string) ([]*ledger.Entry, error) {
	cursor, err := s.db.Collection(colEntries).
		Find(ctx, bson.M{"caregiver_id": caregiverID},
			options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: replay entries: %w", err)
	}
	return decodeEntries(ctx, cursor)
}

func decodeEntries(ctx context.Context, cursor *mongo.Cursor) ([]*ledger.Entry, error) {
	defer cursor.Close(ctx)

	result := make([]*ledger.Entry, 0)
	for cursor.Next(ctx) {
		var m entryModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("carepay/mongo: decode entry: %w", err)
		}
		e, err := fromEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, cursor.Err()
}

func (s *Store) GetEntryByGatewayRef(ctx context.Context, ref string) (*ledger.Entry, error) {
	var m entryModel
	err := s.db.Collection(colEntries).
		FindOne(ctx, bson.M{"gateway_ref": ref}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get entry by ref: %w", err)
	}
	return fromEntryModel(&m)
}

// ==================== Release hold Store ====================

func (s *Store) CreateHold(ctx context.Context, h *release.Hold) error {
	_, err := s.db.Collection(colHolds).InsertOne(ctx, toHoldModel(h))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/mongo: create hold: %w", err)
	}
	return nil
}

func (s *Store) GetHold(ctx context.Context, orderID string) (*release.Hold, error) {
	var m holdModel
	err := s.db.Collection(colHolds).
		FindOne(ctx, bson.M{"_id": orderID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrHoldNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get hold: %w", err)
	}
	return fromHoldModel(&m), nil
}

func (s *Store) UpdateHold(ctx context.Context, h *release.Hold) error {
	m := toHoldModel(h)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colHolds).ReplaceOne(ctx, bson.M{"_id": m.OrderID}, m)
	if err != nil {
		return fmt.Errorf("carepay/mongo: update hold: %w", err)
	}
	if res.MatchedCount == 0 {
		return carepay.ErrHoldNotFound
	}
	return nil
}

func (s *Store) ListDueHolds(ctx context.Context, now time.Time) ([]*release.Hold, error) {
	cursor, err := s.db.Collection(colHolds).Find(ctx, bson.M{
		"released":      false,
		"disputed":      false,
		"release_after": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: list due holds: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*release.Hold, 0)
	for cursor.Next(ctx) {
		var m holdModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("carepay/mongo: decode hold: %w", err)
		}
		result = append(result, fromHoldModel(&m))
	}
	return result, cursor.Err()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db.Collection(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).
		FindOne(ctx, bson.M{"_id": subID.String()}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colSubscriptions).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("carepay/mongo: update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return carepay.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ClaimForCharge(ctx context.Context, subID id.SubscriptionID, from subscription.Status) (*subscription.Subscription, error) {
	if !subscription.CanTransition(from, subscription.StatusCharging) {
		return nil, carepay.ErrChargeInFlight
	}

	t := now()
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).
		FindOneAndUpdate(ctx,
			bson.M{"_id": subID.String(), "status": string(from)},
			bson.M{"$set": bson.M{
				"status":         string(subscription.StatusCharging),
				"charging_since": t,
				"updated_at":     t,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			n, cErr := s.db.Collection(colSubscriptions).
				CountDocuments(ctx, bson.M{"_id": subID.String()})
			if cErr != nil {
				return nil, fmt.Errorf("carepay/mongo: claim for charge: %w", cErr)
			}
			if n == 0 {
				return nil, carepay.ErrSubscriptionNotFound
			}
			return nil, carepay.ErrChargeInFlight
		}
		return nil, fmt.Errorf("carepay/mongo: claim for charge: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":           string(subscription.StatusActive),
			"next_charge_date": bson.M{"$lte": now},
		},
		bson.M{
			"status": bson.M{"$in": bson.A{
				string(subscription.StatusPastDue),
				string(subscription.StatusSuspended),
			}},
			"next_retry_at": bson.M{"$lte": now},
		},
	}}
	return s.findSubscriptions(ctx, filter, nil)
}

func (s *Store) ListStuckCharging(ctx context.Context, before time.Time) ([]*subscription.Subscription, error) {
	filter := bson.M{
		"status":         string(subscription.StatusCharging),
		"charging_since": bson.M{"$lt": before},
	}
	return s.findSubscriptions(ctx, filter, nil)
}

func (s *Store) ListSubscriptionsByClient(ctx context.Context, clientID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{"client_id": clientID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return s.findSubscriptions(ctx, filter, &opts)
}

func (s *Store) ListSubscriptionsByCaregiver(ctx context.Context, caregiverID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{"caregiver_id": caregiverID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return s.findSubscriptions(ctx, filter, &opts)
}

func (s *Store) findSubscriptions(ctx context.Context, filter bson.M, opts *subscription.ListOpts) ([]*subscription.Subscription, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts != nil {
		if opts.Limit > 0 {
			findOpts = findOpts.SetLimit(int64(opts.Limit))
		}
		if opts.Offset > 0 {
			findOpts = findOpts.SetSkip(int64(opts.Offset))
		}
	}

	cursor, err := s.db.Collection(colSubscriptions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: list subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*subscription.Subscription, 0)
	for cursor.Next(ctx) {
		var m subscriptionModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("carepay/mongo: decode subscription: %w", err)
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, cursor.Err()
}

// ==================== Billing record Store ====================

func (s *Store) CreateBillingRecord(ctx context.Context, r *billing.Record) error {
	_, err := s.db.Collection(colBilling).InsertOne(ctx, toBillingRecordModel(r))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/mongo: create billing record: %w", err)
	}
	return nil
}

func (s *Store) GetBillingRecordByRef(ctx context.Context, gatewayRef string) (*billing.Record, error) {
	var m billingRecordModel
	err := s.db.Collection(colBilling).
		FindOne(ctx, bson.M{"gateway_ref": gatewayRef}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get billing record: %w", err)
	}
	return fromBillingRecordModel(&m)
}

func (s *Store) ListBillingRecords(ctx context.Context, opts billing.ListOpts) ([]*billing.Record, error) {
	filter := bson.M{}
	if opts.OrderID != "" {
		filter["order_id"] = opts.OrderID
	}
	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.ClientID != "" {
		filter["client_id"] = opts.ClientID
	}
	if opts.CaregiverID != "" {
		filter["caregiver_id"] = opts.CaregiverID
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colBilling).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: list billing records: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*billing.Record, 0)
	for cursor.Next(ctx) {
		var m billingRecordModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("carepay/mongo: decode billing record: %w", err)
		}
		r, err := fromBillingRecordModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, cursor.Err()
}

// ==================== Withdrawal Store ====================

func (s *Store) CreateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	_, err := s.db.Collection(colWithdrawals).InsertOne(ctx, toWithdrawalModel(r))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return carepay.ErrAlreadyExists
		}
		return fmt.Errorf("carepay/mongo: create withdrawal: %w", err)
	}
	return nil
}

func (s *Store) GetWithdrawal(ctx context.Context, wdID id.WithdrawalID) (*withdrawal.Request, error) {
	var m withdrawalModel
	err := s.db.Collection(colWithdrawals).
		FindOne(ctx, bson.M{"_id": wdID.String()}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, carepay.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("carepay/mongo: get withdrawal: %w", err)
	}
	return fromWithdrawalModel(&m)
}

func (s *Store) UpdateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	m := toWithdrawalModel(r)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colWithdrawals).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("carepay/mongo: update withdrawal: %w", err)
	}
	if res.MatchedCount == 0 {
		return carepay.ErrWithdrawalNotFound
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context, caregiverID string, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	filter := bson.M{"caregiver_id": caregiverID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colWithdrawals).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("carepay/mongo: list withdrawals: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*withdrawal.Request, 0)
	for cursor.Next(ctx) {
		var m withdrawalModel
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("carepay/mongo: decode withdrawal: %w", err)
		}
		r, err := fromWithdrawalModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, cursor.Err()
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all carepay collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colWallets: {
			{
				Keys:    bson.D{{Key: "caregiver_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colEntries: {
			{Keys: bson.D{{Key: "caregiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys:    bson.D{{Key: "gateway_ref", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
		},
		colHolds: {
			{Keys: bson.D{{Key: "released", Value: 1}, {Key: "disputed", Value: 1}, {Key: "release_after", Value: 1}}},
			{Keys: bson.D{{Key: "caregiver_id", Value: 1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_charge_date", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}}},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "caregiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colBilling: {
			{
				Keys:    bson.D{{Key: "gateway_ref", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "cycle_number", Value: 1}}},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "caregiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colWithdrawals: {
			{Keys: bson.D{{Key: "caregiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}
}
