package mongo

import (
	"time"

	"github.com/xolani/carepay/billing"
	"github.com/xolani/carepay/id"
	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	"github.com/xolani/carepay/subscription"
	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/wallet"
	"github.com/xolani/carepay/withdrawal"
)

// ==================== Wallet models ====================

type walletModel struct {
	ID          string `bson:"_id"`
	CaregiverID string `bson:"caregiver_id"`
	Currency    string `bson:"currency"`

	TotalEarnedKobo  int64 `bson:"total_earned_kobo"`
	WithdrawableKobo int64 `bson:"withdrawable_kobo"`
	PendingKobo      int64 `bson:"pending_kobo"`
	WithdrawnKobo    int64 `bson:"withdrawn_kobo"`
	DeductedKobo     int64 `bson:"deducted_kobo"`

	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toWalletModel(w *wallet.Wallet) *walletModel {
	return &walletModel{
		ID:               w.ID.String(),
		CaregiverID:      w.CaregiverID,
		Currency:         w.Currency,
		TotalEarnedKobo:  w.TotalEarned.Amount,
		WithdrawableKobo: w.Withdrawable.Amount,
		PendingKobo:      w.Pending.Amount,
		WithdrawnKobo:    w.Withdrawn.Amount,
		DeductedKobo:     w.Deducted.Amount,
		Version:          w.Version,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

func fromWalletModel(m *walletModel) (*wallet.Wallet, error) {
	wID, err := id.ParseWalletID(m.ID)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           wID,
		CaregiverID:  m.CaregiverID,
		Currency:     m.Currency,
		TotalEarned:  types.Money{Amount: m.TotalEarnedKobo, Currency: m.Currency},
		Withdrawable: types.Money{Amount: m.WithdrawableKobo, Currency: m.Currency},
		Pending:      types.Money{Amount: m.PendingKobo, Currency: m.Currency},
		Withdrawn:    types.Money{Amount: m.WithdrawnKobo, Currency: m.Currency},
		Deducted:     types.Money{Amount: m.DeductedKobo, Currency: m.Currency},
		Version:      m.Version,
	}, nil
}

// ==================== Ledger entry models ====================

type entryModel struct {
	ID          string `bson:"_id"`
	CaregiverID string `bson:"caregiver_id"`
	Type        string `bson:"type"`

	AmountKobo     int64  `bson:"amount_kobo"`
	AmountCurrency string `bson:"amount_currency"`

	OrderID        string `bson:"order_id,omitempty"`
	ContractID     string `bson:"contract_id,omitempty"`
	SubscriptionID string `bson:"subscription_id,omitempty"`
	BillingCycle   int    `bson:"billing_cycle,omitempty"`
	GatewayRef     string `bson:"gateway_ref,omitempty"`
	Description    string `bson:"description,omitempty"`
	ReleaseReason  string `bson:"release_reason,omitempty"`

	BalanceAfterKobo int64     `bson:"balance_after_kobo"`
	CreatedAt        time.Time `bson:"created_at"`
}

func toEntryModel(e *ledger.Entry) *entryModel {
	m := &entryModel{
		ID:               e.ID.String(),
		CaregiverID:      e.CaregiverID,
		Type:             string(e.Type),
		AmountKobo:       e.Amount.Amount,
		AmountCurrency:   e.Amount.Currency,
		OrderID:          e.OrderID,
		ContractID:       e.ContractID,
		BillingCycle:     e.BillingCycle,
		GatewayRef:       e.GatewayRef,
		Description:      e.Description,
		ReleaseReason:    string(e.ReleaseReason),
		BalanceAfterKobo: e.BalanceAfter.Amount,
		CreatedAt:        e.CreatedAt,
	}
	if !e.SubscriptionID.IsNil() {
		m.SubscriptionID = e.SubscriptionID.String()
	}
	return m
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	eID, err := id.ParseLedgerEntryID(m.ID)
	if err != nil {
		return nil, err
	}

	e := &ledger.Entry{
		ID:            eID,
		CaregiverID:   m.CaregiverID,
		Type:          ledger.Type(m.Type),
		Amount:        types.Money{Amount: m.AmountKobo, Currency: m.AmountCurrency},
		OrderID:       m.OrderID,
		ContractID:    m.ContractID,
		BillingCycle:  m.BillingCycle,
		GatewayRef:    m.GatewayRef,
		Description:   m.Description,
		ReleaseReason: ledger.ReleaseReason(m.ReleaseReason),
		BalanceAfter:  types.Money{Amount: m.BalanceAfterKobo, Currency: m.AmountCurrency},
		CreatedAt:     m.CreatedAt,
	}
	if m.SubscriptionID != "" {
		subID, err := id.ParseSubscriptionID(m.SubscriptionID)
		if err != nil {
			return nil, err
		}
		e.SubscriptionID = subID
	}
	return e, nil
}

// ==================== Release hold models ====================

type holdModel struct {
	OrderID     string `bson:"_id"`
	CaregiverID string `bson:"caregiver_id"`

	AmountKobo     int64  `bson:"amount_kobo"`
	AmountCurrency string `bson:"amount_currency"`

	HeldAt       time.Time `bson:"held_at"`
	ReleaseAfter time.Time `bson:"release_after"`
	Disputed     bool      `bson:"disputed"`
	Released     bool      `bson:"released"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toHoldModel(h *release.Hold) *holdModel {
	return &holdModel{
		OrderID:        h.OrderID,
		CaregiverID:    h.CaregiverID,
		AmountKobo:     h.Amount.Amount,
		AmountCurrency: h.Amount.Currency,
		HeldAt:         h.HeldAt,
		ReleaseAfter:   h.ReleaseAfter,
		Disputed:       h.Disputed,
		Released:       h.Released,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}
}

func fromHoldModel(m *holdModel) *release.Hold {
	return &release.Hold{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		OrderID:      m.OrderID,
		CaregiverID:  m.CaregiverID,
		Amount:       types.Money{Amount: m.AmountKobo, Currency: m.AmountCurrency},
		HeldAt:       m.HeldAt,
		ReleaseAfter: m.ReleaseAfter,
		Disputed:     m.Disputed,
		Released:     m.Released,
	}
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	ID          string `bson:"_id"`
	ClientID    string `bson:"client_id"`
	CaregiverID string `bson:"caregiver_id"`
	OrderID     string `bson:"order_id,omitempty"`
	ContractID  string `bson:"contract_id,omitempty"`

	BillingCycle     string `bson:"billing_cycle"`
	FrequencyPerWeek int    `bson:"frequency_per_week"`

	RecurringAmountKobo int64  `bson:"recurring_amount_kobo"`
	OrderFeeKobo        int64  `bson:"order_fee_kobo"`
	ServiceChargeKobo   int64  `bson:"service_charge_kobo"`
	GatewayFeesKobo     int64  `bson:"gateway_fees_kobo"`
	Currency            string `bson:"currency"`

	EndDate *time.Time `bson:"end_date,omitempty"`

	Status               string    `bson:"status"`
	CurrentPeriodStart   time.Time `bson:"current_period_start"`
	CurrentPeriodEnd     time.Time `bson:"current_period_end"`
	NextChargeDate       time.Time `bson:"next_charge_date"`
	BillingCyclesDone    int       `bson:"billing_cycles_completed"`
	FailedChargeAttempts int       `bson:"failed_charge_attempts"`
	MaxRetryAttempts     int       `bson:"max_retry_attempts"`

	NextRetryAt   *time.Time `bson:"next_retry_at,omitempty"`
	ChargingSince *time.Time `bson:"charging_since,omitempty"`
	ChargeRef     string     `bson:"charge_ref,omitempty"`

	CancelAtPeriodEnd       bool       `bson:"cancel_at_period_end"`
	CancellationRequestedAt *time.Time `bson:"cancellation_requested_at,omitempty"`
	EndedAt                 *time.Time `bson:"ended_at,omitempty"`

	PaymentToken string `bson:"payment_token,omitempty"`

	PlanChanges     []planChangeModel    `bson:"plan_changes,omitempty"`
	PaymentAttempts []paymentAttemptModel `bson:"payment_attempts,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type planChangeModel struct {
	RequestedAt  time.Time  `bson:"requested_at"`
	AmountKobo   int64      `bson:"amount_kobo"`
	Currency     string     `bson:"currency"`
	NewFrequency int        `bson:"new_frequency_per_week"`
	AppliedAt    *time.Time `bson:"applied_at,omitempty"`
}

type paymentAttemptModel struct {
	ID         string    `bson:"id"`
	Reference  string    `bson:"reference"`
	AmountKobo int64     `bson:"amount_kobo"`
	Currency   string    `bson:"currency"`
	At         time.Time `bson:"at"`
	Succeeded  bool      `bson:"succeeded"`
	Error      string    `bson:"error,omitempty"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	changes := make([]planChangeModel, len(s.PlanChanges))
	for i, pc := range s.PlanChanges {
		changes[i] = planChangeModel{
			RequestedAt:  pc.RequestedAt,
			AmountKobo:   pc.NewAmount.Amount,
			Currency:     pc.NewAmount.Currency,
			NewFrequency: pc.NewFrequency,
			AppliedAt:    pc.AppliedAt,
		}
	}

	attempts := make([]paymentAttemptModel, len(s.PaymentAttempts))
	for i, pa := range s.PaymentAttempts {
		attempts[i] = paymentAttemptModel{
			ID:         pa.ID.String(),
			Reference:  pa.Reference,
			AmountKobo: pa.Amount.Amount,
			Currency:   pa.Amount.Currency,
			At:         pa.At,
			Succeeded:  pa.Succeeded,
			Error:      pa.Error,
		}
	}

	return &subscriptionModel{
		ID:                      s.ID.String(),
		ClientID:                s.ClientID,
		CaregiverID:             s.CaregiverID,
		OrderID:                 s.OrderID,
		ContractID:              s.ContractID,
		BillingCycle:            string(s.BillingCycle),
		FrequencyPerWeek:        s.FrequencyPerWeek,
		RecurringAmountKobo:     s.RecurringAmount.Amount,
		OrderFeeKobo:            s.OrderFee.Amount,
		ServiceChargeKobo:       s.ServiceCharge.Amount,
		GatewayFeesKobo:         s.GatewayFees.Amount,
		Currency:                s.RecurringAmount.Currency,
		EndDate:                 s.EndDate,
		Status:                  string(s.Status),
		CurrentPeriodStart:      s.CurrentPeriodStart,
		CurrentPeriodEnd:        s.CurrentPeriodEnd,
		NextChargeDate:          s.NextChargeDate,
		BillingCyclesDone:       s.BillingCyclesDone,
		FailedChargeAttempts:    s.FailedChargeAttempts,
		MaxRetryAttempts:        s.MaxRetryAttempts,
		NextRetryAt:             s.NextRetryAt,
		ChargingSince:           s.ChargingSince,
		ChargeRef:               s.ChargeRef,
		CancelAtPeriodEnd:       s.CancelAtPeriodEnd,
		CancellationRequestedAt: s.CancellationRequestedAt,
		EndedAt:                 s.EndedAt,
		PaymentToken:            s.PaymentToken,
		PlanChanges:             changes,
		PaymentAttempts:         attempts,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	changes := make([]subscription.PlanChange, len(m.PlanChanges))
	for i, pc := range m.PlanChanges {
		changes[i] = subscription.PlanChange{
			RequestedAt:  pc.RequestedAt,
			NewAmount:    types.Money{Amount: pc.AmountKobo, Currency: pc.Currency},
			NewFrequency: pc.NewFrequency,
			AppliedAt:    pc.AppliedAt,
		}
	}

	attempts := make([]subscription.PaymentAttempt, len(m.PaymentAttempts))
	for i, pa := range m.PaymentAttempts {
		paID, err := id.ParsePaymentAttemptID(pa.ID)
		if err != nil {
			return nil, err
		}
		attempts[i] = subscription.PaymentAttempt{
			ID:        paID,
			Reference: pa.Reference,
			Amount:    types.Money{Amount: pa.AmountKobo, Currency: pa.Currency},
			At:        pa.At,
			Succeeded: pa.Succeeded,
			Error:     pa.Error,
		}
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                      subID,
		ClientID:                m.ClientID,
		CaregiverID:             m.CaregiverID,
		OrderID:                 m.OrderID,
		ContractID:              m.ContractID,
		BillingCycle:            subscription.Cycle(m.BillingCycle),
		FrequencyPerWeek:        m.FrequencyPerWeek,
		RecurringAmount:         types.Money{Amount: m.RecurringAmountKobo, Currency: m.Currency},
		OrderFee:                types.Money{Amount: m.OrderFeeKobo, Currency: m.Currency},
		ServiceCharge:           types.Money{Amount: m.ServiceChargeKobo, Currency: m.Currency},
		GatewayFees:             types.Money{Amount: m.GatewayFeesKobo, Currency: m.Currency},
		EndDate:                 m.EndDate,
		Status:                  subscription.Status(m.Status),
		CurrentPeriodStart:      m.CurrentPeriodStart,
		CurrentPeriodEnd:        m.CurrentPeriodEnd,
		NextChargeDate:          m.NextChargeDate,
		BillingCyclesDone:       m.BillingCyclesDone,
		FailedChargeAttempts:    m.FailedChargeAttempts,
		MaxRetryAttempts:        m.MaxRetryAttempts,
		NextRetryAt:             m.NextRetryAt,
		ChargingSince:           m.ChargingSince,
		ChargeRef:               m.ChargeRef,
		CancelAtPeriodEnd:       m.CancelAtPeriodEnd,
		CancellationRequestedAt: m.CancellationRequestedAt,
		EndedAt:                 m.EndedAt,
		PaymentToken:            m.PaymentToken,
		PlanChanges:             changes,
		PaymentAttempts:         attempts,
	}, nil
}

// ==================== Billing record models ====================

type billingRecordModel struct {
	ID             string `bson:"_id"`
	OrderID        string `bson:"order_id,omitempty"`
	ContractID     string `bson:"contract_id,omitempty"`
	SubscriptionID string `bson:"subscription_id,omitempty"`
	ClientID       string `bson:"client_id"`
	CaregiverID    string `bson:"caregiver_id"`
	CycleNumber    int    `bson:"cycle_number"`

	PeriodStart    time.Time `bson:"period_start"`
	PeriodEnd      time.Time `bson:"period_end"`
	NextChargeDate time.Time `bson:"next_charge_date"`

	AmountPaidKobo    int64  `bson:"amount_paid_kobo"`
	OrderFeeKobo      int64  `bson:"order_fee_kobo"`
	ServiceChargeKobo int64  `bson:"service_charge_kobo"`
	GatewayFeesKobo   int64  `bson:"gateway_fees_kobo"`
	Currency          string `bson:"currency"`

	GatewayRef string    `bson:"gateway_ref"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toBillingRecordModel(r *billing.Record) *billingRecordModel {
	m := &billingRecordModel{
		ID:                r.ID.String(),
		OrderID:           r.OrderID,
		ContractID:        r.ContractID,
		ClientID:          r.ClientID,
		CaregiverID:       r.CaregiverID,
		CycleNumber:       r.CycleNumber,
		PeriodStart:       r.PeriodStart,
		PeriodEnd:         r.PeriodEnd,
		NextChargeDate:    r.NextChargeDate,
		AmountPaidKobo:    r.AmountPaid.Amount,
		OrderFeeKobo:      r.OrderFee.Amount,
		ServiceChargeKobo: r.ServiceCharge.Amount,
		GatewayFeesKobo:   r.GatewayFees.Amount,
		Currency:          r.AmountPaid.Currency,
		GatewayRef:        r.GatewayRef,
		CreatedAt:         r.CreatedAt,
	}
	if !r.SubscriptionID.IsNil() {
		m.SubscriptionID = r.SubscriptionID.String()
	}
	return m
}

func fromBillingRecordModel(m *billingRecordModel) (*billing.Record, error) {
	rID, err := id.ParseBillingRecordID(m.ID)
	if err != nil {
		return nil, err
	}

	r := &billing.Record{
		ID:             rID,
		OrderID:        m.OrderID,
		ContractID:     m.ContractID,
		ClientID:       m.ClientID,
		CaregiverID:    m.CaregiverID,
		CycleNumber:    m.CycleNumber,
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		NextChargeDate: m.NextChargeDate,
		AmountPaid:     types.Money{Amount: m.AmountPaidKobo, Currency: m.Currency},
		OrderFee:       types.Money{Amount: m.OrderFeeKobo, Currency: m.Currency},
		ServiceCharge:  types.Money{Amount: m.ServiceChargeKobo, Currency: m.Currency},
		GatewayFees:    types.Money{Amount: m.GatewayFeesKobo, Currency: m.Currency},
		GatewayRef:     m.GatewayRef,
		CreatedAt:      m.CreatedAt,
	}
	if m.SubscriptionID != "" {
		subID, err := id.ParseSubscriptionID(m.SubscriptionID)
		if err != nil {
			return nil, err
		}
		r.SubscriptionID = subID
	}
	return r, nil
}

// ==================== Withdrawal models ====================

type withdrawalModel struct {
	ID          string `bson:"_id"`
	CaregiverID string `bson:"caregiver_id"`

	AmountRequestedKobo int64  `bson:"amount_requested_kobo"`
	ServiceChargeKobo   int64  `bson:"service_charge_kobo"`
	FinalAmountKobo     int64  `bson:"final_amount_kobo"`
	Currency            string `bson:"currency"`

	Status string `bson:"status"`

	VerifiedBy  string     `bson:"verified_by,omitempty"`
	VerifiedAt  *time.Time `bson:"verified_at,omitempty"`
	CompletedBy string     `bson:"completed_by,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	RejectedBy  string     `bson:"rejected_by,omitempty"`
	RejectedAt  *time.Time `bson:"rejected_at,omitempty"`
	AdminNotes  string     `bson:"admin_notes,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toWithdrawalModel(r *withdrawal.Request) *withdrawalModel {
	return &withdrawalModel{
		ID:                  r.ID.String(),
		CaregiverID:         r.CaregiverID,
		AmountRequestedKobo: r.AmountRequested.Amount,
		ServiceChargeKobo:   r.ServiceCharge.Amount,
		FinalAmountKobo:     r.FinalAmount.Amount,
		Currency:            r.AmountRequested.Currency,
		Status:              string(r.Status),
		VerifiedBy:          r.VerifiedBy,
		VerifiedAt:          r.VerifiedAt,
		CompletedBy:         r.CompletedBy,
		CompletedAt:         r.CompletedAt,
		RejectedBy:          r.RejectedBy,
		RejectedAt:          r.RejectedAt,
		AdminNotes:          r.AdminNotes,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func fromWithdrawalModel(m *withdrawalModel) (*withdrawal.Request, error) {
	wdID, err := id.ParseWithdrawalID(m.ID)
	if err != nil {
		return nil, err
	}
	return &withdrawal.Request{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              wdID,
		CaregiverID:     m.CaregiverID,
		AmountRequested: types.Money{Amount: m.AmountRequestedKobo, Currency: m.Currency},
		ServiceCharge:   types.Money{Amount: m.ServiceChargeKobo, Currency: m.Currency},
		FinalAmount:     types.Money{Amount: m.FinalAmountKobo, Currency: m.Currency},
		Status:          withdrawal.Status(m.Status),
		VerifiedBy:      m.VerifiedBy,
		VerifiedAt:      m.VerifiedAt,
		CompletedBy:     m.CompletedBy,
		CompletedAt:     m.CompletedAt,
		RejectedBy:      m.RejectedBy,
		RejectedAt:      m.RejectedAt,
		AdminNotes:      m.AdminNotes,
	}, nil
}
