package sqlite

// migrations are applied in order inside a single transaction. Statements
// are idempotent so Migrate can run on every start.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS carepay_wallets (
    id                TEXT PRIMARY KEY,
    caregiver_id      TEXT NOT NULL,
    currency          TEXT NOT NULL DEFAULT 'ngn',
    total_earned_kobo INTEGER NOT NULL DEFAULT 0,
    withdrawable_kobo INTEGER NOT NULL DEFAULT 0,
    pending_kobo      INTEGER NOT NULL DEFAULT 0,
    withdrawn_kobo    INTEGER NOT NULL DEFAULT 0,
    deducted_kobo     INTEGER NOT NULL DEFAULT 0,
    version           INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_wallets_caregiver ON carepay_wallets (caregiver_id);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_ledger_entries (
    id                 TEXT PRIMARY KEY,
    caregiver_id       TEXT NOT NULL,
    type               TEXT NOT NULL,
    amount_kobo        INTEGER NOT NULL,
    amount_currency    TEXT NOT NULL DEFAULT 'ngn',
    order_id           TEXT NOT NULL DEFAULT '',
    contract_id        TEXT NOT NULL DEFAULT '',
    subscription_id    TEXT NOT NULL DEFAULT '',
    billing_cycle      INTEGER NOT NULL DEFAULT 0,
    gateway_ref        TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    release_reason     TEXT NOT NULL DEFAULT '',
    balance_after_kobo INTEGER NOT NULL DEFAULT 0,
    created_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carepay_entries_caregiver ON carepay_ledger_entries (caregiver_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_entries_gateway_ref ON carepay_ledger_entries (gateway_ref) WHERE gateway_ref <> '';
`,
	`
CREATE TABLE IF NOT EXISTS carepay_release_holds (
    order_id        TEXT PRIMARY KEY,
    caregiver_id    TEXT NOT NULL,
    amount_kobo     INTEGER NOT NULL,
    amount_currency TEXT NOT NULL DEFAULT 'ngn',
    held_at         TIMESTAMP NOT NULL,
    release_after   TIMESTAMP NOT NULL,
    disputed        INTEGER NOT NULL DEFAULT 0,
    released        INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carepay_holds_due ON carepay_release_holds (release_after) WHERE released = 0 AND disputed = 0;
`,
	`
CREATE TABLE IF NOT EXISTS carepay_subscriptions (
    id                        TEXT PRIMARY KEY,
    client_id                 TEXT NOT NULL,
    caregiver_id              TEXT NOT NULL,
    order_id                  TEXT NOT NULL DEFAULT '',
    contract_id               TEXT NOT NULL DEFAULT '',
    billing_cycle             TEXT NOT NULL DEFAULT 'monthly',
    frequency_per_week        INTEGER NOT NULL DEFAULT 0,
    recurring_amount_kobo     INTEGER NOT NULL,
    order_fee_kobo            INTEGER NOT NULL DEFAULT 0,
    service_charge_kobo       INTEGER NOT NULL DEFAULT 0,
    gateway_fees_kobo         INTEGER NOT NULL DEFAULT 0,
    currency                  TEXT NOT NULL DEFAULT 'ngn',
    status                    TEXT NOT NULL DEFAULT 'active',
    current_period_start      TIMESTAMP NOT NULL,
    current_period_end        TIMESTAMP NOT NULL,
    next_charge_date          TIMESTAMP NOT NULL,
    billing_cycles_completed  INTEGER NOT NULL DEFAULT 0,
    failed_charge_attempts    INTEGER NOT NULL DEFAULT 0,
    max_retry_attempts        INTEGER NOT NULL DEFAULT 3,
    next_retry_at             TIMESTAMP,
    charging_since            TIMESTAMP,
    charge_ref                TEXT NOT NULL DEFAULT '',
    cancel_at_period_end      INTEGER NOT NULL DEFAULT 0,
    cancellation_requested_at TIMESTAMP,
    ended_at                  TIMESTAMP,
    end_date                  TIMESTAMP,
    payment_token             TEXT NOT NULL DEFAULT '',
    plan_changes              TEXT NOT NULL DEFAULT '[]',
    payment_attempts          TEXT NOT NULL DEFAULT '[]',
    created_at                TIMESTAMP NOT NULL,
    updated_at                TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carepay_subs_due ON carepay_subscriptions (status, next_charge_date);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_retry ON carepay_subscriptions (status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_client ON carepay_subscriptions (client_id);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_caregiver ON carepay_subscriptions (caregiver_id);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_billing_records (
    id                  TEXT PRIMARY KEY,
    order_id            TEXT NOT NULL DEFAULT '',
    contract_id         TEXT NOT NULL DEFAULT '',
    subscription_id     TEXT NOT NULL DEFAULT '',
    client_id           TEXT NOT NULL,
    caregiver_id        TEXT NOT NULL,
    cycle_number        INTEGER NOT NULL DEFAULT 0,
    period_start        TIMESTAMP NOT NULL,
    period_end          TIMESTAMP NOT NULL,
    next_charge_date    TIMESTAMP NOT NULL,
    amount_paid_kobo    INTEGER NOT NULL,
    order_fee_kobo      INTEGER NOT NULL DEFAULT 0,
    service_charge_kobo INTEGER NOT NULL DEFAULT 0,
    gateway_fees_kobo   INTEGER NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'ngn',
    gateway_ref         TEXT NOT NULL,
    created_at          TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_billing_gateway_ref ON carepay_billing_records (gateway_ref);
CREATE INDEX IF NOT EXISTS idx_carepay_billing_subscription ON carepay_billing_records (subscription_id, cycle_number);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_withdrawals (
    id                    TEXT PRIMARY KEY,
    caregiver_id          TEXT NOT NULL,
    amount_requested_kobo INTEGER NOT NULL,
    service_charge_kobo   INTEGER NOT NULL DEFAULT 0,
    final_amount_kobo     INTEGER NOT NULL,
    currency              TEXT NOT NULL DEFAULT 'ngn',
    status                TEXT NOT NULL DEFAULT 'pending',
    verified_by           TEXT NOT NULL DEFAULT '',
    verified_at           TIMESTAMP,
    completed_by          TEXT NOT NULL DEFAULT '',
    completed_at          TIMESTAMP,
    rejected_by           TEXT NOT NULL DEFAULT '',
    rejected_at           TIMESTAMP,
    admin_notes           TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMP NOT NULL,
    updated_at            TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carepay_withdrawals_caregiver ON carepay_withdrawals (caregiver_id, created_at DESC);
`,
}
