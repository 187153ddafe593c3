package postgres

// migrations are applied in order inside a single transaction. Every
// statement is idempotent so re-running Migrate on an up-to-date schema is a
// no-op.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS carepay_wallets (
    id                TEXT PRIMARY KEY,
    caregiver_id      TEXT NOT NULL,
    currency          TEXT NOT NULL DEFAULT 'ngn',
    total_earned_kobo BIGINT NOT NULL DEFAULT 0,
    withdrawable_kobo BIGINT NOT NULL DEFAULT 0,
    pending_kobo      BIGINT NOT NULL DEFAULT 0,
    withdrawn_kobo    BIGINT NOT NULL DEFAULT 0,
    deducted_kobo     BIGINT NOT NULL DEFAULT 0,
    version           BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_wallets_caregiver ON carepay_wallets (caregiver_id);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_ledger_entries (
    id                 TEXT PRIMARY KEY,
    caregiver_id       TEXT NOT NULL,
    type               TEXT NOT NULL,
    amount_kobo        BIGINT NOT NULL,
    amount_currency    TEXT NOT NULL DEFAULT 'ngn',
    order_id           TEXT NOT NULL DEFAULT '',
    contract_id        TEXT NOT NULL DEFAULT '',
    subscription_id    TEXT NOT NULL DEFAULT '',
    billing_cycle      INT NOT NULL DEFAULT 0,
    gateway_ref        TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    release_reason     TEXT NOT NULL DEFAULT '',
    balance_after_kobo BIGINT NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_carepay_entries_caregiver ON carepay_ledger_entries (caregiver_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_carepay_entries_subscription ON carepay_ledger_entries (subscription_id) WHERE subscription_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_entries_gateway_ref ON carepay_ledger_entries (gateway_ref) WHERE gateway_ref <> '';
`,
	`
CREATE TABLE IF NOT EXISTS carepay_release_holds (
    order_id        TEXT PRIMARY KEY,
    caregiver_id    TEXT NOT NULL,
    amount_kobo     BIGINT NOT NULL,
    amount_currency TEXT NOT NULL DEFAULT 'ngn',
    held_at         TIMESTAMPTZ NOT NULL,
    release_after   TIMESTAMPTZ NOT NULL,
    disputed        BOOLEAN NOT NULL DEFAULT FALSE,
    released        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_carepay_holds_due ON carepay_release_holds (release_after) WHERE NOT released AND NOT disputed;
CREATE INDEX IF NOT EXISTS idx_carepay_holds_caregiver ON carepay_release_holds (caregiver_id);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_subscriptions (
    id                        TEXT PRIMARY KEY,
    client_id                 TEXT NOT NULL,
    caregiver_id              TEXT NOT NULL,
    order_id                  TEXT NOT NULL DEFAULT '',
    contract_id               TEXT NOT NULL DEFAULT '',
    billing_cycle             TEXT NOT NULL DEFAULT 'monthly',
    frequency_per_week        INT NOT NULL DEFAULT 0,
    recurring_amount_kobo     BIGINT NOT NULL,
    order_fee_kobo            BIGINT NOT NULL DEFAULT 0,
    service_charge_kobo       BIGINT NOT NULL DEFAULT 0,
    gateway_fees_kobo         BIGINT NOT NULL DEFAULT 0,
    currency                  TEXT NOT NULL DEFAULT 'ngn',
    status                    TEXT NOT NULL DEFAULT 'active',
    current_period_start      TIMESTAMPTZ NOT NULL,
    current_period_end        TIMESTAMPTZ NOT NULL,
    next_charge_date          TIMESTAMPTZ NOT NULL,
    billing_cycles_completed  INT NOT NULL DEFAULT 0,
    failed_charge_attempts    INT NOT NULL DEFAULT 0,
    max_retry_attempts        INT NOT NULL DEFAULT 3,
    next_retry_at             TIMESTAMPTZ,
    charging_since            TIMESTAMPTZ,
    charge_ref                TEXT NOT NULL DEFAULT '',
    cancel_at_period_end      BOOLEAN NOT NULL DEFAULT FALSE,
    cancellation_requested_at TIMESTAMPTZ,
    ended_at                  TIMESTAMPTZ,
    end_date                  TIMESTAMPTZ,
    payment_token             TEXT NOT NULL DEFAULT '',
    plan_changes              JSONB NOT NULL DEFAULT '[]',
    payment_attempts          JSONB NOT NULL DEFAULT '[]',
    created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_carepay_subs_due ON carepay_subscriptions (status, next_charge_date);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_retry ON carepay_subscriptions (status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_client ON carepay_subscriptions (client_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_carepay_subs_caregiver ON carepay_subscriptions (caregiver_id, created_at DESC);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_billing_records (
    id                  TEXT PRIMARY KEY,
    order_id            TEXT NOT NULL DEFAULT '',
    contract_id         TEXT NOT NULL DEFAULT '',
    subscription_id     TEXT NOT NULL DEFAULT '',
    client_id           TEXT NOT NULL,
    caregiver_id        TEXT NOT NULL,
    cycle_number        INT NOT NULL DEFAULT 0,
    period_start        TIMESTAMPTZ NOT NULL,
    period_end          TIMESTAMPTZ NOT NULL,
    next_charge_date    TIMESTAMPTZ NOT NULL,
    amount_paid_kobo    BIGINT NOT NULL,
    order_fee_kobo      BIGINT NOT NULL DEFAULT 0,
    service_charge_kobo BIGINT NOT NULL DEFAULT 0,
    gateway_fees_kobo   BIGINT NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'ngn',
    gateway_ref         TEXT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_carepay_billing_gateway_ref ON carepay_billing_records (gateway_ref);
CREATE INDEX IF NOT EXISTS idx_carepay_billing_subscription ON carepay_billing_records (subscription_id, cycle_number);
CREATE INDEX IF NOT EXISTS idx_carepay_billing_client ON carepay_billing_records (client_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_carepay_billing_caregiver ON carepay_billing_records (caregiver_id, created_at DESC);
`,
	`
CREATE TABLE IF NOT EXISTS carepay_withdrawals (
    id                    TEXT PRIMARY KEY,
    caregiver_id          TEXT NOT NULL,
    amount_requested_kobo BIGINT NOT NULL,
    service_charge_kobo   BIGINT NOT NULL DEFAULT 0,
    final_amount_kobo     BIGINT NOT NULL,
    currency              TEXT NOT NULL DEFAULT 'ngn',
    status                TEXT NOT NULL DEFAULT 'pending',
    verified_by           TEXT NOT NULL DEFAULT '',
    verified_at           TIMESTAMPTZ,
    completed_by          TEXT NOT NULL DEFAULT '',
    completed_at          TIMESTAMPTZ,
    rejected_by           TEXT NOT NULL DEFAULT '',
    rejected_at           TIMESTAMPTZ,
    admin_notes           TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_carepay_withdrawals_caregiver ON carepay_withdrawals (caregiver_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_carepay_withdrawals_status ON carepay_withdrawals (status);
`,
}
