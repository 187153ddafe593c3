// Package carepay provides the financial consistency core for a caregiver
// marketplace: wallets, an append-only earnings ledger, fund release holds,
// recurring subscription billing and withdrawal processing.
//
// Carepay is designed as a library, not a service. Import it directly into
// your Go application and wire it to a store and a payment gateway. It
// provides:
//
//   - Per-caregiver wallets with optimistic concurrency control
//   - An append-only ledger as the source of truth for every money movement
//   - Hold-and-release of order payments (7-day window, dispute aware)
//   - A subscription billing state machine with retries and suspension
//   - Admin-verified withdrawal processing
//   - Pluggable hooks for notifications and audit
//
// # Quick Start
//
// Create an engine with your preferred store and gateway:
//
//	import (
//	    "github.com/xolani/carepay"
//	    "github.com/xolani/carepay/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	e := carepay.New(store, gateway)
//
//	// Start the engine (begins background sweeps)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// Every money movement is a ledger entry; wallet balances are a projection
// that can always be reconstructed by replaying the caregiver's entries:
//
//	w, err := e.Reconstruct(ctx, caregiverID)
//
// Order payments are credited on receipt and held for a release window
// unless the client approved the work or the payment is a recurring cycle:
//
//	err := e.RecordOrderPayment(ctx, carepay.OrderPayment{
//	    OrderID:     "ord_123",
//	    CaregiverID: "cg_456",
//	    Amount:      carepay.NGN(500_00),
//	    GatewayRef:  ref,
//	})
//
// Subscriptions charge at period end and walk a fixed state machine on
// failure (PastDue with doubling retries, then Suspended).
//
// # Money
//
// All monetary calculations use integer arithmetic to avoid floating-point
// precision issues. The Money type represents amounts in the smallest
// currency unit (kobo for NGN, pesewas for GHS, etc).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	wal_01h2xcejqtf2nbrexx3vqjhp41   // Wallet ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	wd_01h455vb4pex5vsknk084sn02q    // Withdrawal ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package carepay
