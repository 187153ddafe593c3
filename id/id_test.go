package id_test

import (
	"testing"

	"github.com/xolani/carepay/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		create func() id.ID
		prefix id.Prefix
	}{
		{"WalletID", id.NewWalletID, "wal"},
		{"LedgerEntryID", id.NewLedgerEntryID, "lent"},
		{"SubscriptionID", id.NewSubscriptionID, "sub"},
		{"BillingRecordID", id.NewBillingRecordID, "bill"},
		{"WithdrawalID", id.NewWithdrawalID, "wd"},
		{"PaymentAttemptID", id.NewPaymentAttemptID, "pay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.create()
			if got.IsNil() {
				t.Fatal("expected non-nil ID")
			}

			if got.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", got.Prefix(), tt.prefix)
			}
		})
	}
}

func TestNew(t *testing.T) {
	got := id.New(id.PrefixWallet)
	if got.IsNil() {
		t.Fatal("expected non-nil ID")
	}

	if got.Prefix() != id.PrefixWallet {
		t.Errorf("Prefix() = %q, want %q", got.Prefix(), id.PrefixWallet)
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewSubscriptionID()

	parsed, err := id.ParseSubscriptionID(original.String())
	if err != nil {
		t.Fatalf("ParseSubscriptionID(%q): %v", original, err)
	}

	if parsed.String() != original.String() {
		t.Errorf("round trip: got %q, want %q", parsed, original)
	}
}

func TestCrossTypeRejection(t *testing.T) {
	walletID := id.NewWalletID()

	if _, err := id.ParseWithdrawalID(walletID.String()); err == nil {
		t.Errorf("ParseWithdrawalID(%q) succeeded, want prefix mismatch error", walletID)
	}
}

func TestParse(t *testing.T) {
	original := id.NewLedgerEntryID()

	parsed, err := id.Parse(original.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", original, err)
	}

	if parsed.Prefix() != id.PrefixLedgerEntry {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), id.PrefixLedgerEntry)
	}
}

func TestParseWithPrefix(t *testing.T) {
	billID := id.NewBillingRecordID()

	if _, err := id.ParseWithPrefix(billID.String(), id.PrefixBillingRecord); err != nil {
		t.Errorf("ParseWithPrefix matching prefix: %v", err)
	}

	if _, err := id.ParseWithPrefix(billID.String(), id.PrefixSubscription); err == nil {
		t.Error("ParseWithPrefix with wrong prefix succeeded, want error")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") succeeded, want error")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{
		"not a typeid",
		"wal_",
		"_01h2xcejqtf2nbrexx3vqjhp41",
	}

	for _, s := range tests {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestNilID(t *testing.T) {
	var nilID id.ID

	if !nilID.IsNil() {
		t.Error("zero-value ID should be nil")
	}

	if nilID.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", nilID.String())
	}

	if nilID.Prefix() != "" {
		t.Errorf("nil ID Prefix() = %q, want empty", nilID.Prefix())
	}

	if !id.Nil.IsNil() {
		t.Error("id.Nil should report IsNil")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewWithdrawalID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded id.ID
	if err := decoded.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}

	if decoded.String() != original.String() {
		t.Errorf("text round trip: got %q, want %q", decoded, original)
	}

	// Empty text decodes to the nil ID.
	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}

	if !empty.IsNil() {
		t.Error("UnmarshalText(nil) should produce nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewWalletID()

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	s, ok := val.(string)
	if !ok {
		t.Fatalf("Value returned %T, want string", val)
	}

	var scanned id.ID
	if err := scanned.Scan(s); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}

	if scanned.String() != original.String() {
		t.Errorf("value/scan round trip: got %q, want %q", scanned, original)
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(s)); err != nil {
		t.Fatalf("Scan([]byte): %v", err)
	}

	if fromBytes.String() != original.String() {
		t.Errorf("byte scan: got %q, want %q", fromBytes, original)
	}

	// NULL columns scan to the nil ID, and the nil ID stores NULL.
	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}

	if !fromNull.IsNil() {
		t.Error("Scan(nil) should produce nil ID")
	}

	nilVal, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value: %v", err)
	}

	if nilVal != nil {
		t.Errorf("Nil.Value() = %v, want nil", nilVal)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("Scan(int) succeeded, want error")
	}
}

func TestUniqueness(t *testing.T) {
	const n = 1000

	seen := make(map[string]bool, n)

	for range n {
		generated := id.NewLedgerEntryID()
		if seen[generated.String()] {
			t.Fatalf("duplicate ID generated: %s", generated)
		}

		seen[generated.String()] = true
	}
}
