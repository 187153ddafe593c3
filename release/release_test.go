package release_test

import (
	"testing"
	"time"

	"github.com/xolani/carepay/ledger"
	"github.com/xolani/carepay/release"
	"github.com/xolani/carepay/types"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		credit release.Credit
		want   release.Decision
	}{
		{
			name:   "plain order holds pending",
			credit: release.Credit{},
			want:   release.Decision{},
		},
		{
			name:   "initial subscription charge releases immediately",
			credit: release.Credit{Recurring: true, FirstCycle: true},
			want:   release.Decision{Immediate: true, Reason: ledger.ReasonInitialSubscription},
		},
		{
			name:   "renewal charge releases immediately",
			credit: release.Credit{Recurring: true},
			want:   release.Decision{Immediate: true, Reason: ledger.ReasonRecurringPayment},
		},
		{
			name:   "client approved order releases immediately",
			credit: release.Credit{ClientApproved: true},
			want:   release.Decision{Immediate: true, Reason: ledger.ReasonClientApproved},
		},
		{
			name:   "dispute beats recurring",
			credit: release.Credit{Recurring: true, FirstCycle: true, Disputed: true},
			want:   release.Decision{},
		},
		{
			name:   "dispute beats client approval",
			credit: release.Credit{ClientApproved: true, Disputed: true},
			want:   release.Decision{},
		},
		{
			name:   "recurring beats client approval",
			credit: release.Credit{Recurring: true, ClientApproved: true},
			want:   release.Decision{Immediate: true, Reason: ledger.ReasonRecurringPayment},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := release.Decide(tt.credit); got != tt.want {
				t.Errorf("Decide(%+v) = %+v, want %+v", tt.credit, got, tt.want)
			}
		})
	}
}

func TestNewHold(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	h := release.NewHold("order-1", "caregiver-1", types.NGN(500000), now, release.DefaultHoldWindow)

	if h.OrderID != "order-1" || h.CaregiverID != "caregiver-1" {
		t.Errorf("hold identity = %q / %q", h.OrderID, h.CaregiverID)
	}
	if !h.HeldAt.Equal(now) {
		t.Errorf("HeldAt = %v, want %v", h.HeldAt, now)
	}
	if want := now.Add(7 * 24 * time.Hour); !h.ReleaseAfter.Equal(want) {
		t.Errorf("ReleaseAfter = %v, want %v", h.ReleaseAfter, want)
	}
	if h.Released || h.Disputed {
		t.Error("new hold should be neither released nor disputed")
	}
}

func TestHoldDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	h := release.NewHold("order-1", "caregiver-1", types.NGN(500000), now, release.DefaultHoldWindow)

	tests := []struct {
		name     string
		at       time.Time
		disputed bool
		released bool
		want     bool
	}{
		{name: "before window", at: now.Add(6 * 24 * time.Hour), want: false},
		{name: "exactly at window boundary", at: h.ReleaseAfter, want: true},
		{name: "after window", at: h.ReleaseAfter.Add(time.Hour), want: true},
		{name: "disputed holds never come due", at: h.ReleaseAfter.Add(time.Hour), disputed: true, want: false},
		{name: "already released", at: h.ReleaseAfter.Add(time.Hour), released: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hold := *h
			hold.Disputed = tt.disputed
			hold.Released = tt.released

			if got := hold.Due(tt.at); got != tt.want {
				t.Errorf("Due(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}
