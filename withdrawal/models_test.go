package withdrawal_test

import (
	"errors"
	"testing"

	"github.com/xolani/carepay/types"
	"github.com/xolani/carepay/withdrawal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from withdrawal.Status
		to   withdrawal.Status
		want bool
	}{
		{withdrawal.StatusPending, withdrawal.StatusVerified, true},
		{withdrawal.StatusPending, withdrawal.StatusRejected, true},
		{withdrawal.StatusPending, withdrawal.StatusCompleted, false},
		{withdrawal.StatusVerified, withdrawal.StatusCompleted, true},
		{withdrawal.StatusVerified, withdrawal.StatusRejected, true},
		{withdrawal.StatusVerified, withdrawal.StatusPending, false},
		{withdrawal.StatusCompleted, withdrawal.StatusRejected, false},
		{withdrawal.StatusRejected, withdrawal.StatusVerified, false},
	}

	for _, tt := range tests {
		if got := withdrawal.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	r := withdrawal.New("caregiver-1", types.NGN(1000000), types.NGN(15000))

	if r.ID.IsNil() {
		t.Error("expected non-nil withdrawal ID")
	}
	if r.Status != withdrawal.StatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
	if !r.FinalAmount.Equal(types.NGN(985000)) {
		t.Errorf("FinalAmount = %s, want %s", r.FinalAmount, types.NGN(985000))
	}
}

func TestTransitionFlow(t *testing.T) {
	r := withdrawal.New("caregiver-1", types.NGN(1000000), types.Zero("ngn"))

	// Completing straight from pending skips verification and must fail.
	err := r.Transition(withdrawal.StatusCompleted)
	if !errors.Is(err, withdrawal.ErrInvalidTransition) {
		t.Fatalf("Transition(Completed) from pending = %v, want ErrInvalidTransition", err)
	}
	if r.Status != withdrawal.StatusPending {
		t.Errorf("status mutated after rejected transition: %s", r.Status)
	}

	if err := r.Transition(withdrawal.StatusVerified); err != nil {
		t.Fatalf("Transition(Verified): %v", err)
	}
	if err := r.Transition(withdrawal.StatusCompleted); err != nil {
		t.Fatalf("Transition(Completed): %v", err)
	}

	// Completed is final.
	if err := r.Transition(withdrawal.StatusRejected); !errors.Is(err, withdrawal.ErrInvalidTransition) {
		t.Errorf("Transition(Rejected) from completed = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectAfterVerify(t *testing.T) {
	r := withdrawal.New("caregiver-1", types.NGN(500000), types.NGN(7500))

	if err := r.Transition(withdrawal.StatusVerified); err != nil {
		t.Fatalf("Transition(Verified): %v", err)
	}
	if err := r.Transition(withdrawal.StatusRejected); err != nil {
		t.Fatalf("Transition(Rejected): %v", err)
	}
	if r.Status != withdrawal.StatusRejected {
		t.Errorf("Status = %s, want rejected", r.Status)
	}
}
