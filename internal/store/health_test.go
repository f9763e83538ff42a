package store

import (
	"testing"
	"time"
)

func TestGetInstanceHealth_ZeroValueWhenMissing(t *testing.T) {
	st := openTestStore(t)
	h, err := st.GetInstanceHealth("a.social")
	if err != nil {
		t.Fatalf("GetInstanceHealth: %v", err)
	}
	if h.ConsecutiveFailures != 0 || h.IsInCooldown() {
		t.Errorf("expected healthy zero-value record, got %+v", h)
	}
}

func TestRecordFailure_EntersCooldownAtThreshold(t *testing.T) {
	st := openTestStore(t)

	var h *InstanceHealth
	var err error
	for i := 0; i < 3; i++ {
		h, err = st.RecordFailure("a.social", 3, time.Hour)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if h.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures: got %d, want 3", h.ConsecutiveFailures)
	}
	if !h.IsInCooldown() {
		t.Error("expected instance to be in cooldown after reaching threshold")
	}
}

func TestRecordFailure_BelowThresholdNoCooldown(t *testing.T) {
	st := openTestStore(t)
	h, err := st.RecordFailure("a.social", 3, time.Hour)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if h.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures: got %d, want 1", h.ConsecutiveFailures)
	}
	if h.IsInCooldown() {
		t.Error("did not expect cooldown below threshold")
	}
}

func TestRecordSuccess_ResetsFailuresAndCooldown(t *testing.T) {
	st := openTestStore(t)
	st.RecordFailure("a.social", 3, time.Hour)
	st.RecordFailure("a.social", 3, time.Hour)
	st.RecordFailure("a.social", 3, time.Hour)

	if err := st.RecordSuccess("a.social"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	h, err := st.GetInstanceHealth("a.social")
	if err != nil {
		t.Fatalf("GetInstanceHealth: %v", err)
	}
	if h.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset, got %d", h.ConsecutiveFailures)
	}
	if h.IsInCooldown() {
		t.Error("expected cooldown cleared after success")
	}
	if h.LastSuccessAt == "" {
		t.Error("expected last_success_at to be set")
	}
}
