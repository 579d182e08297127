package sandbox

import "testing"

func TestQuotaChargeWithinLimit(t *testing.T) {
	q := newQuotaTable()
	q.setLimit(ResourceOutput, 100)

	if !q.charge(ResourceOutput, 40) {
		t.Fatal("expected a charge under the limit to succeed")
	}
	if got := q.peek(ResourceOutput, MetricCurrent); got != 40 {
		t.Fatalf("current = %d, want 40", got)
	}
	if got := q.peek(ResourceOutput, MetricMaximum); got != 40 {
		t.Fatalf("maximum = %d, want 40", got)
	}
}

func TestQuotaChargeRejectsOverLimit(t *testing.T) {
	q := newQuotaTable()
	q.setLimit(ResourceOutput, 100)

	if !q.charge(ResourceOutput, 90) {
		t.Fatal("expected the first charge to succeed")
	}
	if q.charge(ResourceOutput, 20) {
		t.Fatal("expected a charge pushing current past the limit to fail")
	}
	if got := q.peek(ResourceOutput, MetricCurrent); got != 90 {
		t.Fatalf("current = %d, want 90 (rejected charge must not apply)", got)
	}
}

func TestQuotaZeroLimitIsUnbounded(t *testing.T) {
	q := newQuotaTable()
	q.setLimit(ResourceMemory, 0)

	if !q.charge(ResourceMemory, 1<<40) {
		t.Fatal("expected a zero limit to mean unbounded")
	}
}

func TestQuotaChargeNegativeNeverUnderflows(t *testing.T) {
	q := newQuotaTable()
	q.charge(ResourceInstructions, 5)

	if !q.charge(ResourceInstructions, -100) {
		t.Fatal("expected a free to always succeed")
	}
	if got := q.peek(ResourceInstructions, MetricCurrent); got != 0 {
		t.Fatalf("current = %d, want 0 (must not underflow)", got)
	}
}

func TestQuotaResetPreservesMaximum(t *testing.T) {
	q := newQuotaTable()
	q.setLimit(ResourceInstructions, 0)
	q.charge(ResourceInstructions, 500)

	q.reset(ResourceInstructions)

	if got := q.peek(ResourceInstructions, MetricCurrent); got != 0 {
		t.Fatalf("current = %d, want 0 after reset", got)
	}
	if got := q.peek(ResourceInstructions, MetricMaximum); got != 500 {
		t.Fatalf("maximum = %d, want 500 preserved across reset", got)
	}
}

func TestQuotaSetCurrentTracksMaximum(t *testing.T) {
	q := newQuotaTable()
	q.setCurrent(ResourceMemory, 10)
	q.setCurrent(ResourceMemory, 5)

	if got := q.peek(ResourceMemory, MetricCurrent); got != 5 {
		t.Fatalf("current = %d, want 5", got)
	}
	if got := q.peek(ResourceMemory, MetricMaximum); got != 10 {
		t.Fatalf("maximum = %d, want 10 (high-water mark)", got)
	}
}
