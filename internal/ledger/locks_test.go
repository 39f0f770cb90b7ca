package ledger

import (
	"testing"
	"time"
)

func TestAssetLocksSerializeSameAsset(t *testing.T) {
	t.Parallel()

	locks := newAssetLocks()
	entry := locks.acquire("cam-1")

	acquired := make(chan struct{})
	go func() {
		other := locks.acquire("cam-1")
		close(acquired)
		other.mu.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock held")
	case <-time.After(20 * time.Millisecond):
	}

	entry.mu.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after unlock")
	}
}

func TestAssetLocksIndependentPerAsset(t *testing.T) {
	t.Parallel()

	locks := newAssetLocks()
	first := locks.acquire("cam-1")
	defer first.mu.Unlock()

	done := make(chan struct{})
	go func() {
		second := locks.acquire("cam-2")
		second.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different asset blocked by unrelated lock")
	}
}

func TestNextOccurredAtClampsRegression(t *testing.T) {
	t.Parallel()

	entry := &assetLock{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := entry.nextOccurredAt(base); !got.Equal(base) {
		t.Fatalf("nextOccurredAt(base) = %v, want %v", got, base)
	}
	if got := entry.nextOccurredAt(base.Add(-time.Minute)); !got.Equal(base) {
		t.Fatalf("nextOccurredAt(earlier) = %v, want clamped %v", got, base)
	}
	later := base.Add(time.Second)
	if got := entry.nextOccurredAt(later); !got.Equal(later) {
		t.Fatalf("nextOccurredAt(later) = %v, want %v", got, later)
	}
}
