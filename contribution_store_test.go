package colmena

import (
	"strings"
	"testing"
	"time"
)

func storeContribution(typ ModelType) *ModelContribution {
	c := testContribution(100)
	c.ModelType = typ
	return c
}

func TestContributionStoreStates(t *testing.T) {
	store := NewContributionStore(3)

	if state := store.State(ModelTypePriceOptimization); state != PoolEmpty {
		t.Fatalf("initial state = %v, want empty", state)
	}

	_, state := store.Add(storeContribution(ModelTypePriceOptimization))
	if state != PoolAccumulating {
		t.Errorf("state after 1 = %v, want accumulating", state)
	}

	store.Add(storeContribution(ModelTypePriceOptimization))
	_, state = store.Add(storeContribution(ModelTypePriceOptimization))
	if state != PoolReady {
		t.Errorf("state after 3 = %v, want ready", state)
	}
}

func TestContributionStoreIsolatesTypes(t *testing.T) {
	store := NewContributionStore(3)

	store.Add(storeContribution(ModelTypePriceOptimization))
	store.Add(storeContribution(ModelTypeDemandForecast))

	if n := store.Count(ModelTypePriceOptimization); n != 1 {
		t.Errorf("price pool count = %d, want 1", n)
	}
	if n := store.Count(ModelTypeTrendDetection); n != 0 {
		t.Errorf("untouched pool count = %d, want 0", n)
	}
}

func TestContributionStoreRecordRedaction(t *testing.T) {
	store := NewContributionStore(3)

	c := storeContribution(ModelTypePriceOptimization)
	c.SegmentHash = strings.Repeat("f", 32)

	rec, _ := store.Add(c)
	if rec.SegmentHashPrefix != strings.Repeat("f", 8) {
		t.Errorf("stored prefix = %q, want 8-char truncation", rec.SegmentHashPrefix)
	}
	if rec.ID == "" {
		t.Error("record should get an id")
	}
}

func TestContributionStoreCloneIsolation(t *testing.T) {
	store := NewContributionStore(3)

	c := storeContribution(ModelTypePriceOptimization)
	rec, _ := store.Add(c)

	c.Parameters["coefficients"].Vector[0] = 999
	if rec.Parameters["coefficients"].Vector[0] == 999 {
		t.Error("stored record should hold a deep copy of the parameters")
	}
}

func TestContributionStoreDiscard(t *testing.T) {
	store := NewContributionStore(3)

	store.Add(storeContribution(ModelTypePriceOptimization))
	store.Add(storeContribution(ModelTypePriceOptimization))

	if n := store.Discard(ModelTypePriceOptimization); n != 2 {
		t.Errorf("discarded = %d, want 2", n)
	}
	if state := store.State(ModelTypePriceOptimization); state != PoolEmpty {
		t.Errorf("state after discard = %v, want empty", state)
	}
}

func TestContributionStorePurge(t *testing.T) {
	store := NewContributionStore(3)

	old, _ := store.Add(storeContribution(ModelTypePriceOptimization))
	old.ReceivedAt = time.Now().AddDate(0, 0, -120)
	store.Add(storeContribution(ModelTypePriceOptimization))

	dropped := store.Purge(time.Now().AddDate(0, 0, -90))
	if dropped != 1 {
		t.Fatalf("purged = %d, want 1", dropped)
	}
	if n := store.Count(ModelTypePriceOptimization); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestContributionStoreRestore(t *testing.T) {
	store := NewContributionStore(2)

	store.Restore(testRecord(ModelTypeDemandForecast, 80, nil, nil))
	store.Restore(testRecord(ModelTypeDemandForecast, 90, nil, nil))

	if state := store.State(ModelTypeDemandForecast); state != PoolReady {
		t.Errorf("state after restore = %v, want ready", state)
	}
}

func TestContributionStoreSnapshotCopy(t *testing.T) {
	store := NewContributionStore(3)
	store.Add(storeContribution(ModelTypePriceOptimization))

	snap := store.Snapshot(ModelTypePriceOptimization)
	snap[0] = nil

	if again := store.Snapshot(ModelTypePriceOptimization); again[0] == nil {
		t.Error("snapshot should be a copy of the record slice")
	}
}

func TestContributionStoreCounts(t *testing.T) {
	store := NewContributionStore(3)
	store.Add(storeContribution(ModelTypePriceOptimization))
	store.Add(storeContribution(ModelTypePriceOptimization))
	store.Add(storeContribution(ModelTypeTrendDetection))

	counts := store.Counts()
	if counts[ModelTypePriceOptimization] != 2 || counts[ModelTypeTrendDetection] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
