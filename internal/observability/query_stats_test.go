package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordPredicateConcurrent tests concurrent RecordPredicate calls for race conditions.
func TestRecordPredicateConcurrent(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordPredicate("users.id", "=", true)
				qs.RecordPredicate("users.city", "=", false)
				qs.RecordPredicate("orders.total", ">", false)
			}
		}()
	}

	wg.Wait()

	top := qs.GetTopPredicates(10)
	if len(top) != 3 {
		t.Errorf("expected 3 predicates, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, stat := range top {
		if stat.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, stat.Column, stat.Frequency)
		}
	}
}

// TestGetTopPredicatesOrdering tests that GetTopPredicates returns results sorted by frequency.
func TestGetTopPredicatesOrdering(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)

	for i := 0; i < 10; i++ {
		qs.RecordPredicate("users.id", "=", true)
	}
	for i := 0; i < 5; i++ {
		qs.RecordPredicate("users.city", "=", false)
	}
	for i := 0; i < 20; i++ {
		qs.RecordPredicate("orders.total", ">", false)
	}

	top := qs.GetTopPredicates(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 predicates, got %d", len(top))
	}
	if top[0].Column != "orders.total" || top[0].Frequency != 20 {
		t.Errorf("expected orders.total with frequency 20, got %s with %d", top[0].Column, top[0].Frequency)
	}
	if top[1].Column != "users.id" || top[1].Frequency != 10 {
		t.Errorf("expected users.id with frequency 10, got %s with %d", top[1].Column, top[1].Frequency)
	}
	if top[2].Column != "users.city" || top[2].Frequency != 5 {
		t.Errorf("expected users.city with frequency 5, got %s with %d", top[2].Column, top[2].Frequency)
	}
}

func TestIndexCandidates(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	for i := 0; i < 10; i++ {
		qs.RecordPredicate("users.id", "=", true)
	}
	for i := 0; i < 4; i++ {
		qs.RecordPredicate("users.city", "=", false)
	}
	for i := 0; i < 6; i++ {
		qs.RecordPredicate("orders.total", ">", i%2 == 0)
	}

	got := qs.IndexCandidates(5)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Column != "users.city" || got[0].Unindexed != 4 {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if got[1].Column != "orders.total" || got[1].Unindexed != 3 {
		t.Errorf("unexpected second candidate %+v", got[1])
	}

	if got := qs.IndexCandidates(1); len(got) != 1 {
		t.Errorf("expected limit to apply, got %d", len(got))
	}
}

// TestPruneRemovesOldEntries tests that Prune removes entries older than the window.
func TestPruneRemovesOldEntries(t *testing.T) {
	qs := NewQueryStats(time.Minute)
	now := time.Now()
	qs.now = func() time.Time { return now }

	qs.RecordPredicate("users.id", "=", true)
	if top := qs.GetTopPredicates(10); len(top) != 1 {
		t.Errorf("expected 1 predicate before prune, got %d", len(top))
	}

	now = now.Add(2 * time.Minute)
	qs.Prune()

	if top := qs.GetTopPredicates(10); len(top) != 0 {
		t.Errorf("expected 0 predicates after prune, got %d", len(top))
	}
}

// TestRecordPredicateTrackingOperators tests that RecordPredicate tracks operator distribution.
func TestRecordPredicateTrackingOperators(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)

	for i := 0; i < 5; i++ {
		qs.RecordPredicate("users.age", "=", false)
	}
	for i := 0; i < 3; i++ {
		qs.RecordPredicate("users.age", "<=", false)
	}
	for i := 0; i < 2; i++ {
		qs.RecordPredicate("users.age", ">", false)
	}

	top := qs.GetTopPredicates(1)
	if len(top) != 1 {
		t.Fatalf("expected 1 predicate, got %d", len(top))
	}

	stat := top[0]
	if stat.Frequency != 10 {
		t.Errorf("expected frequency 10, got %d", stat.Frequency)
	}
	if stat.Operators["="] != 5 || stat.Operators["<="] != 3 || stat.Operators[">"] != 2 {
		t.Errorf("unexpected operator distribution %v", stat.Operators)
	}
}

func TestForget(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	qs.RecordPredicate("users.id", "=", true)
	qs.RecordPredicate("users2.id", "=", true)
	qs.RecordPredicate("orders.id", "=", true)

	qs.Forget("users")
	top := qs.GetTopPredicates(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 predicates after forget, got %d", len(top))
	}
	for _, s := range top {
		if s.Column == "users.id" {
			t.Error("users.id should be forgotten")
		}
	}
}

// TestGetTopPredicatesEmpty tests GetTopPredicates with no data.
func TestGetTopPredicatesEmpty(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	if top := qs.GetTopPredicates(10); len(top) != 0 {
		t.Errorf("expected 0 predicates, got %d", len(top))
	}
}
