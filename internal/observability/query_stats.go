// Package observability tracks how statements use table columns so that
// frequently filtered but unindexed columns can be suggested for indexing.
package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// QueryStats tracks predicate frequency per table column.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*ColumnStats
	window        time.Duration
	now           func() time.Time
}

// ColumnStats holds statistics for one table column.
type ColumnStats struct {
	Column    string         `json:"column"`
	Frequency int64          `json:"frequency"`
	Unindexed int64          `json:"unindexed"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators"`
}

// NewQueryStats creates a tracker whose entries expire after window.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*ColumnStats),
		window:        window,
		now:           time.Now,
	}
}

// RecordPredicate records a WHERE predicate on column ("table.column").
// indexed reports whether the executor could answer it from an index or
// the primary key.
func (q *QueryStats) RecordPredicate(column, operator string, indexed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.predicateFreq[column]
	if !exists {
		stats = &ColumnStats{
			Column:    column,
			Operators: make(map[string]int),
		}
		q.predicateFreq[column] = stats
	}

	stats.Frequency++
	if !indexed {
		stats.Unindexed++
	}
	stats.LastSeen = q.now()
	stats.Operators[operator]++
}

// GetTopPredicates returns copies of the n most frequent columns.
func (q *QueryStats) GetTopPredicates(n int) []ColumnStats {
	return q.top(n, func(*ColumnStats) bool { return true })
}

// IndexCandidates returns the n columns most often filtered without an
// index.
func (q *QueryStats) IndexCandidates(n int) []ColumnStats {
	out := q.top(math.MaxInt, func(s *ColumnStats) bool { return s.Unindexed > 0 })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Unindexed > out[j].Unindexed
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

func (q *QueryStats) top(n int, keep func(*ColumnStats) bool) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.predicateFreq) == 0 {
		return []ColumnStats{}
	}

	stats := make([]ColumnStats, 0, len(q.predicateFreq))
	for _, s := range q.predicateFreq {
		if !keep(s) {
			continue
		}
		statsCopy := *s
		statsCopy.Operators = make(map[string]int, len(s.Operators))
		for op, count := range s.Operators {
			statsCopy.Operators[op] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Forget drops the entries of a table, e.g. after it is dropped.
func (q *QueryStats) Forget(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prefix := table + "."
	for col := range q.predicateFreq {
		if len(col) > len(prefix) && col[:len(prefix)] == prefix {
			delete(q.predicateFreq, col)
		}
	}
}

// Prune removes entries not seen within the window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := q.now().Add(-q.window)
	for col, stats := range q.predicateFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.predicateFreq, col)
		}
	}
}
