package run

import (
	"maps"
	"strings"
)

// LossSentinel is the initial best value of lower-is-better metrics.
const LossSentinel = 9e20

var higherIsBetter = []string{"accuracy", "precision", "recall", "auc"}

// direction classifies a metric name: -1 lower is better, +1 higher is better,
// 0 not tracked.
func direction(name string) int {
	n := strings.ToLower(name)
	if strings.Contains(n, "loss") {
		return -1
	}
	for _, h := range higherIsBetter {
		if strings.Contains(n, h) {
			return 1
		}
	}
	return 0
}

// RecordTracker holds the best value seen per metric during one run.
// It is owned by a single training worker and is not safe for concurrent use.
type RecordTracker struct {
	best map[string]float64
}

// NewRecordTracker creates an empty tracker.
func NewRecordTracker() *RecordTracker {
	return &RecordTracker{best: make(map[string]float64)}
}

// Update compares metrics against the running bests and returns the names
// that set a new record. Ties are not records. Unrecognized names are ignored.
func (t *RecordTracker) Update(metrics map[string]float64) []string {
	var broken []string
	for name, v := range metrics {
		dir := direction(name)
		if dir == 0 {
			continue
		}
		best, ok := t.best[name]
		if !ok {
			best = sentinel(dir)
		}
		if (dir < 0 && v < best) || (dir > 0 && v > best) {
			t.best[name] = v
			broken = append(broken, name)
		} else if !ok {
			t.best[name] = best
		}
	}
	return broken
}

// Broken combines the result of Update into one decision. With RecordAll every
// tracked metric of the epoch must have improved.
func (t *RecordTracker) Broken(metrics map[string]float64, broken []string, policy RecordPolicy) bool {
	if len(broken) == 0 {
		return false
	}
	if policy != RecordAll {
		return true
	}
	tracked := 0
	for name := range metrics {
		if direction(name) != 0 {
			tracked++
		}
	}
	return len(broken) == tracked
}

// ResetLoss puts every lower-is-better metric back to the sentinel. A new loss
// function may use an incomparable scale.
func (t *RecordTracker) ResetLoss() {
	for name := range t.best {
		if direction(name) < 0 {
			t.best[name] = LossSentinel
		}
	}
}

// Best returns the best value of name and whether it is tracked.
func (t *RecordTracker) Best(name string) (float64, bool) {
	v, ok := t.best[name]
	return v, ok
}

// Snapshot returns a copy of all bests.
func (t *RecordTracker) Snapshot() map[string]float64 {
	return maps.Clone(t.best)
}

func sentinel(dir int) float64 {
	if dir < 0 {
		return LossSentinel
	}
	return 0
}
