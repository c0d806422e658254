package detect

import (
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"logsentry/core"
	"logsentry/metrics"
)

// DefaultTimeWindow is used when a rule's window string cannot be parsed
const DefaultTimeWindow = 5 * time.Minute

var timeWindowPattern = regexp.MustCompile(`^(\d+)([mh])$`)

// ParseTimeWindow parses "<number><m|h>". Anything else, including a zero
// amount, yields DefaultTimeWindow and usedFallback=true.
func ParseTimeWindow(window string) (d time.Duration, usedFallback bool) {
	m := timeWindowPattern.FindStringSubmatch(window)
	if m == nil {
		return DefaultTimeWindow, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultTimeWindow, true
	}
	unit := time.Minute
	if m[2] == "h" {
		unit = time.Hour
	}
	return time.Duration(n) * unit, false
}

// matchWindow is the sliding window of one (rule, group) pair.
// Records are kept sorted by timestamp.
type matchWindow struct {
	mu      sync.Mutex
	records []core.RuleMatchRecord
}

// add inserts a record, purges everything older than at-window, enforces the
// size bound, and returns the aggregate over the survivors.
func (w *matchWindow) add(rec core.RuleMatchRecord, window time.Duration, maxRecords int, agg *core.Aggregation) float64 {
	idx := sort.Search(len(w.records), func(i int) bool {
		return w.records[i].Timestamp.After(rec.Timestamp)
	})
	w.records = append(w.records, core.RuleMatchRecord{})
	copy(w.records[idx+1:], w.records[idx:])
	w.records[idx] = rec

	w.purge(rec.Timestamp, window)

	if maxRecords > 0 && len(w.records) > maxRecords {
		drop := len(w.records) - maxRecords
		w.records = append(w.records[:0], w.records[drop:]...)
		metrics.RuleWindowEvictions.Add(float64(drop))
	}

	return aggregate(w.records, agg)
}

// purge drops records strictly older than ref-window. A record exactly one
// window old survives.
func (w *matchWindow) purge(ref time.Time, window time.Duration) {
	cutoff := ref.Add(-window)
	first := sort.Search(len(w.records), func(i int) bool {
		return !w.records[i].Timestamp.Before(cutoff)
	})
	if first > 0 {
		w.records = append(w.records[:0], w.records[first:]...)
	}
}

func (w *matchWindow) reset() {
	w.records = w.records[:0]
}

func (w *matchWindow) len() int {
	return len(w.records)
}

func aggregate(records []core.RuleMatchRecord, agg *core.Aggregation) float64 {
	switch agg.Function {
	case core.AggCountDistinct:
		seen := make(map[string]struct{}, len(records))
		for _, r := range records {
			if r.Value.IsUndefined() {
				continue
			}
			seen[r.Value.Kind().String()+":"+r.Value.String()] = struct{}{}
		}
		return float64(len(seen))
	case core.AggSum:
		var total float64
		for _, r := range records {
			if n, ok := r.Value.AsNumber(); ok {
				total += n
			}
		}
		return total
	default:
		return float64(len(records))
	}
}
