package envelope

// RetryLedger holds per-unit retry counters and limits for one run.
//
// Counters only move up. A unit without a limit is never exhausted.
type RetryLedger struct {
	counts map[Unit]int
	limits map[Unit]int
}

// NewRetryLedger creates a ledger with zeroed counters and the given limits.
func NewRetryLedger(limits map[Unit]int) *RetryLedger {
	l := &RetryLedger{
		counts: make(map[Unit]int),
		limits: make(map[Unit]int, len(limits)),
	}
	for u, n := range limits {
		l.limits[u] = n
	}
	return l
}

// Increment records one more rejection of unit and returns the new count.
func (l *RetryLedger) Increment(unit Unit) int {
	l.counts[unit]++
	return l.counts[unit]
}

// Count returns the current counter for unit.
func (l *RetryLedger) Count(unit Unit) int {
	return l.counts[unit]
}

// Limit returns the configured limit for unit.
func (l *RetryLedger) Limit(unit Unit) (int, bool) {
	n, ok := l.limits[unit]
	return n, ok
}

// Exhausted reports whether unit has a limit and its counter has reached it.
func (l *RetryLedger) Exhausted(unit Unit) bool {
	limit, ok := l.limits[unit]
	return ok && l.counts[unit] >= limit
}

// Counts returns a copy of the counters.
func (l *RetryLedger) Counts() map[Unit]int {
	out := make(map[Unit]int, len(l.counts))
	for u, n := range l.counts {
		out[u] = n
	}
	return out
}

// Limits returns a copy of the limits.
func (l *RetryLedger) Limits() map[Unit]int {
	out := make(map[Unit]int, len(l.limits))
	for u, n := range l.limits {
		out[u] = n
	}
	return out
}

// Clone returns an independent copy.
func (l *RetryLedger) Clone() *RetryLedger {
	return &RetryLedger{counts: l.Counts(), limits: l.Limits()}
}
