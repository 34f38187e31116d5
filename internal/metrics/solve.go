package metrics

import (
	"sort"
	"sync"
	"time"
)

// Outcome keys the solve counters by strategy and accepting phase.
type Outcome struct {
	Strategy string
	Phase    string
}

// SolveMetrics tracks solve outcomes and latency for the aim service.
type SolveMetrics struct {
	mu        sync.RWMutex
	outcomes  map[Outcome]int64
	failures  int64
	latency   time.Duration
	maxTiming time.Duration
}

// NewSolveMetrics constructs an empty metrics tracker.
func NewSolveMetrics() *SolveMetrics {
	return &SolveMetrics{outcomes: make(map[Outcome]int64)}
}

// ObserveSuccess records an accepted solve and its latency.
func (m *SolveMetrics) ObserveSuccess(strategy, phase string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.outcomes[Outcome{Strategy: strategy, Phase: phase}]++
	m.observeLatencyLocked(elapsed)
	m.mu.Unlock()
}

// ObserveFailure records a solve that produced no direction.
func (m *SolveMetrics) ObserveFailure(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures++
	m.observeLatencyLocked(elapsed)
	m.mu.Unlock()
}

func (m *SolveMetrics) observeLatencyLocked(elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	m.latency += elapsed
	if elapsed > m.maxTiming {
		m.maxTiming = elapsed
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Outcomes   map[Outcome]int64
	Failures   int64
	Total      int64
	LatencySum time.Duration
	LatencyMax time.Duration
}

// Snapshot copies the counters so callers can render them without holding the lock.
func (m *SolveMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Snapshot{
		Outcomes:   make(map[Outcome]int64, len(m.outcomes)),
		Failures:   m.failures,
		LatencySum: m.latency,
		LatencyMax: m.maxTiming,
	}
	out.Total = m.failures
	for key, count := range m.outcomes {
		out.Outcomes[key] = count
		out.Total += count
	}
	return out
}

// SortedOutcomes returns the outcome keys in a stable order for rendering.
func (s Snapshot) SortedOutcomes() []Outcome {
	keys := make([]Outcome, 0, len(s.Outcomes))
	for key := range s.Outcomes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Strategy != keys[j].Strategy {
			return keys[i].Strategy < keys[j].Strategy
		}
		return keys[i].Phase < keys[j].Phase
	})
	return keys
}
