package observability

import (
	"sync/atomic"
	"time"
)

// RefreshMetrics keeps in-process refresh counters for the refresher's health endpoint.
type RefreshMetrics struct {
	attempts atomic.Uint64
	saved    atomic.Uint64
	stale    atomic.Uint64
	failed   atomic.Uint64

	lastSuccess atomic.Int64 // unix nanos
	lastUsers   atomic.Int64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewRefreshMetrics() *RefreshMetrics {
	return &RefreshMetrics{}
}

func (m *RefreshMetrics) IncAttempt() {
	m.attempts.Add(1)
}

func (m *RefreshMetrics) IncSaved(users int, at time.Time) {
	m.saved.Add(1)
	m.lastUsers.Store(int64(users))
	m.lastSuccess.Store(at.UnixNano())
}

func (m *RefreshMetrics) IncStale() {
	m.stale.Add(1)
}

func (m *RefreshMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *RefreshMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type RefreshSnapshot struct {
	Attempts        uint64        `json:"attempts"`
	Saved           uint64        `json:"saved"`
	Stale           uint64        `json:"stale"`
	Failed          uint64        `json:"failed"`
	LastUsers       int64         `json:"lastUsers"`
	LastSuccess     *time.Time    `json:"lastSuccess,omitempty"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *RefreshMetrics) Snapshot() RefreshSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	s := RefreshSnapshot{
		Attempts:        m.attempts.Load(),
		Saved:           m.saved.Load(),
		Stale:           m.stale.Load(),
		Failed:          m.failed.Load(),
		LastUsers:       m.lastUsers.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}

	if ns := m.lastSuccess.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		s.LastSuccess = &t
	}
	return s
}
