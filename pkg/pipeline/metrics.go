package pipeline

import (
	"sync"
	"time"
)

// Metrics accumulates counters across pipeline sweeps. Safe for concurrent
// reads from the status server while a sweep is running.
type Metrics struct {
	mu            sync.Mutex
	fetched       int64
	parsed        int64
	parseFailures int64
	inserted      int64
	sweeps        int64
	perType       map[string]int64
	lastRunID     string
	lastSweepAt   time.Time
}

// Snapshot is the JSON shape served by the status endpoint.
type Snapshot struct {
	Fetched       int64            `json:"fetched"`
	Parsed        int64            `json:"parsed"`
	ParseFailures int64            `json:"parse_failures"`
	Inserted      int64            `json:"inserted"`
	Sweeps        int64            `json:"sweeps"`
	PerType       map[string]int64 `json:"per_type"`
	LastRunID     string           `json:"last_run_id,omitempty"`
	LastSweepAt   string           `json:"last_sweep_at,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{perType: make(map[string]int64)}
}

func (m *Metrics) addBatch(entityType string, fetched, parsed, failures, inserted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched += int64(fetched)
	m.parsed += int64(parsed)
	m.parseFailures += int64(failures)
	m.inserted += int64(inserted)
	m.perType[entityType] += int64(inserted)
}

func (m *Metrics) sweepFinished(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	m.lastRunID = runID
	m.lastSweepAt = time.Now()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	perType := make(map[string]int64, len(m.perType))
	for k, v := range m.perType {
		perType[k] = v
	}
	snap := Snapshot{
		Fetched:       m.fetched,
		Parsed:        m.parsed,
		ParseFailures: m.parseFailures,
		Inserted:      m.inserted,
		Sweeps:        m.sweeps,
		PerType:       perType,
		LastRunID:     m.lastRunID,
	}
	if !m.lastSweepAt.IsZero() {
		snap.LastSweepAt = m.lastSweepAt.Format(time.RFC3339)
	}
	return snap
}
