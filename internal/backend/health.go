package backend

import (
	"sync"
	"time"
)

// HealthPolicy decides when a backend counts as unhealthy.
type HealthPolicy struct {
	// Threshold is the error rate at or above which a backend is unhealthy.
	Threshold float64
	// MinSamples is the number of calls observed before the threshold applies.
	MinSamples int
}

// DefaultHealthPolicy returns the stock policy: 20% errors after 5 calls.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{Threshold: 0.2, MinSamples: 5}
}

// HealthSnapshot is a copy of a backend's counters.
type HealthSnapshot struct {
	Total      int64         `json:"total"`
	Successful int64         `json:"successful"`
	Failed     int64         `json:"failed"`
	ErrorRate  float64       `json:"error_rate"`
	AvgLatency time.Duration `json:"avg_latency"`
	Healthy    bool          `json:"healthy"`
	LastError  string        `json:"last_error,omitempty"`
	LastCall   time.Time     `json:"last_call"`
}

// Health accumulates call outcomes for one backend. It is safe for
// concurrent use.
type Health struct {
	mu         sync.Mutex
	policy     HealthPolicy
	total      int64
	successful int64
	failed     int64
	avgLatency time.Duration
	lastError  string
	lastCall   time.Time
}

// NewHealth creates a tracker using policy.
func NewHealth(policy HealthPolicy) *Health {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultHealthPolicy().Threshold
	}
	if policy.MinSamples <= 0 {
		policy.MinSamples = DefaultHealthPolicy().MinSamples
	}
	return &Health{policy: policy}
}

// RecordSuccess counts a successful call and folds its latency into the
// running average.
func (h *Health) RecordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.successful++
	h.avgLatency += (latency - h.avgLatency) / time.Duration(h.successful)
	h.lastCall = time.Now()
}

// RecordFailure counts a failed call.
func (h *Health) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.failed++
	if err != nil {
		h.lastError = err.Error()
	}
	h.lastCall = time.Now()
}

// Snapshot returns the current counters and derived flags.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := HealthSnapshot{
		Total:      h.total,
		Successful: h.successful,
		Failed:     h.failed,
		AvgLatency: h.avgLatency,
		LastError:  h.lastError,
		LastCall:   h.lastCall,
	}
	if h.total > 0 {
		s.ErrorRate = float64(h.failed) / float64(h.total)
	}
	s.Healthy = h.total < int64(h.policy.MinSamples) || s.ErrorRate < h.policy.Threshold
	return s
}
