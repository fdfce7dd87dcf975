package router

import (
	"sync"
	"time"
)

// CircuitState mirrors the classic breaker states. Half-open is implicit:
// when the cooldown lapses the next call probes the provider.
type CircuitState string

const (
	CircuitClosed CircuitState = "closed"
	CircuitOpen   CircuitState = "open"
)

// ProviderHealth is the tracked state for one provider tag.
type ProviderHealth struct {
	LastOkAt            time.Time    `json:"last_ok_at,omitzero"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Circuit             CircuitState `json:"circuit"`
	LastError           string       `json:"last_error,omitempty"`
}

// HealthTracker keeps per-provider failure counts and circuit state.
// Safe for concurrent use.
type HealthTracker struct {
	mu        sync.RWMutex
	state     map[string]*providerState
	threshold int
	cooldown  time.Duration
}

type providerState struct {
	lastOkAt     time.Time
	failures     int
	openUntil    time.Time
	lastError    string
}

func NewHealthTracker(threshold int, cooldown time.Duration) *HealthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &HealthTracker{
		state:     make(map[string]*providerState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (h *HealthTracker) get(tag string) *providerState {
	s, ok := h.state[tag]
	if !ok {
		s = &providerState{}
		h.state[tag] = s
	}
	return s
}

// RecordSuccess closes the circuit and resets the failure count.
func (h *HealthTracker) RecordSuccess(tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(tag)
	s.lastOkAt = time.Now()
	s.failures = 0
	s.openUntil = time.Time{}
	s.lastError = ""
}

// RecordFailure increments the failure count and opens the circuit once
// the threshold is reached. Returns true when this failure opened it.
func (h *HealthTracker) RecordFailure(tag string, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(tag)
	s.failures++
	if err != nil {
		s.lastError = err.Error()
	}
	if s.failures >= h.threshold && s.openUntil.IsZero() {
		s.openUntil = time.Now().Add(h.cooldown)
		return true
	}
	if s.failures >= h.threshold {
		// Already open; extend the cooldown.
		s.openUntil = time.Now().Add(h.cooldown)
	}
	return false
}

// Available reports whether the provider may be tried. An open circuit
// whose cooldown lapsed counts as available (probe).
func (h *HealthTracker) Available(tag string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.state[tag]
	if !ok {
		return true
	}
	return s.openUntil.IsZero() || time.Now().After(s.openUntil)
}

// Snapshot returns a copy of all tracked states, for the status endpoint.
func (h *HealthTracker) Snapshot() map[string]ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ProviderHealth, len(h.state))
	now := time.Now()
	for tag, s := range h.state {
		circuit := CircuitClosed
		if !s.openUntil.IsZero() && now.Before(s.openUntil) {
			circuit = CircuitOpen
		}
		out[tag] = ProviderHealth{
			LastOkAt:            s.lastOkAt,
			ConsecutiveFailures: s.failures,
			Circuit:             circuit,
			LastError:           s.lastError,
		}
	}
	return out
}
