package service

import (
	"sort"
	"sync"
	"time"
)

// failingIntervals is how many intervals a loop may keep failing before it
// is reported unhealthy.
const failingIntervals = 3

// LoopStatus is the last known outcome of one periodic loop.
type LoopStatus struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	LastSuccess  time.Time `json:"last_success"`
	LastFailure  time.Time `json:"last_failure"`
	FailingSince time.Time `json:"failing_since"`
	LastError    string    `json:"last_error,omitempty"`
	Failures     int       `json:"consecutive_failures"`

	interval time.Duration
}

// Heartbeat collects loop outcomes for the readiness check.
type Heartbeat struct {
	mu    sync.RWMutex
	loops map[string]*LoopStatus
}

func NewHeartbeat() *Heartbeat {
	return &Heartbeat{loops: map[string]*LoopStatus{}}
}

func (h *Heartbeat) Register(name string, interval time.Duration) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.loops[name]; ok {
		return
	}
	h.loops[name] = &LoopStatus{Name: name, Interval: interval.String(), interval: interval}
}

func (h *Heartbeat) Unregister(name string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.loops, name)
}

func (h *Heartbeat) Success(name string, at time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.entry(name)
	st.LastSuccess = at
	st.FailingSince = time.Time{}
	st.Failures = 0
	st.LastError = ""
}

func (h *Heartbeat) Failure(name string, err error, at time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.entry(name)
	st.LastFailure = at
	if st.FailingSince.IsZero() {
		st.FailingSince = at
	}
	st.Failures++
	if err != nil {
		st.LastError = err.Error()
	}
}

func (h *Heartbeat) entry(name string) *LoopStatus {
	st, ok := h.loops[name]
	if !ok {
		st = &LoopStatus{Name: name}
		h.loops[name] = st
	}
	return st
}

// Unhealthy lists loops that have been failing for longer than three of
// their intervals.
func (h *Heartbeat) Unhealthy(now time.Time) []LoopStatus {
	var out []LoopStatus
	for _, st := range h.Snapshot() {
		if st.FailingSince.IsZero() {
			continue
		}
		limit := failingIntervals * st.interval
		if limit <= 0 {
			limit = failingIntervals * time.Minute
		}
		if now.Sub(st.FailingSince) > limit {
			out = append(out, st)
		}
	}
	return out
}

func (h *Heartbeat) Snapshot() []LoopStatus {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]LoopStatus, 0, len(h.loops))
	for _, st := range h.loops {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
