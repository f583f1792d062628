// Package metrics keeps in-process latency windows per route.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultWindow = 512

// LatencyStats summarizes one window of samples.
type LatencyStats struct {
	Count int
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"avg_ms": millis(s.Avg),
		"p50_ms": millis(s.P50),
		"p95_ms": millis(s.P95),
		"p99_ms": millis(s.P99),
		"max_ms": millis(s.Max),
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// window is a fixed-size ring of the most recent samples.
type window struct {
	samples []time.Duration
	next    int
	full    bool
}

func (w *window) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) snapshot() []time.Duration {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	out := make([]time.Duration, n)
	copy(out, w.samples[:n])
	return out
}

// Registry records latencies keyed by name, usually "METHOD /route".
type Registry struct {
	mu      sync.Mutex
	size    int
	windows map[string]*window
}

func NewRegistry(size int) *Registry {
	if size <= 0 {
		size = defaultWindow
	}
	return &Registry{size: size, windows: make(map[string]*window)}
}

func (r *Registry) Record(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[name]
	if !ok {
		w = &window{samples: make([]time.Duration, r.size)}
		r.windows[name] = w
	}
	w.add(d)
}

func (r *Registry) Stats(name string) LatencyStats {
	r.mu.Lock()
	w, ok := r.windows[name]
	var samples []time.Duration
	if ok {
		samples = w.snapshot()
	}
	r.mu.Unlock()
	return summarize(samples)
}

// Snapshot returns stats for every recorded name.
func (r *Registry) Snapshot() map[string]LatencyStats {
	r.mu.Lock()
	raw := make(map[string][]time.Duration, len(r.windows))
	for name, w := range r.windows {
		raw[name] = w.snapshot()
	}
	r.mu.Unlock()

	result := make(map[string]LatencyStats, len(raw))
	for name, samples := range raw {
		result[name] = summarize(samples)
	}
	return result
}

func summarize(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	n := len(samples)
	return LatencyStats{
		Count: n,
		Avg:   sum / time.Duration(n),
		P50:   percentile(samples, 0.50),
		P95:   percentile(samples, 0.95),
		P99:   percentile(samples, 0.99),
		Max:   samples[n-1],
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
