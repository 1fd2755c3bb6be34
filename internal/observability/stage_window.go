package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the rolling latency samples of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StageSnapshot is served at /v1/perf/latency.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// Per-stage p95 targets in milliseconds.
var stageTargets = map[string]float64{
	"session_cache_hit": 5,
	"remote_lookup":     300,
	"synthesis":         8000,
	"upload":            1500,
	"register_metadata": 500,
	"play_to_ready":     10000,
	"generate_show":     60000,
}

type stageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

// ring keeps the most recent samples; count saturates at len(values).
type ring struct {
	values []float64
	pos    int
	count  int
	last   float64
}

func (r *ring) add(v float64) {
	r.values[r.pos] = v
	r.pos = (r.pos + 1) % len(r.values)
	r.count = min(r.count+1, len(r.values))
	r.last = v
}

func (r *ring) sorted() []float64 {
	out := slices.Clone(r.values[:r.count])
	slices.Sort(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if r.count == 0 {
			continue
		}
		samples := r.sorted()
		var sum float64
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stageTargets[stage],
		})
	}
	for _, name := range sortedKeys(w.indicators) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	idx := q * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
