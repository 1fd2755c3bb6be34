package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("synthesis", 500)
	w.Observe("synthesis", 700)
	w.Observe("synthesis", 900)
	w.ObserveIndicator("stale_result_dropped")
	w.ObserveIndicator("stale_result_dropped")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "synthesis" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "synthesis")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 8000 {
		t.Fatalf("TargetP95MS = %.2f, want 8000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe("upload", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 {
		t.Fatalf("stats = %+v, want 2 samples averaging 25", s)
	}
}

func TestMetricsObserveStage(t *testing.T) {
	m := NewMetrics("test_observability_" + time.Now().Format("150405000000"))
	m.ObserveStage("remote_lookup", 40*time.Millisecond)
	m.ObserveBackend("/tts", 0, time.Second)
	m.ObserveCacheLookup("session", true)
	m.ObserveSynthesis("ok", 2*time.Second)

	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 40 {
		t.Fatalf("SnapshotStages() = %+v", snap)
	}
}
