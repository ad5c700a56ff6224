package worker

import (
	"context"
	"errors"
	"testing"
)

type fakeDepth struct {
	depth QueueDepth
	err   error
}

func (f *fakeDepth) Depth(context.Context) (QueueDepth, error) { return f.depth, f.err }

func TestBackpressureHysteresis(t *testing.T) {
	src := &fakeDepth{}
	bp := NewBackpressureMonitor(src, 100)
	ctx := context.Background()

	steps := []struct {
		ready, delayed int64
		wantPaused     bool
	}{
		{10, 0, false},
		{80, 20, true},  // reaches threshold
		{60, 0, true},   // inside the band, stays paused
		{40, 5, false},  // below half, resumes
		{70, 10, false}, // inside the band, stays running
	}
	for i, s := range steps {
		src.depth = QueueDepth{Ready: s.ready, Delayed: s.delayed, Processing: 999}
		bp.check(ctx)
		if got := bp.IsPaused(); got != s.wantPaused {
			t.Errorf("step %d: paused=%v, want %v", i, got, s.wantPaused)
		}
		if got := bp.LastDepth(); got != s.ready+s.delayed {
			t.Errorf("step %d: last depth %d, want %d", i, got, s.ready+s.delayed)
		}
	}
}

func TestBackpressureKeepsStateOnError(t *testing.T) {
	src := &fakeDepth{depth: QueueDepth{Ready: 500}}
	bp := NewBackpressureMonitor(src, 100)
	bp.check(context.Background())
	if !bp.IsPaused() {
		t.Fatal("expected paused")
	}

	src.err = errors.New("redis down")
	src.depth = QueueDepth{}
	bp.check(context.Background())
	if !bp.IsPaused() {
		t.Error("a failed check must not resume admission")
	}
}

func TestBackpressureDefaultThreshold(t *testing.T) {
	bp := NewBackpressureMonitor(&fakeDepth{}, 0)
	if bp.maxQueueDepth != 100000 {
		t.Errorf("maxQueueDepth = %d, want 100000", bp.maxQueueDepth)
	}
}
