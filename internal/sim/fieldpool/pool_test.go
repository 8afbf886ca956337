package fieldpool

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/grid"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestCompute_MatchesDirectSolve(t *testing.T) {
	g := grid.Open(12, 9)
	c := New(2, 2, 8, quietLogger())
	defer c.Close()
	if err := c.Initialize(g); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fut, err := c.Compute(0, 0.25, 0.75)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	got, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := field.NewField(12, 9)
	field.NewSolver(g, 8).Solve(want, 0.25, 0.75)
	if !got.Equal(want) {
		t.Fatalf("pooled field differs from direct solve")
	}
}

func TestCompute_ReusesReleasedBuffer(t *testing.T) {
	c := New(1, 2, 8, quietLogger())
	defer c.Close()
	if err := c.Initialize(grid.Open(5, 5)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx := context.Background()

	fut, _ := c.Compute(1, 0, 0)
	first, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	c.Release(1, first)

	fut, _ = c.Compute(1, 1, 1)
	second, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if first != second {
		t.Fatalf("expected the released buffer to be reused")
	}
	if second.At(4, 4) != 0 {
		t.Fatalf("reused buffer holds stale data: cost(4,4)=%d", second.At(4, 4))
	}
}

func TestCompute_RejectsSecondRequestForSide(t *testing.T) {
	c := New(2, 2, 8, quietLogger())
	defer c.Close()
	gate := make(chan struct{})
	c.solve = func(s *field.Solver, dst *field.Field, x, y float64) {
		<-gate
		s.Solve(dst, x, y)
	}
	if err := c.Initialize(grid.Open(4, 4)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fut, err := c.Compute(0, 0, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if _, err := c.Compute(0, 1, 1); !errors.Is(err, ErrSideBusy) {
		t.Fatalf("second Compute: got %v want ErrSideBusy", err)
	}
	if err := c.Initialize(grid.Open(4, 4)); !errors.Is(err, ErrBusy) {
		t.Fatalf("Initialize while busy: got %v want ErrBusy", err)
	}
	close(gate)
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestCompute_SidesRunInParallel(t *testing.T) {
	c := New(2, 2, 8, quietLogger())
	defer c.Close()
	var running, peak atomic.Int32
	release := make(chan struct{})
	c.solve = func(s *field.Solver, dst *field.Field, x, y float64) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		s.Solve(dst, x, y)
		running.Add(-1)
	}
	if err := c.Initialize(grid.Open(8, 8)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	a, _ := c.Compute(0, 0, 0)
	b, _ := c.Compute(1, 1, 1)

	deadline := time.Now().Add(2 * time.Second)
	for peak.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	if _, err := a.Wait(context.Background()); err != nil {
		t.Fatalf("Wait a: %v", err)
	}
	if _, err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait b: %v", err)
	}
	if peak.Load() != 2 {
		t.Fatalf("expected both sides to run concurrently, peak=%d", peak.Load())
	}
}

func TestCompute_PanicFailsOnlyThatFuture(t *testing.T) {
	c := New(1, 2, 8, quietLogger())
	defer c.Close()
	var calls atomic.Int32
	c.solve = func(s *field.Solver, dst *field.Field, x, y float64) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		s.Solve(dst, x, y)
	}
	if err := c.Initialize(grid.Open(6, 6)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx := context.Background()

	fut, _ := c.Compute(0, 0, 0)
	if f, err := fut.Wait(ctx); err == nil || f != nil {
		t.Fatalf("expected failed future, got field=%v err=%v", f, err)
	}

	fut, err := c.Compute(0, 0, 0)
	if err != nil {
		t.Fatalf("Compute after failure: %v", err)
	}
	f, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait after failure: %v", err)
	}
	if f.At(0, 0) != 0 || f.At(5, 0) != 5*field.CardinalCost {
		t.Fatalf("pool produced a wrong field after recovering")
	}
}

func TestCompute_LifecycleErrors(t *testing.T) {
	c := New(1, 2, 8, quietLogger())
	if _, err := c.Compute(0, 0, 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("before Initialize: got %v", err)
	}
	if err := c.Initialize(grid.Open(3, 3)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := c.Compute(2, 0, 0); !errors.Is(err, ErrBadSide) {
		t.Fatalf("bad side: got %v", err)
	}
	c.Close()
	c.Close()
	if _, err := c.Compute(0, 0, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("after Close: got %v", err)
	}
}

func TestWait_ContextCancel(t *testing.T) {
	c := New(1, 1, 8, quietLogger())
	gate := make(chan struct{})
	c.solve = func(s *field.Solver, dst *field.Field, x, y float64) { <-gate }
	if err := c.Initialize(grid.Open(3, 3)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	fut, _ := c.Compute(0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	close(gate)
	c.Close()
}

func TestNew_ClampsWorkers(t *testing.T) {
	c := New(0, 2, 8, quietLogger())
	defer c.Close()
	if got := c.Workers(); got != 1 {
		t.Fatalf("workers: got %d want 1", got)
	}
}
