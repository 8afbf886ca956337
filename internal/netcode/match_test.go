package netcode

import (
	"context"
	"testing"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/kernel"
	"tidewar.ai/internal/sim/tuning"
)

func testTuning(strategy string) tuning.Tuning {
	t := tuning.Defaults()
	t.Strategy = strategy
	t.Discrete.InitialAgents = 8
	t.Continuous.InitialMass = 50
	t.Seed = 7
	return t
}

func testArena() (*grid.Grid, [kernel.Sides]grid.Point) {
	return grid.Open(16, 8), [kernel.Sides]grid.Point{{X: 1, Y: 4}, {X: 14, Y: 4}}
}

func newTestMatch(t *testing.T, strategy string) *Match {
	t.Helper()
	g, bases := testArena()
	m, err := NewMatch(MatchConfig{Tuning: testTuning(strategy), Grid: g, Bases: bases})
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func stepDigests(t *testing.T, m *Match, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		if _, err := m.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
		out = append(out, m.Digest())
	}
	return out
}

func TestMatch_InitialGoalsAimAtOpposingBase(t *testing.T) {
	m := newTestMatch(t, tuning.StrategyDiscrete)
	goals := m.Goals()
	x, y := m.Grid().CellOf(goals[0].X, goals[0].Y)
	if (grid.Point{X: x, Y: y}) != m.Bases()[1] {
		t.Fatalf("side 0 goal cell: got (%d,%d) want %+v", x, y, m.Bases()[1])
	}
}

func TestMatch_DeterministicAcrossRematch(t *testing.T) {
	for _, strategy := range []string{tuning.StrategyDiscrete, tuning.StrategyContinuous} {
		m := newTestMatch(t, strategy)
		first := stepDigests(t, m, 6)
		m.Rematch()
		if m.Tick() != 0 {
			t.Fatalf("%s: tick after rematch: got %d want 0", strategy, m.Tick())
		}
		second := stepDigests(t, m, 6)
		other := stepDigests(t, newTestMatch(t, strategy), 6)
		for i := range first {
			if first[i] != second[i] || first[i] != other[i] {
				t.Fatalf("%s tick %d: digests differ: %s %s %s", strategy, i+1, first[i], second[i], other[i])
			}
		}
	}
}

func TestMatch_ForfeitStopsStepping(t *testing.T) {
	m := newTestMatch(t, tuning.StrategyDiscrete)
	stepDigests(t, m, 2)
	if !m.Forfeit(0) {
		t.Fatalf("first forfeit should apply")
	}
	if m.Forfeit(1) {
		t.Fatalf("forfeit on an ended match should not apply")
	}
	if o := m.Outcome(); !o.Ended || o.Winner != 1 || o.Reason != protocol.ReasonForfeit {
		t.Fatalf("outcome: got %+v", o)
	}
	stepped, err := m.Step(context.Background())
	if err != nil || stepped {
		t.Fatalf("Step after end: got stepped=%v err=%v", stepped, err)
	}
	if m.Tick() != 2 {
		t.Fatalf("tick: got %d want 2", m.Tick())
	}
}

func TestMatch_Snapshot(t *testing.T) {
	m := newTestMatch(t, tuning.StrategyDiscrete)
	var msg protocol.SnapshotMsg
	m.Snapshot(&msg)
	s, ok := Decode(msg)
	if !ok {
		t.Fatalf("Decode failed")
	}
	census := m.Census()
	occupied := [kernel.Sides]int{}
	for _, c := range s.Cells {
		if side := c.Owner.Side(); side >= 0 {
			occupied[side]++
		}
	}
	for side := 0; side < kernel.Sides; side++ {
		if occupied[side] == 0 || occupied[side] > census.Count[side] {
			t.Fatalf("side %d: %d occupied cells for %d agents", side, occupied[side], census.Count[side])
		}
	}
	if msg.Phase != protocol.PhasePlaying || msg.Winner != -1 {
		t.Fatalf("phase: got %s winner=%d", msg.Phase, msg.Winner)
	}
}
