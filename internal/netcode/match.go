package netcode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/fieldpool"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/kernel"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/telemetry"
)

type MatchConfig struct {
	Tuning tuning.Tuning
	Grid   *grid.Grid
	Bases  [kernel.Sides]grid.Point

	// Fields is shared when set; otherwise the match starts its own pool
	// and closes it in Close.
	Fields *fieldpool.Computer
	Logger *log.Logger
	Perf   *telemetry.PerfCollector
}

// Match is the writable simulation state: kernel, goals and outcome. It has
// no transport and no clock; Authority drives it in real time and the
// replay tool drives it from a log.
type Match struct {
	cfg  MatchConfig
	log  *log.Logger
	perf *telemetry.PerfCollector

	k         kernel.Kernel
	fields    *fieldpool.Computer
	ownFields bool
	dt        float64

	tick    uint64
	goals   [kernel.Sides]protocol.Goal
	outcome Outcome
	cells   []encoding.Cell
}

func NewMatch(cfg MatchConfig) (*Match, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Grid == nil {
		return nil, errors.New("netcode: nil grid")
	}
	t := cfg.Tuning
	k, err := kernel.New(kernel.Strategy(t.Strategy), t, cfg.Grid, cfg.Bases, t.Seed)
	if err != nil {
		return nil, err
	}
	m := &Match{
		cfg:   cfg,
		log:   cfg.Logger,
		perf:  cfg.Perf,
		k:     k,
		dt:    1 / float64(t.TickRateHz),
		cells: make([]encoding.Cell, cfg.Grid.Cells()),
	}
	m.fields = cfg.Fields
	if m.fields == nil {
		m.fields = fieldpool.New(t.Workers, kernel.Sides, t.Neighbors, cfg.Logger)
		m.ownFields = true
	}
	if err := m.fields.Initialize(cfg.Grid); err != nil {
		m.Close()
		return nil, fmt.Errorf("netcode: init fields: %w", err)
	}
	m.resetGoals()
	m.outcome = playing
	return m, nil
}

func (m *Match) Close() {
	if m.ownFields {
		m.fields.Close()
	}
}

// resetGoals aims each side at the opposing base.
func (m *Match) resetGoals() {
	g := m.cfg.Grid
	for s := 0; s < kernel.Sides; s++ {
		b := m.cfg.Bases[1-s]
		m.goals[s] = protocol.Goal{
			X: (float64(b.X) + 0.5) / float64(g.Width()),
			Y: (float64(b.Y) + 0.5) / float64(g.Height()),
		}
	}
}

func (m *Match) Tick() uint64                       { return m.tick }
func (m *Match) Goals() [kernel.Sides]protocol.Goal { return m.goals }
func (m *Match) Outcome() Outcome                   { return m.outcome }
func (m *Match) Census() kernel.Census              { return m.k.Census() }
func (m *Match) Digest() string                     { return m.k.Digest() }
func (m *Match) Strategy() kernel.Strategy          { return m.k.Strategy() }
func (m *Match) Grid() *grid.Grid                   { return m.cfg.Grid }
func (m *Match) Bases() [kernel.Sides]grid.Point    { return m.cfg.Bases }
func (m *Match) Tuning() tuning.Tuning              { return m.cfg.Tuning }

// SetGoal replaces a side's goal. Callers clamp first.
func (m *Match) SetGoal(side int, g protocol.Goal) {
	if side >= 0 && side < kernel.Sides {
		m.goals[side] = g
	}
}

// Step computes both fields in parallel and advances the kernel one tick.
// It reports false without stepping once the match has ended. A failed
// field leaves that side stationary for the tick.
func (m *Match) Step(ctx context.Context) (bool, error) {
	if m.outcome.Ended {
		return false, nil
	}
	if m.perf != nil {
		m.perf.StartTick()
		m.perf.StartPhase(telemetry.PhaseFields)
	}

	var futs [kernel.Sides]*fieldpool.Future
	for s := 0; s < kernel.Sides; s++ {
		f, err := m.fields.Compute(s, m.goals[s].X, m.goals[s].Y)
		if err != nil {
			return false, fmt.Errorf("netcode: compute side %d: %w", s, err)
		}
		futs[s] = f
	}
	var fs [kernel.Sides]*field.Field
	for s, fut := range futs {
		f, err := fut.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			m.log.Printf("tick=%d field side=%d: %v", m.tick+1, s, err)
			continue
		}
		fs[s] = f
	}

	if m.perf != nil {
		m.perf.StartPhase(telemetry.PhaseKernel)
	}
	m.k.Step(fs, m.dt)
	for s, f := range fs {
		if f != nil {
			m.fields.Release(s, f)
		}
	}
	m.tick++
	m.outcome = Evaluate(m.k.Strategy(), m.k.Census(), m.cfg.Tuning.Continuous)
	if m.perf != nil {
		m.perf.EndTick()
	}
	return true, nil
}

// Rematch rebuilds the initial state from the match seed.
func (m *Match) Rematch() {
	m.k.Reset()
	m.tick = 0
	m.resetGoals()
	m.outcome = playing
}

// Forfeit ends a running match in favor of the other side. It reports
// whether anything changed.
func (m *Match) Forfeit(side int) bool {
	if m.outcome.Ended || side < 0 || side >= kernel.Sides {
		return false
	}
	m.outcome = Forfeit(side)
	return true
}

// Apply runs a state-changing control action.
func (m *Match) Apply(ctl protocol.ControlMsg) bool {
	switch ctl.Action {
	case protocol.ActionRematch:
		m.Rematch()
		return true
	case protocol.ActionForfeit:
		return m.Forfeit(ctl.Side)
	}
	return false
}

// Snapshot fills msg with the current state. msg.Runs is reused as the
// encode buffer.
func (m *Match) Snapshot(msg *protocol.SnapshotMsg) {
	start := time.Now()
	m.k.Cells(m.cells)
	msg.ProtocolVersion = protocol.Version
	msg.Tick = m.tick
	msg.Width = m.cfg.Grid.Width()
	msg.Height = m.cfg.Grid.Height()
	msg.Strategy = string(m.k.Strategy())
	msg.Goals = m.goals
	msg.Phase = protocol.PhasePlaying
	if m.outcome.Ended {
		msg.Phase = protocol.PhaseEnded
	}
	msg.Winner = m.outcome.Winner
	msg.Reason = m.outcome.Reason
	msg.Runs = encoding.EncodeRuns(m.cells, msg.Runs[:0])
	if m.perf != nil {
		m.perf.Span(telemetry.PhaseEncode, time.Since(start))
	}
}
