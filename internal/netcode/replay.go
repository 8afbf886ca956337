package netcode

import (
	"context"
	"fmt"
	"log"

	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/fieldpool"
)

// ReplayFromHeader rebuilds the match a header describes, in its initial
// state.
func ReplayFromHeader(h MatchHeader, fields *fieldpool.Computer, logger *log.Logger) (*Match, error) {
	g, err := encoding.DecodeMask(h.Walls, h.Width, h.Height)
	if err != nil {
		return nil, fmt.Errorf("replay: walls: %w", err)
	}
	if h.GridDigest != "" && g.Digest() != h.GridDigest {
		return nil, fmt.Errorf("replay: grid digest mismatch: got=%s want=%s", g.Digest(), h.GridDigest)
	}
	return NewMatch(MatchConfig{Tuning: h.Tuning, Grid: g, Bases: h.Bases, Fields: fields, Logger: logger})
}

// ReplayTick re-applies one logged tick and checks its digest.
func ReplayTick(ctx context.Context, m *Match, e TickLogEntry) error {
	for _, ctl := range e.Controls {
		m.Apply(ctl)
	}
	for s, g := range e.Goals {
		m.SetGoal(s, g)
	}
	stepped, err := m.Step(ctx)
	if err != nil {
		return err
	}
	if !stepped {
		return fmt.Errorf("tick %d: match already ended", e.Tick)
	}
	if m.Tick() != e.Tick {
		return fmt.Errorf("tick mismatch: stepped=%d entry=%d", m.Tick(), e.Tick)
	}
	if got := m.Digest(); got != e.Digest {
		return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", e.Tick, got, e.Digest)
	}
	return nil
}
