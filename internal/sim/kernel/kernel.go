package kernel

import (
	"fmt"

	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

// Sides is fixed at two. Outcome rules depend on it.
const Sides = 2

type Strategy string

const (
	Discrete   Strategy = tuning.StrategyDiscrete
	Continuous Strategy = tuning.StrategyContinuous
)

// Census is the per-tick summary the authority uses for outcome rules.
type Census struct {
	Tick uint64

	// Count is the agent count per side (discrete only).
	Count [Sides]int
	// Mass is the total magnitude per side. For the discrete strategy it
	// equals Count.
	Mass [Sides]float64
	// BaseOwner is the resolved owning side of each side's base cell, or -1.
	BaseOwner [Sides]int
}

// Kernel advances the swarm one tick from per-side distance fields. A nil
// field leaves that side stationary for the tick.
type Kernel interface {
	Strategy() Strategy
	Step(fields [Sides]*field.Field, dt float64)
	// Cells writes one quantized cell per grid cell into dst, which must
	// have Width*Height entries.
	Cells(dst []encoding.Cell)
	Census() Census
	// Reset rebuilds the initial state from the construction seed.
	Reset()
	Digest() string
}

func New(strategy Strategy, cfg tuning.Tuning, g *grid.Grid, bases [Sides]grid.Point, seed int64) (Kernel, error) {
	if g == nil {
		return nil, fmt.Errorf("kernel: nil grid")
	}
	for s, b := range bases {
		if !g.IsWalkable(b.X, b.Y) {
			return nil, fmt.Errorf("kernel: base %d at (%d,%d) is not walkable", s, b.X, b.Y)
		}
	}
	switch strategy {
	case Discrete:
		return NewDiscrete(cfg.Discrete, g, bases, seed), nil
	case Continuous:
		return NewContinuous(cfg.Continuous, g, bases), nil
	default:
		return nil, fmt.Errorf("kernel: unknown strategy %q", strategy)
	}
}

func other(side int) int { return 1 - side }
