package netcode

import (
	"math"
	"math/rand"

	"tidewar.ai/internal/protocol"
)

// Wanderer produces a goal that drifts toward a target with a seeded
// random wobble. Headless players use it in place of a pointer.
type Wanderer struct {
	rng    *rand.Rand
	pos    protocol.Goal
	target protocol.Goal
	// Speed is the distance moved per Next call, in normalized units.
	Speed float64
	// Wobble is the maximum sideways jitter per call.
	Wobble float64
}

func NewWanderer(seed int64, start, target protocol.Goal) *Wanderer {
	return &Wanderer{
		rng:    rand.New(rand.NewSource(seed)),
		pos:    start,
		target: target,
		Speed:  0.01,
		Wobble: 0.02,
	}
}

func (w *Wanderer) SetTarget(g protocol.Goal) { w.target = g }
func (w *Wanderer) Pos() protocol.Goal        { return w.pos }

// Next advances one step. Within Speed of the target it settles there.
func (w *Wanderer) Next() protocol.Goal {
	dx, dy := w.target.X-w.pos.X, w.target.Y-w.pos.Y
	d := math.Hypot(dx, dy)
	if d <= w.Speed {
		w.pos = w.target
		return w.pos
	}
	ux, uy := dx/d, dy/d
	// The wobble fades out near the target so the walk converges.
	j := (w.rng.Float64()*2 - 1) * math.Min(w.Wobble, d-w.Speed)
	w.pos, _ = ClampGoal(w.pos.X+ux*w.Speed-uy*j, w.pos.Y+uy*w.Speed+ux*j)
	return w.pos
}
