package netcode

import (
	"time"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
)

// DecodedState is one snapshot expanded to per-cell values.
type DecodedState struct {
	Seq        uint64
	Tick       uint64
	Width      int
	Height     int
	Strategy   string
	Goals      [2]protocol.Goal
	Phase      string
	Winner     int
	Reason     string
	ControlSeq uint64
	Cells      []encoding.Cell
	Totals     encoding.Totals
}

// Decode expands a snapshot. Truncated runs leave the rest of the grid
// empty; only a bad size fails.
func Decode(msg protocol.SnapshotMsg) (*DecodedState, bool) {
	n, ok := encoding.CellCount(msg.Width, msg.Height)
	if !ok {
		return nil, false
	}
	s := &DecodedState{
		Seq:        msg.Seq,
		Tick:       msg.Tick,
		Width:      msg.Width,
		Height:     msg.Height,
		Strategy:   msg.Strategy,
		Goals:      msg.Goals,
		Phase:      msg.Phase,
		Winner:     msg.Winner,
		Reason:     msg.Reason,
		ControlSeq: msg.ControlSeq,
		Cells:      make([]encoding.Cell, n),
	}
	s.Totals, _ = encoding.DecodeRuns(msg.Runs, s.Cells)
	return s, true
}

// RenderState is what a renderer draws for one frame. Slices are owned by
// the receiver.
type RenderState struct {
	Ready  bool
	Seq    uint64
	Tick   uint64
	Alpha  float64
	Width  int
	Height int
	Goals  [2]protocol.Goal
	Phase  string
	Winner int
	Reason string
	Owners []encoding.Owner
	Mags   []float64
	Totals encoding.Totals
}

// Interpolator blends the previous and current snapshot. It holds no
// simulation logic and never extrapolates past the current snapshot.
type Interpolator struct {
	nominal time.Duration
	prev    *DecodedState
	cur     *DecodedState
	alpha   float64
}

// NewInterpolator blends over nominal, normally the send interval.
func NewInterpolator(nominal time.Duration) *Interpolator {
	if nominal <= 0 {
		nominal = time.Second / 15
	}
	return &Interpolator{nominal: nominal}
}

// Push makes s current and resets the blend. The first snapshot, or one
// with a different grid size, also becomes the previous state.
func (in *Interpolator) Push(s *DecodedState) {
	if s == nil {
		return
	}
	if in.cur == nil || in.cur.Width != s.Width || in.cur.Height != s.Height {
		in.prev = s
	} else {
		in.prev = in.cur
	}
	in.cur = s
	in.alpha = 0
}

// Advance moves the blend by dt, clamped to [0,1].
func (in *Interpolator) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	in.alpha += float64(dt) / float64(in.nominal)
	if in.alpha > 1 {
		in.alpha = 1
	}
}

func (in *Interpolator) Alpha() float64 { return in.alpha }

func (in *Interpolator) Current() *DecodedState { return in.cur }

// Frame renders the blend. Goals and magnitudes are linear; phase, winner
// and owners snap to the current snapshot. A magnitude whose owner changed
// blends from zero, since the new owner had none there.
func (in *Interpolator) Frame() RenderState {
	if in.cur == nil {
		return RenderState{Winner: -1}
	}
	p, c, a := in.prev, in.cur, in.alpha
	rs := RenderState{
		Ready:  true,
		Seq:    c.Seq,
		Tick:   c.Tick,
		Alpha:  a,
		Width:  c.Width,
		Height: c.Height,
		Phase:  c.Phase,
		Winner: c.Winner,
		Reason: c.Reason,
		Totals: c.Totals,
		Owners: make([]encoding.Owner, len(c.Cells)),
		Mags:   make([]float64, len(c.Cells)),
	}
	for s := range rs.Goals {
		rs.Goals[s] = protocol.Goal{
			X: lerp(p.Goals[s].X, c.Goals[s].X, a),
			Y: lerp(p.Goals[s].Y, c.Goals[s].Y, a),
		}
	}
	for i, cc := range c.Cells {
		from := 0.0
		if pc := p.Cells[i]; pc.Owner == cc.Owner {
			from = float64(pc.Mag)
		}
		rs.Owners[i] = cc.Owner
		rs.Mags[i] = lerp(from, float64(cc.Mag), a)
	}
	return rs
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
