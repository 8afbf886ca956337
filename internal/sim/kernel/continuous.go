package kernel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"gonum.org/v1/gonum/floats"

	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

// ContinuousKernel holds one mass value per side per cell. Mass flows down
// the 4-neighborhood and opposing mass on a cell cancels.
type ContinuousKernel struct {
	cfg   tuning.Continuous
	g     *grid.Grid
	bases [Sides]grid.Point

	tick uint64
	mass [Sides][]float64
	back [Sides][]float64
}

func NewContinuous(cfg tuning.Continuous, g *grid.Grid, bases [Sides]grid.Point) *ContinuousKernel {
	k := &ContinuousKernel{cfg: cfg, g: g, bases: bases}
	for s := 0; s < Sides; s++ {
		k.mass[s] = make([]float64, g.Cells())
		k.back[s] = make([]float64, g.Cells())
	}
	k.Reset()
	return k
}

func (k *ContinuousKernel) Strategy() Strategy { return Continuous }

func (k *ContinuousKernel) Reset() {
	k.tick = 0
	for s := 0; s < Sides; s++ {
		clear(k.mass[s])
		k.mass[s][k.g.Index(k.bases[s].X, k.bases[s].Y)] = k.cfg.InitialMass
	}
}

// Mass exposes the side's per-cell buffer. Writes are visible to the next
// Step.
func (k *ContinuousKernel) Mass(side int) []float64 { return k.mass[side] }

// FlowFraction is the share of a cell's mass moved per tick of length dt.
func (k *ContinuousKernel) FlowFraction(dt float64) float64 {
	f := k.cfg.FlowRate * dt
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Min(f, k.cfg.MaxFlowFraction)
}

func (k *ContinuousKernel) Step(fields [Sides]*field.Field, dt float64) {
	k.tick++
	frac := k.FlowFraction(dt)
	for s := 0; s < Sides; s++ {
		if fields[s] != nil && frac > 0 {
			k.flow(s, fields[s], frac)
		}
		base := k.g.Index(k.bases[s].X, k.bases[s].Y)
		k.mass[s][base] += k.cfg.Production
	}
	k.resolve()
}

// flow moves frac of each cell toward its lowest strictly-lower
// 4-neighbor. Reads come from the current buffer, writes go to the back
// buffer, so the result does not depend on scan order.
func (k *ContinuousKernel) flow(side int, f *field.Field, frac float64) {
	cur, nxt := k.mass[side], k.back[side]
	copy(nxt, cur)
	w, h := k.g.Width(), k.g.Height()
	for i, m := range cur {
		if m <= 0 {
			continue
		}
		x, y := k.g.Coord(i)
		best := f.AtIndex(i)
		to := -1
		for _, d := range field.Dirs[:4] {
			nx, ny := x+d.DX, y+d.DY
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			ni := ny*w + nx
			if !k.g.WalkableAt(ni) {
				continue
			}
			if v := f.AtIndex(ni); v < best {
				best, to = v, ni
			}
		}
		if to < 0 {
			continue
		}
		moved := m * frac
		nxt[i] -= moved
		nxt[to] += moved
	}
	k.mass[side], k.back[side] = nxt, cur
}

// resolve leaves only the difference on contested cells.
func (k *ContinuousKernel) resolve() {
	a, b := k.mass[0], k.mass[1]
	for i := range a {
		if a[i] == 0 || b[i] == 0 {
			continue
		}
		net := a[i] - b[i]
		if net > 0 {
			a[i], b[i] = net, 0
		} else {
			a[i], b[i] = 0, -net
		}
	}
}

func (k *ContinuousKernel) Cells(dst []encoding.Cell) {
	a, b := k.mass[0], k.mass[1]
	for i := range dst {
		var c encoding.Cell
		switch {
		case a[i] > 0:
			c = encoding.Cell{Owner: encoding.OwnerOf(0), Mag: encoding.QuantizeMass(a[i], k.cfg.QuantScale)}
		case b[i] > 0:
			c = encoding.Cell{Owner: encoding.OwnerOf(1), Mag: encoding.QuantizeMass(b[i], k.cfg.QuantScale)}
		}
		if c.Mag == 0 {
			c = encoding.Cell{}
		}
		dst[i] = c
	}
}

func (k *ContinuousKernel) Census() Census {
	c := Census{Tick: k.tick}
	for s := 0; s < Sides; s++ {
		c.Mass[s] = floats.Sum(k.mass[s])
		idx := k.g.Index(k.bases[s].X, k.bases[s].Y)
		switch {
		case k.mass[0][idx] > k.mass[1][idx]:
			c.BaseOwner[s] = 0
		case k.mass[1][idx] > k.mass[0][idx]:
			c.BaseOwner[s] = 1
		default:
			c.BaseOwner[s] = -1
		}
	}
	return c
}

func (k *ContinuousKernel) Digest() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k.tick)
	h.Write(buf[:])
	for s := 0; s < Sides; s++ {
		for _, m := range k.mass[s] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
