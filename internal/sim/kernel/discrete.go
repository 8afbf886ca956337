package kernel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"

	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

type Agent struct {
	X, Y   int
	Side   int
	Health float64
}

// DiscreteKernel moves individual agents down their side's field, resolves
// adjacent combat and converts dead agents. Agents are never destroyed.
type DiscreteKernel struct {
	cfg   tuning.Discrete
	g     *grid.Grid
	bases [Sides]grid.Point
	seed  int64

	rng    *rand.Rand
	tick   uint64
	agents []Agent

	// Arena buffers, sized once and reset before each use.
	count [Sides][]int32 // agents per side per cell
	head  []int32        // first agent in cell bucket, -1 if empty
	next  []int32        // next agent in the same bucket
	dmg   []float64
	heal  []bool
	foe   []int8 // side of an adjacent enemy, -1 if none
}

func NewDiscrete(cfg tuning.Discrete, g *grid.Grid, bases [Sides]grid.Point, seed int64) *DiscreteKernel {
	n := g.Cells()
	k := &DiscreteKernel{cfg: cfg, g: g, bases: bases, seed: seed, head: make([]int32, n)}
	for s := range k.count {
		k.count[s] = make([]int32, n)
	}
	k.Reset()
	return k
}

func (k *DiscreteKernel) Strategy() Strategy { return Discrete }

func (k *DiscreteKernel) Reset() {
	k.rng = rand.New(rand.NewSource(k.seed))
	k.tick = 0
	k.agents = k.agents[:0]
	for s := range k.count {
		clear(k.count[s])
	}
	for s := 0; s < Sides; s++ {
		k.seedAround(s, k.cfg.InitialAgents)
	}
}

// Agents returns the live agent slice. Callers must not retain it across
// Step.
func (k *DiscreteKernel) Agents() []Agent { return k.agents }

// SetAgents replaces the agent set, clamping health to the configured max.
func (k *DiscreteKernel) SetAgents(agents []Agent) {
	k.agents = k.agents[:0]
	for s := range k.count {
		clear(k.count[s])
	}
	for _, a := range agents {
		if !k.g.IsWalkable(a.X, a.Y) || a.Side < 0 || a.Side >= Sides {
			continue
		}
		a.Health = math.Min(a.Health, k.cfg.MaxHealth)
		k.add(a)
	}
}

func (k *DiscreteKernel) add(a Agent) {
	k.agents = append(k.agents, a)
	k.count[a.Side][k.g.Index(a.X, a.Y)]++
}

// seedAround places n agents on distinct free cells in rings around the
// side's base. Stops early if the reachable rings run out of cells.
func (k *DiscreteKernel) seedAround(side, n int) {
	b := k.bases[side]
	maxR := max(k.g.Width(), k.g.Height())
	for r := 0; r <= maxR && n > 0; r++ {
		for y := b.Y - r; y <= b.Y+r && n > 0; y++ {
			for x := b.X - r; x <= b.X+r && n > 0; x++ {
				if max(abs(x-b.X), abs(y-b.Y)) != r || !k.free(side, x, y) {
					continue
				}
				if k.count[side][k.g.Index(x, y)] > 0 {
					continue
				}
				k.add(Agent{X: x, Y: y, Side: side, Health: k.cfg.MaxHealth})
				n--
			}
		}
	}
}

// spawn adds one agent at the nearest walkable cell to the base that holds
// no enemy.
func (k *DiscreteKernel) spawn(side int) {
	b := k.bases[side]
	maxR := max(k.g.Width(), k.g.Height())
	for r := 0; r <= maxR; r++ {
		for y := b.Y - r; y <= b.Y+r; y++ {
			for x := b.X - r; x <= b.X+r; x++ {
				if max(abs(x-b.X), abs(y-b.Y)) != r || !k.free(side, x, y) {
					continue
				}
				k.add(Agent{X: x, Y: y, Side: side, Health: k.cfg.MaxHealth})
				return
			}
		}
	}
}

func (k *DiscreteKernel) free(side, x, y int) bool {
	return k.g.IsWalkable(x, y) && k.count[other(side)][k.g.Index(x, y)] == 0
}

func (k *DiscreteKernel) Step(fields [Sides]*field.Field, dt float64) {
	k.tick++
	k.move(fields)
	k.combat(fields)
	if k.cfg.SpawnEveryTicks > 0 && k.tick%uint64(k.cfg.SpawnEveryTicks) == 0 {
		var c [Sides]int
		for _, a := range k.agents {
			c[a.Side]++
		}
		for s := 0; s < Sides; s++ {
			if k.cfg.MaxAgentsPerSide <= 0 || c[s] < k.cfg.MaxAgentsPerSide {
				k.spawn(s)
			}
		}
	}
}

func (k *DiscreteKernel) move(fields [Sides]*field.Field) {
	n := len(k.agents)
	if n == 0 {
		return
	}
	start := k.rng.Intn(n)
	for step := 0; step < n; step++ {
		a := &k.agents[(start+step)%n]
		f := fields[a.Side]
		if f == nil {
			continue
		}
		cur := f.At(a.X, a.Y)
		if cur == field.Unreachable {
			continue
		}
		dir := k.rng.Intn(len(field.Ring8))
		best, bx, by := cur, a.X, a.Y
		for j := 0; j < len(field.Ring8); j++ {
			d := field.Ring8[(dir+j)%len(field.Ring8)]
			nx, ny := a.X+d.DX, a.Y+d.DY
			if !k.free(a.Side, nx, ny) {
				continue
			}
			if v := f.At(nx, ny); v < best {
				best, bx, by = v, nx, ny
			}
		}
		if bx == a.X && by == a.Y {
			continue
		}
		k.count[a.Side][k.g.Index(a.X, a.Y)]--
		k.count[a.Side][k.g.Index(bx, by)]++
		a.X, a.Y = bx, by
	}
}

func (k *DiscreteKernel) ownDistance(fields [Sides]*field.Field, a Agent) int32 {
	if f := fields[a.Side]; f != nil {
		return f.At(a.X, a.Y)
	}
	return field.Unreachable
}

// combat accumulates damage and heal for every agent from its 3x3
// neighborhood, then applies them together so visiting order has no effect.
func (k *DiscreteKernel) combat(fields [Sides]*field.Field) {
	n := len(k.agents)
	k.resetScratch(n)
	for i := range k.agents {
		idx := k.g.Index(k.agents[i].X, k.agents[i].Y)
		k.next[i] = k.head[idx]
		k.head[idx] = int32(i)
	}

	for i := range k.agents {
		a := k.agents[i]
		da := k.ownDistance(fields, a)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				x, y := a.X+dx, a.Y+dy
				if !k.g.InBounds(x, y) {
					continue
				}
				for j := k.head[k.g.Index(x, y)]; j >= 0; j = k.next[j] {
					if int(j) == i {
						continue
					}
					b := k.agents[j]
					if b.Side == a.Side {
						k.heal[i] = true
						continue
					}
					k.foe[i] = int8(b.Side)
					// The agent farther from its own goal strikes. Equal
					// distances strike both ways.
					if da >= k.ownDistance(fields, b) {
						k.dmg[j] += k.cfg.Damage
					}
				}
			}
		}
	}

	half := k.cfg.MaxHealth / 2
	for i := range k.agents {
		a := &k.agents[i]
		if k.heal[i] && a.Health < k.cfg.MaxHealth {
			a.Health = math.Min(k.cfg.MaxHealth, a.Health+k.cfg.Heal)
		}
		a.Health -= k.dmg[i]
		if a.Health > 0 {
			continue
		}
		if k.foe[i] >= 0 {
			idx := k.g.Index(a.X, a.Y)
			k.count[a.Side][idx]--
			a.Side = int(k.foe[i])
			k.count[a.Side][idx]++
		}
		a.Health = half
	}
}

func (k *DiscreteKernel) resetScratch(n int) {
	for i := range k.head {
		k.head[i] = -1
	}
	if cap(k.next) < n {
		k.next = make([]int32, n)
		k.dmg = make([]float64, n)
		k.heal = make([]bool, n)
		k.foe = make([]int8, n)
	}
	k.next = k.next[:n]
	k.dmg = k.dmg[:n]
	k.heal = k.heal[:n]
	k.foe = k.foe[:n]
	for i := 0; i < n; i++ {
		k.next[i] = -1
		k.dmg[i] = 0
		k.heal[i] = false
		k.foe[i] = -1
	}
}

// Cells reports the majority side per cell with its density.
func (k *DiscreteKernel) Cells(dst []encoding.Cell) {
	for i := range dst {
		a, b := int(k.count[0][i]), int(k.count[1][i])
		switch {
		case a == 0 && b == 0:
			dst[i] = encoding.Cell{}
		case a >= b:
			dst[i] = encoding.Cell{Owner: encoding.OwnerOf(0), Mag: encoding.Presence(a, k.cfg.DensityStep)}
		default:
			dst[i] = encoding.Cell{Owner: encoding.OwnerOf(1), Mag: encoding.Presence(b, k.cfg.DensityStep)}
		}
	}
}

func (k *DiscreteKernel) Census() Census {
	c := Census{Tick: k.tick}
	for _, a := range k.agents {
		c.Count[a.Side]++
	}
	for s := 0; s < Sides; s++ {
		c.Mass[s] = float64(c.Count[s])
		idx := k.g.Index(k.bases[s].X, k.bases[s].Y)
		a, b := k.count[0][idx], k.count[1][idx]
		switch {
		case a > b:
			c.BaseOwner[s] = 0
		case b > a:
			c.BaseOwner[s] = 1
		default:
			c.BaseOwner[s] = -1
		}
	}
	return c
}

func (k *DiscreteKernel) Digest() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k.tick)
	h.Write(buf[:])
	for _, a := range k.agents {
		binary.LittleEndian.PutUint32(buf[:4], uint32(a.X))
		binary.LittleEndian.PutUint32(buf[4:], uint32(a.Y))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(a.Health))
		h.Write(buf[:])
		h.Write([]byte{byte(a.Side)})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
