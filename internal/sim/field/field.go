package field

import "math"

// Costs are fixed-point: CostScale units per cell step. The diagonal step
// is the agreed 1.414 approximation, not sqrt(2).
const (
	CostScale    = 1000
	CardinalCost = int32(1000)
	DiagonalCost = int32(1414)

	// Unreachable is larger than any finite cost a grid can produce.
	Unreachable = int32(math.MaxInt32)
)

type Dir struct {
	DX, DY int
	Cost   int32
}

// Dirs lists cardinal steps first so Dirs[:4] is the 4-neighborhood.
var Dirs = [8]Dir{
	{1, 0, CardinalCost},
	{0, -1, CardinalCost},
	{-1, 0, CardinalCost},
	{0, 1, CardinalCost},
	{1, -1, DiagonalCost},
	{-1, -1, DiagonalCost},
	{-1, 1, DiagonalCost},
	{1, 1, DiagonalCost},
}

// Ring8 is the 8-neighborhood in rotational order, used for randomized
// direction scans.
var Ring8 = [8]Dir{
	{1, 0, CardinalCost},
	{1, -1, DiagonalCost},
	{0, -1, CardinalCost},
	{-1, -1, DiagonalCost},
	{-1, 0, CardinalCost},
	{-1, 1, DiagonalCost},
	{0, 1, CardinalCost},
	{1, 1, DiagonalCost},
}

// Field holds one cost per cell. It is recomputed in full every tick.
type Field struct {
	w, h int
	cost []int32
	seed int
}

func NewField(w, h int) *Field {
	f := &Field{w: w, h: h, cost: make([]int32, w*h)}
	f.Reset()
	return f
}

// Reset marks every cell unreachable. Solvers call it before reuse.
func (f *Field) Reset() {
	for i := range f.cost {
		f.cost[i] = Unreachable
	}
	f.seed = -1
}

func (f *Field) Width() int  { return f.w }
func (f *Field) Height() int { return f.h }

// Seed is the cell index the flood started from, or -1 if none.
func (f *Field) Seed() int { return f.seed }

func (f *Field) At(x, y int) int32 {
	if x < 0 || y < 0 || x >= f.w || y >= f.h {
		return Unreachable
	}
	return f.cost[y*f.w+x]
}

func (f *Field) AtIndex(i int) int32 { return f.cost[i] }

// Distance is At in cell units; +Inf when unreachable.
func (f *Field) Distance(x, y int) float64 {
	c := f.At(x, y)
	if c == Unreachable {
		return math.Inf(1)
	}
	return float64(c) / CostScale
}

func (f *Field) Reachable() int {
	n := 0
	for _, c := range f.cost {
		if c != Unreachable {
			n++
		}
	}
	return n
}

func (f *Field) Equal(o *Field) bool {
	if o == nil || f.w != o.w || f.h != o.h || f.seed != o.seed {
		return false
	}
	for i := range f.cost {
		if f.cost[i] != o.cost[i] {
			return false
		}
	}
	return true
}
