package field

import "tidewar.ai/internal/sim/grid"

type heapItem struct {
	cost int32
	idx  int32
}

// Solver computes distance fields over one grid. Its heap is an arena that
// survives between calls; a Solver is not safe for concurrent use, give
// each worker its own.
type Solver struct {
	g         *grid.Grid
	neighbors int
	heap      []heapItem
}

// NewSolver uses 8 neighbors unless neighbors == 4.
func NewSolver(g *grid.Grid, neighbors int) *Solver {
	if neighbors != 4 {
		neighbors = 8
	}
	return &Solver{
		g:         g,
		neighbors: neighbors,
		heap:      make([]heapItem, 0, g.Cells()),
	}
}

func (s *Solver) Grid() *grid.Grid { return s.g }

// Solve fills dst with the minimum cost from every cell to the goal. The
// goal is normalized and clamped into the grid. An unwalkable goal is moved
// to the nearest walkable cell; a grid without walkable cells leaves dst
// entirely Unreachable.
func (s *Solver) Solve(dst *Field, goalX, goalY float64) {
	dst.Reset()
	seed, ok := s.seedCell(goalX, goalY)
	if !ok {
		return
	}
	dst.seed = seed
	dst.cost[seed] = 0

	w := s.g.Width()
	h := s.g.Height()
	dirs := Dirs[:s.neighbors]

	s.heap = s.heap[:0]
	s.push(heapItem{cost: 0, idx: int32(seed)})
	for len(s.heap) > 0 {
		it := s.pop()
		idx := int(it.idx)
		if it.cost != dst.cost[idx] {
			// Stale entry; the cell was finalized at a lower cost.
			continue
		}
		x, y := idx%w, idx/w
		for _, d := range dirs {
			nx, ny := x+d.DX, y+d.DY
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			ni := ny*w + nx
			if !s.g.WalkableAt(ni) {
				continue
			}
			nc := it.cost + d.Cost
			if nc < dst.cost[ni] {
				dst.cost[ni] = nc
				s.push(heapItem{cost: nc, idx: int32(ni)})
			}
		}
	}
}

// seedCell searches expanding square rings around the goal cell. Within a
// ring the closest cell by squared distance wins, then scan order.
func (s *Solver) seedCell(goalX, goalY float64) (int, bool) {
	gx, gy := s.g.CellOf(goalX, goalY)
	if s.g.IsWalkable(gx, gy) {
		return s.g.Index(gx, gy), true
	}
	maxR := s.g.Width()
	if s.g.Height() > maxR {
		maxR = s.g.Height()
	}
	for r := 1; r <= maxR; r++ {
		best, bestD := -1, 0
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx != -r && dx != r && dy != -r && dy != r {
					continue
				}
				x, y := gx+dx, gy+dy
				if !s.g.IsWalkable(x, y) {
					continue
				}
				d := dx*dx + dy*dy
				if best < 0 || d < bestD {
					best, bestD = s.g.Index(x, y), d
				}
			}
		}
		if best >= 0 {
			return best, true
		}
	}
	return 0, false
}

func less(a, b heapItem) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	return a.idx < b.idx
}

func (s *Solver) push(it heapItem) {
	s.heap = append(s.heap, it)
	i := len(s.heap) - 1
	for i > 0 {
		p := (i - 1) / 2
		if !less(s.heap[i], s.heap[p]) {
			break
		}
		s.heap[i], s.heap[p] = s.heap[p], s.heap[i]
		i = p
	}
}

func (s *Solver) pop() heapItem {
	top := s.heap[0]
	last := len(s.heap) - 1
	s.heap[0] = s.heap[last]
	s.heap = s.heap[:last]
	i := 0
	for {
		l := 2*i + 1
		if l >= last {
			break
		}
		m := l
		if r := l + 1; r < last && less(s.heap[r], s.heap[l]) {
			m = r
		}
		if !less(s.heap[m], s.heap[i]) {
			break
		}
		s.heap[i], s.heap[m] = s.heap[m], s.heap[i]
		i = m
	}
	return top
}
