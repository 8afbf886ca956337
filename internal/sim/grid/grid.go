package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Point is an integer cell coordinate.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Grid is an immutable walkability mask. It is built once per match and
// never mutated afterwards; share it freely between goroutines.
type Grid struct {
	w, h int
	walk []bool
}

func New(w, h int, walk []bool) (*Grid, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("grid: bad size %dx%d", w, h)
	}
	if len(walk) != w*h {
		return nil, fmt.Errorf("grid: mask has %d cells, want %d", len(walk), w*h)
	}
	g := &Grid{w: w, h: h, walk: make([]bool, len(walk))}
	copy(g.walk, walk)
	return g, nil
}

// Open returns a w*h grid where every cell is walkable.
func Open(w, h int) *Grid {
	walk := make([]bool, w*h)
	for i := range walk {
		walk[i] = true
	}
	return &Grid{w: w, h: h, walk: walk}
}

func (g *Grid) Width() int  { return g.w }
func (g *Grid) Height() int { return g.h }
func (g *Grid) Cells() int  { return g.w * g.h }

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.w && y < g.h
}

// IsWalkable reports false for any coordinate outside the grid.
func (g *Grid) IsWalkable(x, y int) bool {
	if !g.InBounds(x, y) {
		return false
	}
	return g.walk[y*g.w+x]
}

// WalkableAt is IsWalkable for a flat cell index.
func (g *Grid) WalkableAt(i int) bool {
	if i < 0 || i >= len(g.walk) {
		return false
	}
	return g.walk[i]
}

func (g *Grid) Index(x, y int) int { return y*g.w + x }

func (g *Grid) Coord(i int) (x, y int) { return i % g.w, i / g.w }

// Clone returns a deep copy. Workers each hold their own copy of the mask.
func (g *Grid) Clone() *Grid {
	c := &Grid{w: g.w, h: g.h, walk: make([]bool, len(g.walk))}
	copy(c.walk, g.walk)
	return c
}

func (g *Grid) WalkableCount() int {
	n := 0
	for _, ok := range g.walk {
		if ok {
			n++
		}
	}
	return n
}

// CellOf maps a normalized position to a cell, clamping into the grid.
func (g *Grid) CellOf(nx, ny float64) (x, y int) {
	return clampCell(nx, g.w), clampCell(ny, g.h)
}

func clampCell(v float64, n int) int {
	// NaN compares false everywhere and lands on cell 0.
	if !(v > 0) {
		return 0
	}
	c := int(v * float64(n))
	if c >= n {
		c = n - 1
	}
	return c
}

// Digest identifies the mask for logs and replays.
func (g *Grid) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%dx%d:", g.w, g.h)
	row := make([]byte, g.w)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			row[x] = '#'
			if g.walk[y*g.w+x] {
				row[x] = '.'
			}
		}
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}
