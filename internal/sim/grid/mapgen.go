package grid

import (
	"github.com/ojrac/opensimplex-go"
)

type GenParams struct {
	Width           int
	Height          int
	Seed            int64
	Scale           float64 // noise frequency per cell
	WallThreshold   float64 // normalized noise above this becomes wall
	BaseClearRadius int
}

// Generate builds a noise map with the bases near opposite corners. Both
// bases get a cleared disk and are joined by a carved corridor, so they are
// always mutually reachable.
func Generate(p GenParams) (*Grid, [2]Point) {
	if p.Width < 4 {
		p.Width = 4
	}
	if p.Height < 4 {
		p.Height = 4
	}
	if p.Scale <= 0 {
		p.Scale = 0.12
	}
	noise := opensimplex.NewNormalized(p.Seed)

	w, h := p.Width, p.Height
	walk := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := noise.Eval2(float64(x)*p.Scale, float64(y)*p.Scale)
			walk[y*w+x] = v <= p.WallThreshold
		}
	}

	inset := p.BaseClearRadius + 1
	if inset > w/4 {
		inset = w / 4
	}
	bases := [2]Point{
		{X: inset, Y: h - 1 - min(inset, h/4)},
		{X: w - 1 - inset, Y: min(inset, h/4)},
	}
	for _, b := range bases {
		clearDisk(walk, w, h, b, p.BaseClearRadius)
	}
	carveCorridor(walk, w, bases[0], bases[1])

	return &Grid{w: w, h: h, walk: walk}, bases
}

func clearDisk(walk []bool, w, h int, c Point, r int) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			x, y := c.X+dx, c.Y+dy
			if x < 0 || y < 0 || x >= w || y >= h {
				continue
			}
			walk[y*w+x] = true
		}
	}
}

// carveCorridor opens an L-shaped path: horizontal first, then vertical.
func carveCorridor(walk []bool, w int, a, b Point) {
	step := func(from, to int) int {
		if from < to {
			return 1
		}
		return -1
	}
	x, y := a.X, a.Y
	walk[y*w+x] = true
	for x != b.X {
		x += step(x, b.X)
		walk[y*w+x] = true
	}
	for y != b.Y {
		y += step(y, b.Y)
		walk[y*w+x] = true
	}
}
