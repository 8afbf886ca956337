package main

import (
	"path/filepath"

	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

type arena struct {
	name  string
	grid  *grid.Grid
	bases [2]grid.Point
}

// loadArena reads the tuning's map file, resolved against the config dir
// when relative, or generates one from the seed.
func loadArena(t tuning.Tuning, configDir string) (arena, error) {
	if t.Map != "" {
		path := t.Map
		if !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}
		g, bases, name, err := grid.LoadMap(path)
		if err != nil {
			return arena{}, err
		}
		return arena{name: name, grid: g, bases: bases}, nil
	}
	gen := t.Generator
	g, bases := grid.Generate(grid.GenParams{
		Width:           gen.Width,
		Height:          gen.Height,
		Seed:            t.Seed,
		Scale:           gen.Scale,
		WallThreshold:   gen.WallThreshold,
		BaseClearRadius: gen.BaseClearRadius,
	})
	return arena{name: "generated", grid: g, bases: bases}, nil
}
