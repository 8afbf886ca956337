package grid

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MapFile is the on-disk map definition.
//
//	name: crossing
//	rows:
//	  - "##########"
//	  - "#A......B#"
//	  - "##########"
type MapFile struct {
	Name string   `yaml:"name"`
	Rows []string `yaml:"rows"`
}

// ParseMap reads ASCII rows: '#' wall, '.' floor, 'A' base of side 0,
// 'B' base of side 1. Base cells are walkable.
func ParseMap(rows []string) (*Grid, [2]Point, error) {
	var bases [2]Point
	if len(rows) == 0 {
		return nil, bases, fmt.Errorf("map: no rows")
	}
	w := len(rows[0])
	h := len(rows)
	walk := make([]bool, w*h)
	seen := [2]bool{}
	for y, row := range rows {
		if len(row) != w {
			return nil, bases, fmt.Errorf("map: row %d has width %d, want %d", y, len(row), w)
		}
		for x := 0; x < w; x++ {
			switch row[x] {
			case '#':
			case '.', ' ':
				walk[y*w+x] = true
			case 'A', 'B':
				s := int(row[x] - 'A')
				if seen[s] {
					return nil, bases, fmt.Errorf("map: duplicate base %c at %d,%d", row[x], x, y)
				}
				seen[s] = true
				bases[s] = Point{X: x, Y: y}
				walk[y*w+x] = true
			default:
				return nil, bases, fmt.Errorf("map: unknown tile %q at %d,%d", row[x], x, y)
			}
		}
	}
	if !seen[0] || !seen[1] {
		return nil, bases, fmt.Errorf("map: both bases A and B are required")
	}
	g, err := New(w, h, walk)
	return g, bases, err
}

func LoadMap(path string) (*Grid, [2]Point, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, [2]Point{}, "", err
	}
	var mf MapFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, [2]Point{}, "", fmt.Errorf("%s: %w", path, err)
	}
	g, bases, err := ParseMap(mf.Rows)
	if err != nil {
		return nil, bases, "", fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSpace(mf.Name)
	if name == "" {
		name = path
	}
	return g, bases, name, nil
}
