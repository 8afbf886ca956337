package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"tidewar.ai/internal/sim/grid"
)

// EncodeMask encodes the walkability mask as base64(uvarint runs). Runs
// alternate between walls and floor, starting with walls, so a mask that
// starts on floor begins with a zero-length run.
func EncodeMask(g *grid.Grid) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	want := false
	i, n := 0, g.Cells()
	for i < n {
		run := 0
		for i+run < n && g.WalkableAt(i+run) == want {
			run++
		}
		k := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:k])
		i += run
		want = !want
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// MaxSide and MaxCells bound decoded grids. 4096x4096 fits MaxCells.
const (
	MaxSide  = 4096
	MaxCells = 1 << 24
)

// CellCount returns w*h when both sides are positive and the product
// stays within MaxCells. Each side is checked before multiplying so the
// product cannot wrap.
func CellCount(w, h int) (int, bool) {
	if w <= 0 || h <= 0 || w > MaxCells/h {
		return 0, false
	}
	return w * h, true
}

func DecodeMask(b64 string, w, h int) (*grid.Grid, error) {
	n, ok := CellCount(w, h)
	if !ok {
		return nil, fmt.Errorf("mask: bad size %dx%d", w, h)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	walk := make([]bool, 0, n)
	val := false
	for i := 0; i < len(raw); {
		run, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += k
		if run > uint64(n-len(walk)) {
			return nil, fmt.Errorf("mask: run of %d overflows %dx%d", run, w, h)
		}
		for r := uint64(0); r < run; r++ {
			walk = append(walk, val)
		}
		val = !val
	}
	if len(walk) != n {
		return nil, fmt.Errorf("mask: decoded %d cells, want %d", len(walk), n)
	}
	return grid.New(w, h, walk)
}
