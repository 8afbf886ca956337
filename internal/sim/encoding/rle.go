package encoding

import "math"

// Owner is the wire owner id: 0 for an empty cell, side+1 otherwise. Only
// two bits are meaningful.
type Owner uint8

const (
	OwnerNone Owner = 0
	OwnerA    Owner = 1
	OwnerB    Owner = 2

	maxOwner = OwnerB
)

func OwnerOf(side int) Owner { return Owner(side + 1) }

// Side returns -1 for OwnerNone.
func (o Owner) Side() int { return int(o) - 1 }

// Cell is the quantized per-cell state carried in snapshots.
type Cell struct {
	Owner Owner
	Mag   uint8
}

// Totals accumulates magnitude per owner id while decoding.
type Totals [3]int

func (t Totals) Side(side int) int {
	o := OwnerOf(side)
	if o == OwnerNone || o > maxOwner {
		return 0
	}
	return t[o]
}

const (
	TripleSize = 3
	MaxRun     = 255
)

// EncodeRuns appends fixed-width (run, owner, magnitude) triples for cells
// to dst. Runs longer than MaxRun are split.
func EncodeRuns(cells []Cell, dst []byte) []byte {
	i := 0
	for i < len(cells) {
		c := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == c && run < MaxRun; j++ {
			run++
		}
		dst = append(dst, byte(run), byte(c.Owner), c.Mag)
		i += run
	}
	return dst
}

// DecodeRuns expands triples into cells, which are first reset to empty.
// A truncated or malformed buffer decodes up to the last good triple and
// leaves the remaining cells empty. It returns per-owner totals and the
// number of cells written.
func DecodeRuns(runs []byte, cells []Cell) (Totals, int) {
	for i := range cells {
		cells[i] = Cell{}
	}
	var tot Totals
	pos := 0
	for i := 0; i+TripleSize <= len(runs) && pos < len(cells); i += TripleSize {
		run := int(runs[i])
		owner := Owner(runs[i+1])
		mag := runs[i+2]
		if run == 0 || owner > maxOwner {
			break
		}
		if pos+run > len(cells) {
			run = len(cells) - pos
		}
		c := Cell{Owner: owner, Mag: mag}
		for k := 0; k < run; k++ {
			cells[pos+k] = c
		}
		if owner != OwnerNone {
			tot[owner] += int(mag) * run
		}
		pos += run
	}
	return tot, pos
}

// QuantizeMass maps a continuous magnitude to [0,255] with saturating
// rounding. Non-finite and negative values map to 0, except +Inf.
func QuantizeMass(m, scale float64) uint8 {
	v := m * scale
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 254.5 {
		return 255
	}
	return uint8(math.Round(v))
}

// Presence maps an agent count to a density value, step per agent.
func Presence(count, step int) uint8 {
	if count <= 0 {
		return 0
	}
	v := count * step
	if v > 255 {
		return 255
	}
	return uint8(v)
}
