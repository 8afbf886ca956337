package encoding

import (
	"testing"

	"tidewar.ai/internal/sim/grid"
)

func TestMask_RoundTrip(t *testing.T) {
	for _, rows := range [][]string{
		{"A...#", "##..#", "....B"},
		{"#A..#", "##..#", "#..B#"},
	} {
		g, _, err := grid.ParseMap(rows)
		if err != nil {
			t.Fatalf("ParseMap: %v", err)
		}
		out, err := DecodeMask(EncodeMask(g), g.Width(), g.Height())
		if err != nil {
			t.Fatalf("DecodeMask: %v", err)
		}
		if out.Digest() != g.Digest() {
			t.Fatalf("mask changed for %v", rows)
		}
	}
}

func TestDecodeMask_Rejects(t *testing.T) {
	g := grid.Open(4, 4)
	enc := EncodeMask(g)
	if _, err := DecodeMask(enc, 4, 5); err == nil {
		t.Fatalf("expected short mask to fail")
	}
	if _, err := DecodeMask(enc, 2, 2); err == nil {
		t.Fatalf("expected overflowing mask to fail")
	}
	if _, err := DecodeMask("!!", 4, 4); err == nil {
		t.Fatalf("expected bad base64 to fail")
	}
	if _, err := DecodeMask(enc, 1<<32, 1<<32); err == nil {
		t.Fatalf("expected oversized mask to fail")
	}
}

func TestCellCount(t *testing.T) {
	cases := []struct {
		w, h int
		n    int
		ok   bool
	}{
		{4, 4, 16, true},
		{MaxSide, MaxSide, MaxCells, true},
		{MaxCells, 1, MaxCells, true},
		{MaxSide + 1, MaxSide, 0, false},
		{1 << 32, 1 << 32, 0, false},
		{0, 4, 0, false},
		{-1, -1, 0, false},
	}
	for _, c := range cases {
		n, ok := CellCount(c.w, c.h)
		if n != c.n || ok != c.ok {
			t.Fatalf("CellCount(%d, %d): got %d,%v want %d,%v", c.w, c.h, n, ok, c.n, c.ok)
		}
	}
}
