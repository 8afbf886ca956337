package encoding

import (
	"math"
	"math/rand"
	"testing"
)

func TestRuns_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	in := make([]Cell, 0, 2000)
	for len(in) < 2000 {
		c := Cell{Owner: Owner(r.Intn(3)), Mag: uint8(r.Intn(4) * 60)}
		if c.Owner == OwnerNone {
			c.Mag = 0
		}
		n := 1 + r.Intn(400)
		for k := 0; k < n && len(in) < 2000; k++ {
			in = append(in, c)
		}
	}

	enc := EncodeRuns(in, nil)
	if len(enc)%TripleSize != 0 {
		t.Fatalf("encoded length %d is not a multiple of %d", len(enc), TripleSize)
	}
	out := make([]Cell, len(in))
	_, n := DecodeRuns(enc, out)
	if n != len(in) {
		t.Fatalf("decoded %d cells want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestEncodeRuns_SplitsLongRuns(t *testing.T) {
	in := make([]Cell, 600)
	for i := range in {
		in[i] = Cell{Owner: OwnerB, Mag: 7}
	}
	enc := EncodeRuns(in, nil)
	want := []byte{255, 2, 7, 255, 2, 7, 90, 2, 7}
	if string(enc) != string(want) {
		t.Fatalf("got %v want %v", enc, want)
	}
}

func TestDecodeRuns_Scenario(t *testing.T) {
	cells := make([]Cell, 5)
	tot, n := DecodeRuns([]byte{3, 1, 10, 2, 0, 0}, cells)
	if n != 5 {
		t.Fatalf("decoded %d cells want 5", n)
	}
	for i := 0; i < 3; i++ {
		if cells[i] != (Cell{Owner: OwnerA, Mag: 10}) {
			t.Fatalf("cell %d: got %+v", i, cells[i])
		}
	}
	for i := 3; i < 5; i++ {
		if cells[i] != (Cell{}) {
			t.Fatalf("cell %d: got %+v want empty", i, cells[i])
		}
	}
	if tot[OwnerA] != 30 || tot.Side(0) != 30 || tot.Side(1) != 0 {
		t.Fatalf("totals: got %v", tot)
	}
}

func TestDecodeRuns_Truncated(t *testing.T) {
	cells := make([]Cell, 8)
	for i := range cells {
		cells[i] = Cell{Owner: OwnerB, Mag: 99}
	}
	// One full triple, then two stray bytes.
	tot, n := DecodeRuns([]byte{2, 2, 5, 4, 1}, cells)
	if n != 2 || tot[OwnerB] != 10 {
		t.Fatalf("got n=%d totals=%v", n, tot)
	}
	for i := 2; i < len(cells); i++ {
		if cells[i] != (Cell{}) {
			t.Fatalf("cell %d not reset: %+v", i, cells[i])
		}
	}
}

func TestDecodeRuns_Malformed(t *testing.T) {
	cells := make([]Cell, 6)
	// Owner id 3 is not valid; decoding stops before it.
	_, n := DecodeRuns([]byte{1, 1, 1, 2, 3, 9, 3, 2, 2}, cells)
	if n != 1 {
		t.Fatalf("got n=%d want 1", n)
	}
	// Zero-length run stops decoding.
	_, n = DecodeRuns([]byte{0, 1, 1, 2, 2, 2}, cells)
	if n != 0 {
		t.Fatalf("got n=%d want 0", n)
	}
	// Runs past the grid are clipped.
	_, n = DecodeRuns([]byte{200, 1, 1}, cells)
	if n != len(cells) {
		t.Fatalf("got n=%d want %d", n, len(cells))
	}
	if _, n = DecodeRuns(nil, cells); n != 0 {
		t.Fatalf("nil input decoded %d cells", n)
	}
}

func TestQuantizeMass(t *testing.T) {
	cases := []struct {
		m, scale float64
		want     uint8
	}{
		{0, 1, 0},
		{-4, 1, 0},
		{0.4, 1, 0},
		{0.5, 1, 1},
		{12.6, 1, 13},
		{31.9, 8, 255},
		{1e9, 1, 255},
		{math.NaN(), 1, 0},
		{math.Inf(1), 1, 255},
	}
	for _, c := range cases {
		if got := QuantizeMass(c.m, c.scale); got != c.want {
			t.Fatalf("QuantizeMass(%v,%v): got %d want %d", c.m, c.scale, got, c.want)
		}
	}
	if Presence(0, 255) != 0 || Presence(1, 255) != 255 || Presence(3, 64) != 192 || Presence(5, 64) != 255 {
		t.Fatalf("Presence mapping wrong")
	}
}
