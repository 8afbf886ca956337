package log

import (
	"errors"
	"io"
	"testing"
	"time"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

func TestMatchLog_RoundTripAcrossRotation(t *testing.T) {
	data := t.TempDir()
	l := NewMatchLog(data, "m1")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	h := netcode.MatchHeader{
		MatchID:    "m1",
		StartedAt:  clock,
		Tuning:     tuning.Defaults(),
		Width:      4,
		Height:     2,
		Walls:      "AAg=",
		GridDigest: "abc",
		Bases:      [2]grid.Point{{X: 0, Y: 1}, {X: 3, Y: 0}},
	}
	if err := l.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for tick := uint64(1); tick <= 6; tick++ {
		if tick == 4 {
			clock = clock.Add(2 * time.Minute)
		}
		e := netcode.TickLogEntry{Tick: tick, Goals: [2]protocol.Goal{{X: 0.5, Y: 0.5}}, Digest: "d"}
		if tick == 2 {
			e.Controls = []protocol.ControlMsg{{Type: protocol.TypeControl, Seq: 1, Action: protocol.ActionForfeit, Side: 1}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := TickFiles(l.Dir())
	if err != nil || len(files) != 2 {
		t.Fatalf("tick files: got %v err=%v", files, err)
	}
	got, err := ReadHeader(l.Dir())
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.MatchID != "m1" || got.Bases != h.Bases || got.Tuning.TickRateHz != h.Tuning.TickRateHz {
		t.Fatalf("header: got %+v", got)
	}

	r, err := OpenReader(l.Dir())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	var ticks []uint64
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e.Tick == 2 && (len(e.Controls) != 1 || e.Controls[0].Action != protocol.ActionForfeit) {
			t.Fatalf("tick 2 controls: got %+v", e.Controls)
		}
		ticks = append(ticks, e.Tick)
	}
	if len(ticks) != 6 || ticks[0] != 1 || ticks[5] != 6 {
		t.Fatalf("ticks: got %v", ticks)
	}
}

func TestOpenReader_Empty(t *testing.T) {
	if _, err := OpenReader(t.TempDir()); err == nil {
		t.Fatalf("expected error for a directory without tick logs")
	}
}
