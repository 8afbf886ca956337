package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqBroadcast}

	s.RecordMatch(netcode.MatchHeader{MatchID: "m"})
	s.RecordBroadcast("m", 1, 1, 10, false)
	s.RecordOutcome("m", 1, netcode.Outcome{Ended: true})

	st := s.Stats()
	if st.DropMatchTotal != 1 || st.DropBroadcastTotal != 1 || st.DropOutcomeTotal != 1 {
		t.Fatalf("drops: got %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_ListMatches(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		s.RecordMatch(netcode.MatchHeader{
			MatchID:   id,
			StartedAt: start.Add(time.Duration(i) * time.Minute),
			Tuning:    tuning.Defaults(),
			Width:     96,
			Height:    64,
		})
	}
	s.RecordBroadcast("new", 1, 0, 400, false)
	s.RecordBroadcast("new", 2, 2, 600, true)
	s.RecordOutcome("new", 90, netcode.Outcome{Ended: true, Winner: 1, Reason: protocol.ReasonEliminated})

	ctx := context.Background()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := s.ListMatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches: got %d want 2", len(got))
	}
	n := got[0]
	if n.MatchID != "new" || n.Broadcasts != 2 || n.Bytes != 1000 || n.Winner != 1 || n.Reason != protocol.ReasonEliminated {
		t.Fatalf("newest: got %+v", n)
	}
	if o := got[1]; o.MatchID != "old" || o.Winner != -1 || o.Reason != "" || o.Strategy != tuning.StrategyDiscrete {
		t.Fatalf("oldest: got %+v", o)
	}
}
