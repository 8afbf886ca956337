package main

import (
	"context"
	"log"
	"time"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/persistence/archive"
	"tidewar.ai/internal/persistence/r2s3"
	"tidewar.ai/internal/sim/tuning"
)

type roundEnd struct {
	tick    uint64
	outcome netcode.Outcome
	at      time.Time
}

// roundSink forwards records to the sqlite index and archives each ending
// off the authority goroutine.
type roundSink struct {
	next     netcode.MatchIndex
	matchDir string
	tune     tuning.Tuning
	mirror   *r2s3.Mirror
	log      *log.Logger

	ends  chan roundEnd
	round int
}

func newRoundSink(next netcode.MatchIndex, matchDir string, tune tuning.Tuning, mirror *r2s3.Mirror, logger *log.Logger) *roundSink {
	return &roundSink{
		next:     next,
		matchDir: matchDir,
		tune:     tune,
		mirror:   mirror,
		log:      logger,
		ends:     make(chan roundEnd, 16),
	}
}

func (s *roundSink) RecordMatch(h netcode.MatchHeader) {
	if s.next != nil {
		s.next.RecordMatch(h)
	}
}

func (s *roundSink) RecordBroadcast(matchID string, seq, tick uint64, bytes int, compressed bool) {
	if s.next != nil {
		s.next.RecordBroadcast(matchID, seq, tick, bytes, compressed)
	}
}

func (s *roundSink) RecordOutcome(matchID string, tick uint64, o netcode.Outcome) {
	if s.next != nil {
		s.next.RecordOutcome(matchID, tick, o)
	}
	select {
	case s.ends <- roundEnd{tick: tick, outcome: o, at: time.Now().UTC()}:
	default:
		s.log.Printf("match=%s round archive queue full, dropping tick=%d", matchID, tick)
	}
}

// run archives endings until ctx is done, then drains what is queued.
func (s *roundSink) run(ctx context.Context, matchID string) {
	for {
		select {
		case e := <-s.ends:
			s.archive(matchID, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.ends:
					s.archive(matchID, e)
				default:
					return
				}
			}
		}
	}
}

func (s *roundSink) archive(matchID string, e roundEnd) {
	s.round++
	files, err := archive.ArchiveRound(s.matchDir, archive.Round{
		MatchID:  matchID,
		Round:    s.round,
		EndTick:  e.tick,
		Seed:     s.tune.Seed,
		Strategy: s.tune.Strategy,
		Winner:   e.outcome.Winner,
		Reason:   e.outcome.Reason,
		EndedAt:  e.at,
	})
	if err != nil {
		s.log.Printf("match=%s archive round=%d: %v", matchID, s.round, err)
		return
	}
	for _, f := range files {
		s.mirror.Enqueue(f)
	}
}
