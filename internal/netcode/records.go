package netcode

import (
	"time"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
)

// MatchHeader is everything needed to rebuild a match from scratch.
type MatchHeader struct {
	MatchID    string        `json:"match_id"`
	StartedAt  time.Time     `json:"started_at"`
	Tuning     tuning.Tuning `json:"tuning"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Walls      string        `json:"walls"`
	GridDigest string        `json:"grid_digest"`
	Bases      [2]grid.Point `json:"bases"`
}

// TickLogEntry records the inputs of one stepped tick and the resulting
// kernel digest. Controls are the ones applied since the previous entry.
type TickLogEntry struct {
	Tick     uint64                `json:"tick"`
	Goals    [2]protocol.Goal      `json:"goals"`
	Controls []protocol.ControlMsg `json:"controls,omitempty"`
	Digest   string                `json:"digest"`
}

type TickLogger interface {
	WriteHeader(h MatchHeader) error
	WriteTick(entry TickLogEntry) error
}

// MatchIndex is a write-only read model. Implementations must not block
// the caller.
type MatchIndex interface {
	RecordMatch(h MatchHeader)
	RecordBroadcast(matchID string, seq, tick uint64, bytes int, compressed bool)
	RecordOutcome(matchID string, tick uint64, o Outcome)
}
