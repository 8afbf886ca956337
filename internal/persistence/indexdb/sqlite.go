package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tidewar.ai/internal/netcode"
)

// SQLiteIndex is a queryable read model of matches, fed from the authority
// loop. Writes are queued and applied by one goroutine; a full queue drops
// the write, since the match logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropMatch     atomic.Uint64
	dropBroadcast atomic.Uint64
	dropOutcome   atomic.Uint64
}

type reqKind int

const (
	reqMatch reqKind = iota + 1
	reqBroadcast
	reqOutcome
	reqFlush
)

type req struct {
	kind reqKind

	match     matchRow
	broadcast broadcastRow
	outcome   outcomeRow
	done      chan struct{}
}

type matchRow struct {
	MatchID    string
	StartedAt  string
	Strategy   string
	Width      int
	Height     int
	GridDigest string
	Seed       int64
	TuningJSON string
}

type broadcastRow struct {
	MatchID    string
	Seq        uint64
	Tick       uint64
	Bytes      int
	Compressed bool
}

type outcomeRow struct {
	MatchID    string
	Tick       uint64
	Winner     int
	Reason     string
	RecordedAt string
}

// Stats reports queue health for the periodic server log.
type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DropMatchTotal     uint64
	DropBroadcastTotal uint64
	DropOutcomeTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Broadcasts arrive at the send rate; this holds minutes of backlog.
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			strategy TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			grid_digest TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS broadcasts (
			match_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			compressed INTEGER NOT NULL,
			PRIMARY KEY (match_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			winner INTEGER NOT NULL,
			reason TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (match_id, recorded_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_match ON outcomes(match_id, tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordMatch(h netcode.MatchHeader) {
	b, _ := json.Marshal(h.Tuning)
	s.enqueue(req{kind: reqMatch, match: matchRow{
		MatchID:    h.MatchID,
		StartedAt:  h.StartedAt.UTC().Format(time.RFC3339Nano),
		Strategy:   h.Tuning.Strategy,
		Width:      h.Width,
		Height:     h.Height,
		GridDigest: h.GridDigest,
		Seed:       h.Tuning.Seed,
		TuningJSON: string(b),
	}}, &s.dropMatch)
}

func (s *SQLiteIndex) RecordBroadcast(matchID string, seq, tick uint64, bytes int, compressed bool) {
	s.enqueue(req{kind: reqBroadcast, broadcast: broadcastRow{
		MatchID:    matchID,
		Seq:        seq,
		Tick:       tick,
		Bytes:      bytes,
		Compressed: compressed,
	}}, &s.dropBroadcast)
}

func (s *SQLiteIndex) RecordOutcome(matchID string, tick uint64, o netcode.Outcome) {
	s.enqueue(req{kind: reqOutcome, outcome: outcomeRow{
		MatchID:    matchID,
		Tick:       tick,
		Winner:     o.Winner,
		Reason:     o.Reason,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropOutcome)
}

// Flush commits everything queued so far, or gives up when ctx ends.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropMatchTotal:     s.dropMatch.Load(),
		DropBroadcastTotal: s.dropBroadcast.Load(),
		DropOutcomeTotal:   s.dropOutcome.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO matches(match_id,started_at,strategy,width,height,grid_digest,seed,tuning_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertBroadcast, _ := s.db.Prepare(`INSERT OR REPLACE INTO broadcasts(match_id,seq,tick,bytes,compressed) VALUES(?,?,?,?,?)`)
	insertOutcome, _ := s.db.Prepare(`INSERT OR REPLACE INTO outcomes(match_id,tick,winner,reason,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMatch, insertBroadcast, insertOutcome} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqMatch:
			m := r.match
			exec(insertMatch, m.MatchID, m.StartedAt, m.Strategy, m.Width, m.Height, m.GridDigest, m.Seed, m.TuningJSON)
		case reqBroadcast:
			b := r.broadcast
			exec(insertBroadcast, b.MatchID, int64(b.Seq), int64(b.Tick), b.Bytes, b.Compressed)
		case reqOutcome:
			o := r.outcome
			exec(insertOutcome, o.MatchID, int64(o.Tick), o.Winner, o.Reason, o.RecordedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
