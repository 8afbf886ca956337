package indexdb

import (
	"context"
	"database/sql"
)

// MatchSummary is one row of ListMatches.
type MatchSummary struct {
	MatchID    string
	StartedAt  string
	Strategy   string
	Width      int
	Height     int
	Broadcasts int
	Bytes      int64
	// Winner and Reason are from the latest outcome; Winner is -1 and
	// Reason empty while none is recorded.
	Winner int
	Reason string
}

// ListMatches returns the most recent matches first.
func (s *SQLiteIndex) ListMatches(ctx context.Context, limit int) ([]MatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.match_id, m.started_at, m.strategy, m.width, m.height,
			(SELECT COUNT(*) FROM broadcasts b WHERE b.match_id = m.match_id),
			(SELECT COALESCE(SUM(bytes), 0) FROM broadcasts b WHERE b.match_id = m.match_id),
			(SELECT o.winner FROM outcomes o WHERE o.match_id = m.match_id ORDER BY o.recorded_at DESC LIMIT 1),
			(SELECT o.reason FROM outcomes o WHERE o.match_id = m.match_id ORDER BY o.recorded_at DESC LIMIT 1)
		FROM matches m
		ORDER BY m.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchSummary
	for rows.Next() {
		var m MatchSummary
		var winner sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&m.MatchID, &m.StartedAt, &m.Strategy, &m.Width, &m.Height, &m.Broadcasts, &m.Bytes, &winner, &reason); err != nil {
			return nil, err
		}
		m.Winner = -1
		if winner.Valid {
			m.Winner = int(winner.Int64)
		}
		m.Reason = reason.String
		out = append(out, m)
	}
	return out, rows.Err()
}
