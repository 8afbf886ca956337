package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Round describes one finished round of a match. A match restarted with
// REMATCH produces one round per ending.
type Round struct {
	MatchID  string    `json:"match_id"`
	Round    int       `json:"round"`
	EndTick  uint64    `json:"end_tick"`
	Seed     int64     `json:"seed"`
	Strategy string    `json:"strategy"`
	Winner   int       `json:"winner"`
	Reason   string    `json:"reason"`
	EndedAt  time.Time `json:"ended_at"`
	Header   string    `json:"header,omitempty"`
}

// RoundDir is <matchDir>/rounds/round_NNN.
func RoundDir(matchDir string, round int) string {
	return filepath.Join(matchDir, "rounds", fmt.Sprintf("round_%03d", round))
}

// ArchiveRound writes result.json for r and copies the match header next
// to it, so a round directory can be replayed on its own. It returns the
// files written.
func ArchiveRound(matchDir string, r Round) ([]string, error) {
	if r.Round <= 0 {
		return nil, fmt.Errorf("archive: round must be positive, got %d", r.Round)
	}
	dir := RoundDir(matchDir, r.Round)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	if src := filepath.Join(matchDir, "header.json"); fileExists(src) {
		dst := filepath.Join(dir, "header.json")
		if err := copyFile(src, dst); err != nil {
			return nil, err
		}
		r.Header = "header.json"
		files = append(files, dst)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, "result.json")
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		return nil, err
	}
	return append(files, dst), nil
}

// ReadRound loads result.json from a round directory.
func ReadRound(dir string) (Round, error) {
	var r Round
	b, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("%s: %w", dir, err)
	}
	return r, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
