package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/persistence/indexdb"
	persistlog "tidewar.ai/internal/persistence/log"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		matchID = flag.String("match", "", "match id under <data>/matches")
		dir     = flag.String("dir", "", "match log directory (overrides -data/-match)")
		limit   = flag.Uint64("limit", 0, "stop after this many entries (0 = whole log)")
		list    = flag.Bool("list", false, "list recent matches from the index and exit")
	)
	flag.Parse()

	if *list {
		if err := listMatches(filepath.Join(*dataDir, "index", "matches.sqlite")); err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		return
	}

	mdir := *dir
	if mdir == "" {
		if *matchID == "" {
			fmt.Fprintln(os.Stderr, "missing -match or -dir")
			os.Exit(2)
		}
		mdir = persistlog.MatchDir(*dataDir, *matchID)
	}

	h, err := persistlog.ReadHeader(mdir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read header:", err)
		os.Exit(1)
	}
	fmt.Printf("match=%s started=%s strategy=%s size=%dx%d seed=%d grid=%s\n",
		h.MatchID, h.StartedAt.Format("2006-01-02 15:04:05"), h.Tuning.Strategy, h.Width, h.Height, h.Tuning.Seed, short(h.GridDigest))

	checked, err := verify(context.Background(), mdir, h, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks\n", checked)
}

// verify re-simulates logged ticks and compares digests. Tick numbers
// restart after a rematch, so limit counts entries.
func verify(ctx context.Context, dir string, h netcode.MatchHeader, limit uint64) (uint64, error) {
	r, err := persistlog.OpenReader(dir)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	m, err := netcode.ReplayFromHeader(h, nil, log.New(io.Discard, "", 0))
	if err != nil {
		return 0, err
	}
	defer m.Close()

	var checked uint64
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return checked, nil
		}
		if err != nil {
			return checked, err
		}
		if err := netcode.ReplayTick(ctx, m, e); err != nil {
			return checked, err
		}
		checked++
		if limit != 0 && checked >= limit {
			return checked, nil
		}
	}
}

func listMatches(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	rows, err := idx.ListMatches(context.Background(), 20)
	if err != nil {
		return err
	}
	for _, m := range rows {
		result := "playing"
		if m.Reason != "" {
			result = fmt.Sprintf("winner=%d reason=%s", m.Winner, m.Reason)
		}
		fmt.Printf("%s  %s  %-10s %dx%d  broadcasts=%d sent=%s  %s\n",
			m.MatchID, m.StartedAt, m.Strategy, m.Width, m.Height, m.Broadcasts, humanize.Bytes(uint64(m.Bytes)), result)
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
