package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/persistence/indexdb"
	persistlog "tidewar.ai/internal/persistence/log"
	"tidewar.ai/internal/persistence/r2s3"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/fieldpool"
	"tidewar.ai/internal/sim/kernel"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/telemetry"
	"tidewar.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		room       = flag.String("room", ws.DefaultRoom, "hub room the authority joins")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory (empty disables match logs and index)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite match index")
		strategy   = flag.String("strategy", "", "override tuning strategy (discrete|continuous)")
		seed       = flag.Int64("seed", 0, "override tuning seed (0 keeps the file value)")
		localSide  = flag.Int("local_side", 0, "side driven by this host (0 or 1)")
		localBot   = flag.Bool("local_bot", true, "drive the local side with a wandering goal")
		csvDir     = flag.String("csv", "", "write perf.csv and census.csv to this directory")
		reportSecs = flag.Int("report_every", 5, "seconds between perf log lines")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if s := strings.TrimSpace(*strategy); s != "" {
		tune.Strategy = s
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	arena, err := loadArena(tune, *configDir)
	if err != nil {
		logger.Fatalf("arena: %v", err)
	}
	logger.Printf("arena=%s size=%dx%d walkable=%d bases=%v", arena.name, arena.grid.Width(), arena.grid.Height(), arena.grid.WalkableCount(), arena.bases)

	matchID := uuid.NewString()

	var (
		matchLog *persistlog.MatchLog
		idx      *indexdb.SQLiteIndex
		mirror   *r2s3.Mirror
		rounds   *roundSink
	)
	if *dataDir != "" {
		matchLog = persistlog.NewMatchLog(*dataDir, matchID)
		defer matchLog.Close()
		var next netcode.MatchIndex
		if !*disableDB {
			idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "matches.sqlite"))
			if err != nil {
				logger.Fatalf("open index: %v", err)
			}
			defer idx.Close()
			next = idx
		}
		mirror, err = buildMirror(*dataDir, logger)
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		rounds = newRoundSink(next, matchLog.Dir(), tune, mirror, logger)
	}

	out, err := telemetry.NewOutputManager(*csvDir)
	if err != nil {
		logger.Fatalf("telemetry output: %v", err)
	}
	defer out.Close()

	hub := ws.NewServer(logger)
	local, err := hub.Local(*room, ws.RoleAuthority)
	if err != nil {
		logger.Fatalf("join room: %v", err)
	}
	defer local.Close()

	fields := fieldpool.New(tune.Workers, kernel.Sides, tune.Neighbors, logger)
	defer fields.Close()

	reportTicks := *reportSecs * tune.TickRateHz
	cfg := netcode.AuthorityConfig{
		MatchID:     matchID,
		Tuning:      tune,
		Grid:        arena.grid,
		Bases:       arena.bases,
		Transport:   local,
		LocalSide:   *localSide,
		Fields:      fields,
		Perf:        telemetry.NewPerfCollector(tune.TickRateHz * 2),
		Logger:      logger,
		ReportEvery: reportTicks,
		Report: func(tick uint64, st telemetry.PerfStats, c kernel.Census) {
			logger.Printf("match=%s tick=%d %s count=%v mass=%.1f/%.1f", matchID, tick, st, c.Count, c.Mass[0], c.Mass[1])
			if err := out.WritePerf(st, tick); err != nil {
				logger.Printf("perf csv: %v", err)
			}
			if err := out.WriteCensus(telemetry.CensusCSV{
				Tick:   tick,
				CountA: c.Count[0],
				CountB: c.Count[1],
				MassA:  c.Mass[0],
				MassB:  c.Mass[1],
			}); err != nil {
				logger.Printf("census csv: %v", err)
			}
			if idx != nil {
				qs := idx.Stats()
				logger.Printf("index queue=%d/%d drops=%d", qs.QueueDepth, qs.QueueCapacity, qs.DropBroadcastTotal)
			}
			if mirror != nil {
				ms := mirror.Stats()
				logger.Printf("mirror queue=%d/%d uploaded=%d failed=%d dropped=%d", ms.QueueDepth, ms.QueueCapacity, ms.UploadedTotal, ms.FailedTotal, ms.DroppedTotal)
			}
		},
	}
	if matchLog != nil {
		cfg.TickLog = matchLog
	}
	if rounds != nil {
		cfg.Index = rounds
	}
	auth, err := netcode.NewAuthority(cfg)
	if err != nil {
		logger.Fatalf("authority: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/v1/ws", hub.Handler())
	mux.HandleFunc("/v1/schemas/", func(rw http.ResponseWriter, r *http.Request) {
		b, err := protocol.Schema(strings.TrimPrefix(r.URL.Path, "/v1/schemas/"))
		if err != nil {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "application/schema+json")
		_, _ = rw.Write(b)
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		st := auth.State()
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(rw, "match=%s tick=%d seq=%d peers=%d ended=%v winner=%d reason=%s count=%v mass=%.1f/%.1f\n",
			matchID, st.Tick, st.Seq, hub.Peers(*room), st.Outcome.Ended, st.Outcome.Winner, st.Outcome.Reason,
			st.Census.Count, st.Census.Mass[0], st.Census.Mass[1])
	})
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening addr=%s room=%s match=%s strategy=%s max_snapshot=%s workers=%d",
			*addr, *room, matchID, tune.Strategy, humanize.Bytes(uint64(arena.grid.Cells()*encoding.TripleSize)), fields.Workers())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := auth.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if rounds != nil {
		g.Go(func() error {
			rounds.run(ctx, matchID)
			return nil
		})
	}
	if *localBot {
		g.Go(func() error {
			driveLocal(ctx, auth, *localSide, tune)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
	if idx != nil {
		flushCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = idx.Flush(flushCtx)
		done()
	}
	if matchLog != nil {
		if err := matchLog.Close(); err != nil {
			logger.Printf("match log close: %v", err)
		}
		if err := mirror.EnqueueDir(matchLog.Dir()); err != nil {
			logger.Printf("mirror match dir: %v", err)
		}
	}
	mirror.Close()
	st := auth.State()
	logger.Printf("match=%s final tick=%d seq=%d winner=%d reason=%s", matchID, st.Tick, st.Seq, st.Outcome.Winner, st.Outcome.Reason)
}

// driveLocal walks the local goal toward the opposing base and asks for a
// rematch a few seconds after each ending.
func driveLocal(ctx context.Context, auth *netcode.Authority, side int, tune tuning.Tuning) {
	m := auth.Match()
	g := m.Grid()
	target := m.Bases()[1-side]
	start := auth.State().Goals[side]
	w := netcode.NewWanderer(tune.Seed+int64(side), start, protocol.Goal{
		X: (float64(target.X) + 0.5) / float64(g.Width()),
		Y: (float64(target.Y) + 0.5) / float64(g.Height()),
	})

	ticker := time.NewTicker(time.Second / time.Duration(tune.InputRateHz))
	defer ticker.Stop()
	var endedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st := auth.State()
			if st.Outcome.Ended {
				if endedAt.IsZero() {
					endedAt = now
				} else if now.Sub(endedAt) > 3*time.Second {
					auth.LocalControl(protocol.ActionRematch)
					endedAt = time.Time{}
				}
				continue
			}
			endedAt = time.Time{}
			p := w.Next()
			auth.SetLocalGoal(p.X, p.Y)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
