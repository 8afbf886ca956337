package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/transport/ws"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "hub ws url")
		room    = flag.String("room", ws.DefaultRoom, "hub room")
		seed    = flag.Int64("seed", 1, "wander seed")
		rematch = flag.Duration("rematch_after", 5*time.Second, "ask for a rematch this long after an ending (0 disables)")
		every   = flag.Duration("log_every", 5*time.Second, "status log interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := ws.Dial(dialCtx, *url, *room, ws.RoleObserver, logger)
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tune := tuning.Defaults()
	obs, err := netcode.NewObserver(netcode.ObserverConfig{
		Transport: conn,
		Side:      1,
		Tuning:    tune,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("observer: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := obs.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-conn.Done():
			return conn.Err()
		case <-ctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		play(ctx, obs, logger, *seed, tune, *rematch, *every)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
}

// play waits for the match description, then wanders the goal toward the
// opposing base.
func play(ctx context.Context, obs *netcode.Observer, logger *log.Logger, seed int64, tune tuning.Tuning, rematchAfter, logEvery time.Duration) {
	ticker := time.NewTicker(time.Second / time.Duration(tune.InputRateHz))
	defer ticker.Stop()

	var (
		w        *netcode.Wanderer
		matchID  string
		side     int
		endedAt  time.Time
		lastLog  time.Time
		rematchN uint64
	)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m := obs.Match()
			if m == nil {
				continue
			}
			if m.MatchID != matchID || w == nil {
				matchID, side = m.MatchID, m.ObserverSide
				target := m.Bases[1-side]
				home := m.Bases[side]
				w = netcode.NewWanderer(seed, cellCenter(home, m), cellCenter(target, m))
				logger.Printf("match=%s strategy=%s size=%dx%d side=%d", m.MatchID, m.Strategy, m.Width, m.Height, side)
			}

			rs := obs.Render()
			if now.Sub(lastLog) >= logEvery && rs.Ready {
				lastLog = now
				logger.Printf("tick=%d seq=%d phase=%s totals=%d/%d", rs.Tick, rs.Seq, rs.Phase, rs.Totals.Side(0), rs.Totals.Side(1))
			}
			if rs.Phase == protocol.PhaseEnded {
				if endedAt.IsZero() {
					endedAt = now
					logger.Printf("ended winner=%d reason=%s", rs.Winner, rs.Reason)
				}
				if rematchAfter > 0 && now.Sub(endedAt) >= rematchAfter {
					// The same seq is resent until the authority acknowledges it.
					var err error
					if rematchN == 0 {
						rematchN, err = obs.Control(protocol.ActionRematch)
					} else {
						err = obs.Resend(protocol.ActionRematch, rematchN)
					}
					if err != nil {
						logger.Printf("rematch: %v", err)
					}
					endedAt = now
				}
				continue
			}
			if !endedAt.IsZero() {
				endedAt, rematchN = time.Time{}, 0
				w = nil
				continue
			}
			p := w.Next()
			obs.SetLocalGoal(p.X, p.Y)
		}
	}
}

func cellCenter(c [2]int, m *protocol.MatchMsg) protocol.Goal {
	return protocol.Goal{
		X: (float64(c[0]) + 0.5) / float64(m.Width),
		Y: (float64(c[1]) + 0.5) / float64(m.Height),
	}
}
