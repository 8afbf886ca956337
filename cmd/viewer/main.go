package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/sync/errgroup"

	"tidewar.ai/internal/netcode"
	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/transport/ws"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "hub ws url")
		room    = flag.String("room", ws.DefaultRoom, "hub room")
		logPath = flag.String("log", "", "write logs to this file (the terminal is taken by the viewer)")
	)
	flag.Parse()

	var out io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open log: %v", err)
		}
		defer f.Close()
		out = f
	}
	logger := log.New(out, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialDone := context.WithTimeout(ctx, 10*time.Second)
	conn, err := ws.Dial(dialCtx, *url, *room, ws.RoleObserver, logger)
	dialDone()
	if err != nil {
		log.Fatalf("dial: %v", err)
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
		log.Fatalf("observer: %v", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("screen init: %v", err)
	}
	defer screen.Fini()
	screen.EnableMouse()
	screen.HideCursor()

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := obs.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-conn.Done():
			return conn.Err()
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		defer cancel()
		ui(gctx, screen, obs, events, tune)
		return nil
	})
	if err := g.Wait(); err != nil {
		screen.Fini()
		log.Printf("stopped: %v", err)
	}
}

// ui draws at the frame rate and turns pointer and key events into goals
// and controls.
func ui(ctx context.Context, screen tcell.Screen, obs *netcode.Observer, events <-chan tcell.Event, tune tuning.Tuning) {
	ticker := time.NewTicker(time.Second / time.Duration(tune.FrameRateHz))
	defer ticker.Stop()

	var (
		walls   *grid.Grid
		matchID string
		side    = 1
		cursor  = protocol.Goal{X: 0.5, Y: 0.5}
		status  string
	)
	const nudge = 0.02
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			sw, sh := screen.Size()
			rs := obs.Render()
			v := newView(sw, sh, max(1, rs.Width), max(1, rs.Height))
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventMouse:
				mx, my := ev.Position()
				if my < v.rows {
					cursor = v.goal(mx, my)
					if ev.Buttons()&tcell.Button1 != 0 {
						obs.SetLocalGoal(cursor.X, cursor.Y)
					}
				}
			case *tcell.EventKey:
				switch ev.Key() {
				case tcell.KeyEscape, tcell.KeyCtrlC:
					return
				case tcell.KeyUp:
					cursor.Y -= nudge
				case tcell.KeyDown:
					cursor.Y += nudge
				case tcell.KeyLeft:
					cursor.X -= nudge
				case tcell.KeyRight:
					cursor.X += nudge
				case tcell.KeyEnter:
					obs.SetLocalGoal(cursor.X, cursor.Y)
				case tcell.KeyRune:
					switch ev.Rune() {
					case 'q':
						return
					case ' ':
						obs.SetLocalGoal(cursor.X, cursor.Y)
					case 'r':
						if _, err := obs.Control(protocol.ActionRematch); err != nil {
							status = "rematch: " + err.Error()
						}
					case 'f':
						if _, err := obs.Control(protocol.ActionForfeit); err != nil {
							status = "forfeit: " + err.Error()
						}
					}
				}
				cursor, _ = netcode.ClampGoal(cursor.X, cursor.Y)
			}
		case <-ticker.C:
			if m := obs.Match(); m != nil && m.MatchID != matchID {
				matchID, side = m.MatchID, m.ObserverSide
				w, err := encoding.DecodeMask(m.Walls, m.Width, m.Height)
				if err != nil {
					status = "bad walls: " + err.Error()
				}
				walls = w
			}
			if e := obs.LastError(); e != nil {
				status = e.Code
			}
			drawFrame(screen, obs.Render(), walls, side, cursor, status)
		}
	}
}
