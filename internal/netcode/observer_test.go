package netcode

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/transport/memory"
)

func newTestObserver(t *testing.T, net *loopback, clock *fakeClock) *Observer {
	t.Helper()
	o, err := NewObserver(ObserverConfig{
		Transport: net,
		Side:      1,
		Tuning:    testTuning(tuning.StrategyDiscrete),
		Logger:    log.New(io.Discard, "", 0),
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func snapshotFrame(t *testing.T, seq, tick uint64, goal protocol.Goal) []byte {
	t.Helper()
	msg := protocol.SnapshotMsg{
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Seq:             seq,
		Width:           2,
		Height:          1,
		Goals:           [2]protocol.Goal{goal, goal},
		Phase:           protocol.PhasePlaying,
		Winner:          -1,
		Runs:            []byte{1, 1, 4, 1, 2, 6},
	}
	frame, err := protocol.PackSnapshot(&msg, 0)
	if err != nil {
		t.Fatalf("PackSnapshot: %v", err)
	}
	return frame
}

func TestObserver_DropsStaleSnapshots(t *testing.T) {
	o := newTestObserver(t, newLoopback(), newFakeClock())
	if o.Render().Ready {
		t.Fatalf("ready before any snapshot")
	}
	if !o.HandleSnapshot(snapshotFrame(t, 2, 4, protocol.Goal{X: 0.5})) {
		t.Fatalf("first snapshot rejected")
	}
	if o.HandleSnapshot(snapshotFrame(t, 1, 2, protocol.Goal{X: 0.9})) {
		t.Fatalf("older snapshot accepted")
	}
	if o.HandleSnapshot(snapshotFrame(t, 2, 4, protocol.Goal{X: 0.9})) {
		t.Fatalf("duplicate snapshot accepted")
	}
	if o.HandleSnapshot([]byte{'X', 1, 2}) {
		t.Fatalf("garbage frame accepted")
	}
	rs := o.Render()
	if !rs.Ready || rs.Seq != 2 || rs.Tick != 4 || rs.Goals[0].X != 0.5 {
		t.Fatalf("render: got ready=%v seq=%d tick=%d goal=%+v", rs.Ready, rs.Seq, rs.Tick, rs.Goals[0])
	}
	if rs.Totals.Side(0) != 4 || rs.Totals.Side(1) != 6 {
		t.Fatalf("totals: got %v", rs.Totals)
	}
}

func TestObserver_FrameInterpolates(t *testing.T) {
	o := newTestObserver(t, newLoopback(), newFakeClock())
	o.HandleSnapshot(snapshotFrame(t, 1, 2, protocol.Goal{X: 0, Y: 0}))
	o.HandleSnapshot(snapshotFrame(t, 2, 4, protocol.Goal{X: 1, Y: 1}))
	// 15 Hz sends: half the send interval.
	o.Frame(time.Second / 30)
	rs := o.Render()
	if !near(rs.Goals[1].X, 0.5) || !near(rs.Goals[1].Y, 0.5) {
		t.Fatalf("goal: got %+v want (0.5,0.5)", rs.Goals[1])
	}
}

func TestObserver_SendsGoal(t *testing.T) {
	net, clock := newLoopback(), newFakeClock()
	o := newTestObserver(t, net, clock)

	o.Frame(time.Millisecond)
	if got := net.count(protocol.TopicInput); got != 0 {
		t.Fatalf("input before any goal: got %d", got)
	}

	o.SetLocalGoal(0.3, 0.4)
	o.Frame(time.Millisecond)
	var in protocol.InputMsg
	if err := json.Unmarshal(net.last(protocol.TopicInput), &in); err != nil {
		t.Fatalf("input: %v", err)
	}
	if in.Side != 1 || in.Seq != 1 || in.X != 0.3 || in.Y != 0.4 {
		t.Fatalf("input: got %+v", in)
	}

	clock.Add(100 * time.Millisecond)
	o.Frame(time.Millisecond)
	if got := net.count(protocol.TopicInput); got != 1 {
		t.Fatalf("unchanged goal resent early: got %d inputs", got)
	}

	clock.Add(resendEvery)
	o.Frame(time.Millisecond)
	if got := net.count(protocol.TopicInput); got != 2 {
		t.Fatalf("keepalive resend: got %d inputs want 2", got)
	}

	// Goal changes faster than the input rate are coalesced.
	o.SetLocalGoal(0.6, 0.6)
	o.Frame(time.Millisecond)
	if got := net.count(protocol.TopicInput); got != 2 {
		t.Fatalf("input rate exceeded: got %d inputs", got)
	}
	clock.Add(time.Second / 10)
	o.Frame(time.Millisecond)
	if err := json.Unmarshal(net.last(protocol.TopicInput), &in); err != nil {
		t.Fatalf("input: %v", err)
	}
	if in.Seq != 3 || in.X != 0.6 {
		t.Fatalf("changed goal: got %+v", in)
	}
}

func TestObserver_Control(t *testing.T) {
	net := newLoopback()
	o := newTestObserver(t, net, newFakeClock())
	seq, err := o.Control(protocol.ActionRematch)
	if err != nil || seq != 1 {
		t.Fatalf("Control: seq=%d err=%v", seq, err)
	}
	if err := o.Resend(protocol.ActionRematch, seq); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	ctl, err := v.ValidateControl(net.last(protocol.TopicControl))
	if err != nil {
		t.Fatalf("ValidateControl: %v", err)
	}
	if ctl.Seq != 1 || ctl.Side != 1 || ctl.Action != protocol.ActionRematch || net.count(protocol.TopicControl) != 2 {
		t.Fatalf("control: got %+v (%d sent)", ctl, net.count(protocol.TopicControl))
	}
}

// TestObserver_AgainstAuthority runs both roles over an in-memory pair.
func TestObserver_AgainstAuthority(t *testing.T) {
	host, guest := memory.NewPair(memory.Options{})
	t.Cleanup(func() { host.Close(); guest.Close() })

	g, bases := testArena()
	quiet := log.New(io.Discard, "", 0)
	a, err := NewAuthority(AuthorityConfig{
		MatchID:   "m-pair",
		Tuning:    testTuning(tuning.StrategyDiscrete),
		Grid:      g,
		Bases:     bases,
		Transport: host,
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	o, err := NewObserver(ObserverConfig{
		Transport: guest,
		Side:      1,
		Tuning:    testTuning(tuning.StrategyDiscrete),
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 2)
	go func() { done <- a.Run(ctx) }()
	go func() { done <- o.Run(ctx) }()

	o.SetLocalGoal(0.1, 0.9)
	for {
		rs := o.Render()
		goal := a.State().Goals[1]
		if rs.Ready && o.Match() != nil && goal == (protocol.Goal{X: 0.1, Y: 0.9}) {
			if m := o.Match(); m.MatchID != "m-pair" || m.ObserverSide != 1 {
				t.Fatalf("match: got %+v", m)
			}
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("observer never synced: ready=%v match=%v goal=%+v", rs.Ready, o.Match() != nil, goal)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	for i := 0; i < 2; i++ {
		<-done
	}
}
