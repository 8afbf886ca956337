package netcode

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/encoding"
	"tidewar.ai/internal/sim/fieldpool"
	"tidewar.ai/internal/sim/grid"
	"tidewar.ai/internal/sim/kernel"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/telemetry"
	"tidewar.ai/internal/transport"
)

type AuthorityConfig struct {
	MatchID   string
	Tuning    tuning.Tuning
	Grid      *grid.Grid
	Bases     [kernel.Sides]grid.Point
	Transport transport.Transport

	// LocalSide is the side driven by SetLocalGoal; the remote observer
	// plays the other one.
	LocalSide int

	Fields    *fieldpool.Computer
	Validator *protocol.Validator
	TickLog   TickLogger
	Index     MatchIndex
	Perf      *telemetry.PerfCollector
	Logger    *log.Logger

	// Report, when set, is called on the authority goroutine every
	// ReportEvery stepped ticks.
	Report      func(tick uint64, perf telemetry.PerfStats, census kernel.Census)
	ReportEvery int

	// Now defaults to time.Now. Tests inject a fake clock.
	Now func() time.Time
}

// AuthorityState is a read-only summary for UIs, published after every
// Advance.
type AuthorityState struct {
	Tick    uint64
	Seq     uint64
	Goals   [kernel.Sides]protocol.Goal
	Outcome Outcome
	Census  kernel.Census
}

// Authority owns the only writable copy of the match. Remote input is
// buffered and merged at tick boundaries; controls are applied between
// ticks and broadcast at once.
type Authority struct {
	cfg      AuthorityConfig
	log      *log.Logger
	m        *Match
	validate *protocol.Validator
	now      func() time.Time

	inputs    chan protocol.InputMsg
	controls  chan protocol.ControlMsg
	localGoal chan protocol.Goal
	localCtl  chan string

	interval  time.Duration
	sendEvery time.Duration
	lastSend  time.Time
	maxAcc    time.Duration
	acc       time.Duration
	pending   [kernel.Sides]*protocol.Goal
	lastInSeq [kernel.Sides]uint64
	ctlSeq    [kernel.Sides]uint64
	localSeq  uint64
	applied   []protocol.ControlMsg
	seq       uint64
	snap      protocol.SnapshotMsg
	ended     bool

	state atomic.Pointer[AuthorityState]
	unsub []func()
}

func NewAuthority(cfg AuthorityConfig) (*Authority, error) {
	if cfg.Transport == nil {
		return nil, errors.New("netcode: authority needs a transport")
	}
	if cfg.LocalSide != 0 && cfg.LocalSide != 1 {
		return nil, errors.New("netcode: local side must be 0 or 1")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Validator == nil {
		v, err := protocol.NewValidator()
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	m, err := NewMatch(MatchConfig{
		Tuning: cfg.Tuning,
		Grid:   cfg.Grid,
		Bases:  cfg.Bases,
		Fields: cfg.Fields,
		Logger: cfg.Logger,
		Perf:   cfg.Perf,
	})
	if err != nil {
		return nil, err
	}
	interval := time.Second / time.Duration(cfg.Tuning.TickRateHz)
	a := &Authority{
		cfg:       cfg,
		log:       cfg.Logger,
		m:         m,
		validate:  cfg.Validator,
		now:       cfg.Now,
		inputs:    make(chan protocol.InputMsg, 64),
		controls:  make(chan protocol.ControlMsg, 16),
		localGoal: make(chan protocol.Goal, 1),
		localCtl:  make(chan string, 4),
		interval:  interval,
		sendEvery: time.Second / time.Duration(cfg.Tuning.SendRateHz),
		maxAcc:    interval * time.Duration(cfg.Tuning.MaxCatchupTicks),
	}
	a.snap.MatchID = cfg.MatchID
	a.unsub = append(a.unsub,
		cfg.Transport.Subscribe(protocol.TopicInput, a.onInput),
		cfg.Transport.Subscribe(protocol.TopicControl, a.onControl),
	)
	a.publishState()
	return a, nil
}

func (a *Authority) Match() *Match { return a.m }

func (a *Authority) observerSide() int { return 1 - a.cfg.LocalSide }

// onInput runs on the transport goroutine. It only validates and queues.
func (a *Authority) onInput(raw []byte) {
	in, err := a.validate.ValidateInput(raw)
	if err != nil {
		a.reject(err)
		return
	}
	transport.SendLatest(a.inputs, in)
}

func (a *Authority) onControl(raw []byte) {
	ctl, err := a.validate.ValidateControl(raw)
	if err != nil {
		a.reject(err)
		return
	}
	select {
	case a.controls <- ctl:
	default:
		a.reject(&protocol.Error{Code: protocol.ErrRateLimit, Err: errors.New("control queue full")})
	}
}

func (a *Authority) reject(err error) {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            protocol.CodeOf(err),
		Message:         err.Error(),
	})
	_ = a.cfg.Transport.Send(protocol.TopicError, b)
}

// SetLocalGoal updates the authority's own side. Safe from any goroutine;
// the value is merged at the next tick boundary.
func (a *Authority) SetLocalGoal(x, y float64) {
	if g, ok := ClampGoal(x, y); ok {
		transport.SendLatest(a.localGoal, g)
	}
}

// LocalControl queues a rematch or forfeit on behalf of the local side.
func (a *Authority) LocalControl(action string) {
	select {
	case a.localCtl <- action:
	default:
	}
}

func (a *Authority) State() AuthorityState { return *a.state.Load() }

// Start announces the match. Run calls it; tests driving Advance directly
// call it themselves.
func (a *Authority) Start() {
	h := a.header()
	if a.cfg.TickLog != nil {
		if err := a.cfg.TickLog.WriteHeader(h); err != nil {
			a.log.Printf("match=%s tick log header: %v", a.cfg.MatchID, err)
		}
	}
	if a.cfg.Index != nil {
		a.cfg.Index.RecordMatch(h)
	}
	a.sendMatch()
	a.broadcast()
}

func (a *Authority) header() MatchHeader {
	g := a.m.Grid()
	return MatchHeader{
		MatchID:    a.cfg.MatchID,
		StartedAt:  a.now().UTC(),
		Tuning:     a.cfg.Tuning,
		Width:      g.Width(),
		Height:     g.Height(),
		Walls:      encoding.EncodeMask(g),
		GridDigest: g.Digest(),
		Bases:      a.cfg.Bases,
	}
}

// Run drives Advance from a ticker until ctx is done.
func (a *Authority) Run(ctx context.Context) error {
	defer a.Close()
	a.Start()
	a.log.Printf("match=%s authority running strategy=%s tick_rate_hz=%d send_rate_hz=%d",
		a.cfg.MatchID, a.m.Strategy(), a.cfg.Tuning.TickRateHz, a.cfg.Tuning.SendRateHz)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	last := a.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ctl := <-a.controls:
			a.applyControl(ctl, true)
			a.publishState()
		case action := <-a.localCtl:
			a.applyControl(a.localControl(action), false)
			a.publishState()
		case <-ticker.C:
			now := a.now()
			if err := a.Advance(ctx, now.Sub(last)); err != nil {
				return err
			}
			last = now
		}
	}
}

func (a *Authority) localControl(action string) protocol.ControlMsg {
	a.localSeq++
	return protocol.ControlMsg{
		Type:            protocol.TypeControl,
		ProtocolVersion: protocol.Version,
		Seq:             a.localSeq,
		Action:          action,
		Side:            a.cfg.LocalSide,
	}
}

// Advance runs as many fixed ticks as elapsed covers, then broadcasts if a
// send interval has passed since the last broadcast. Queued controls are
// applied first.
func (a *Authority) Advance(ctx context.Context, elapsed time.Duration) error {
	a.drain()

	a.acc += elapsed
	if a.acc > a.maxAcc {
		a.acc = a.maxAcc
	}
	for a.acc >= a.interval {
		a.acc -= a.interval
		a.mergeGoals()
		stepped, err := a.m.Step(ctx)
		if err != nil {
			return err
		}
		if !stepped {
			continue
		}
		a.logTick()
		a.report()
		if o := a.m.Outcome(); o.Ended && !a.ended {
			a.ended = true
			a.log.Printf("match=%s ended tick=%d winner=%d reason=%s", a.cfg.MatchID, a.m.Tick(), o.Winner, o.Reason)
			if a.cfg.Index != nil {
				a.cfg.Index.RecordOutcome(a.cfg.MatchID, a.m.Tick(), o)
			}
		}
	}

	if a.now().Sub(a.lastSend) >= a.sendEvery {
		a.broadcast()
	}
	a.publishState()
	return nil
}

func (a *Authority) drain() {
	for {
		select {
		case ctl := <-a.controls:
			a.applyControl(ctl, true)
		case action := <-a.localCtl:
			a.applyControl(a.localControl(action), false)
		case in := <-a.inputs:
			a.acceptInput(in)
		default:
			return
		}
	}
}

func (a *Authority) acceptInput(in protocol.InputMsg) {
	if in.Side != a.observerSide() {
		a.reject(&protocol.Error{Code: protocol.ErrWrongSide, Err: errors.New("input for a side the observer does not play")})
		return
	}
	if in.Seq != 0 {
		if in.Seq <= a.lastInSeq[in.Side] {
			return
		}
		a.lastInSeq[in.Side] = in.Seq
	}
	g, ok := ClampGoal(in.X, in.Y)
	if !ok {
		return
	}
	a.pending[in.Side] = &g
}

// mergeGoals applies the newest buffered goal per side. Only called at a
// tick boundary.
func (a *Authority) mergeGoals() {
	for {
		select {
		case in := <-a.inputs:
			a.acceptInput(in)
			continue
		case g := <-a.localGoal:
			a.pending[a.cfg.LocalSide] = &g
			continue
		default:
		}
		break
	}
	for s, g := range a.pending {
		if g != nil {
			a.m.SetGoal(s, *g)
			a.pending[s] = nil
		}
	}
}

// applyControl applies ctl at most once per (side, seq) and broadcasts
// immediately without consuming the throttle. Remote peers may only act
// for the observer side.
func (a *Authority) applyControl(ctl protocol.ControlMsg, remote bool) {
	if remote && ctl.Side != a.observerSide() {
		a.reject(&protocol.Error{Code: protocol.ErrWrongSide, Err: errors.New("control for a side the observer does not play")})
		return
	}
	if ctl.Action == protocol.ActionHello {
		a.sendMatch()
		a.broadcast()
		return
	}
	if ctl.Seq <= a.ctlSeq[ctl.Side] {
		a.broadcast()
		return
	}
	a.ctlSeq[ctl.Side] = ctl.Seq
	if remote && ctl.Action == protocol.ActionForfeit && a.m.Outcome().Ended {
		a.reject(&protocol.Error{Code: protocol.ErrMatchEnded, Err: errors.New("forfeit after the match ended")})
		a.broadcast()
		return
	}
	if a.m.Apply(ctl) {
		a.applied = append(a.applied, ctl)
		a.log.Printf("match=%s control side=%d seq=%d action=%s tick=%d", a.cfg.MatchID, ctl.Side, ctl.Seq, ctl.Action, a.m.Tick())
		switch ctl.Action {
		case protocol.ActionRematch:
			a.ended = false
			a.pending = [kernel.Sides]*protocol.Goal{}
			a.sendMatch()
		case protocol.ActionForfeit:
			a.ended = true
			if a.cfg.Index != nil {
				a.cfg.Index.RecordOutcome(a.cfg.MatchID, a.m.Tick(), a.m.Outcome())
			}
		}
	}
	a.broadcast()
}

func (a *Authority) report() {
	every := a.cfg.ReportEvery
	if a.cfg.Report == nil || every <= 0 || a.m.Tick()%uint64(every) != 0 {
		return
	}
	var st telemetry.PerfStats
	if a.cfg.Perf != nil {
		st = a.cfg.Perf.Stats()
	}
	a.cfg.Report(a.m.Tick(), st, a.m.Census())
}

func (a *Authority) logTick() {
	if a.cfg.TickLog == nil {
		a.applied = a.applied[:0]
		return
	}
	entry := TickLogEntry{
		Tick:     a.m.Tick(),
		Goals:    a.m.Goals(),
		Controls: append([]protocol.ControlMsg(nil), a.applied...),
		Digest:   a.m.Digest(),
	}
	a.applied = a.applied[:0]
	if err := a.cfg.TickLog.WriteTick(entry); err != nil {
		a.log.Printf("match=%s tick=%d tick log: %v", a.cfg.MatchID, entry.Tick, err)
	}
}

func (a *Authority) sendMatch() {
	g := a.m.Grid()
	b := a.cfg.Bases
	msg := protocol.MatchMsg{
		Type:            protocol.TypeMatch,
		ProtocolVersion: protocol.Version,
		MatchID:         a.cfg.MatchID,
		Strategy:        string(a.m.Strategy()),
		Width:           g.Width(),
		Height:          g.Height(),
		Walls:           encoding.EncodeMask(g),
		Bases:           [2][2]int{{b[0].X, b[0].Y}, {b[1].X, b[1].Y}},
		TickRateHz:      a.cfg.Tuning.TickRateHz,
		SendRateHz:      a.cfg.Tuning.SendRateHz,
		ObserverSide:    a.observerSide(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		a.log.Printf("match=%s marshal match: %v", a.cfg.MatchID, err)
		return
	}
	_ = a.cfg.Transport.Send(protocol.TopicMatch, raw)
}

func (a *Authority) broadcast() {
	a.seq++
	a.lastSend = a.now()
	a.m.Snapshot(&a.snap)
	a.snap.Seq = a.seq
	a.snap.ControlSeq = a.ctlSeq[a.observerSide()]
	frame, err := protocol.PackSnapshot(&a.snap, a.cfg.Tuning.CompressMinBytes)
	if err != nil {
		a.log.Printf("match=%s seq=%d pack: %v", a.cfg.MatchID, a.seq, err)
		return
	}
	if err := a.cfg.Transport.Send(protocol.TopicSnapshot, frame); err != nil && !errors.Is(err, transport.ErrClosed) {
		a.log.Printf("match=%s seq=%d send: %v", a.cfg.MatchID, a.seq, err)
	}
	if a.cfg.Perf != nil {
		a.cfg.Perf.RecordBroadcast(len(frame))
	}
	if a.cfg.Index != nil {
		a.cfg.Index.RecordBroadcast(a.cfg.MatchID, a.seq, a.m.Tick(), len(frame), protocol.Compressed(frame))
	}
}

func (a *Authority) publishState() {
	a.state.Store(&AuthorityState{
		Tick:    a.m.Tick(),
		Seq:     a.seq,
		Goals:   a.m.Goals(),
		Outcome: a.m.Outcome(),
		Census:  a.m.Census(),
	})
}

// Close unsubscribes from the transport and releases the match.
func (a *Authority) Close() {
	for _, u := range a.unsub {
		u()
	}
	a.unsub = nil
	if a.m != nil {
		a.m.Close()
	}
}
