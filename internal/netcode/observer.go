package netcode

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/tuning"
	"tidewar.ai/internal/transport"
)

const resendEvery = time.Second

type ObserverConfig struct {
	Transport transport.Transport
	// Side is the side this peer plays.
	Side      int
	Tuning    tuning.Tuning
	Validator *protocol.Validator
	Logger    *log.Logger
	Now       func() time.Time
}

// Observer renders the authority's snapshots and sends its own goal. It
// runs no simulation.
type Observer struct {
	cfg      ObserverConfig
	log      *log.Logger
	validate *protocol.Validator
	now      func() time.Time

	snaps     chan []byte
	matches   chan []byte
	errs      chan []byte
	localGoal chan protocol.Goal

	interp   *Interpolator
	inputs   *rate.Limiter
	inputSeq uint64
	ctlSeq   atomic.Uint64
	goal     protocol.Goal
	lastSend time.Time
	dirty    bool
	hasGoal  bool
	lastSeq  uint64

	render atomic.Pointer[RenderState]
	match  atomic.Pointer[protocol.MatchMsg]
	lastEr atomic.Pointer[protocol.ErrorMsg]
	unsub  []func()
}

func NewObserver(cfg ObserverConfig) (*Observer, error) {
	if cfg.Transport == nil {
		return nil, errors.New("netcode: observer needs a transport")
	}
	if cfg.Side != 0 && cfg.Side != 1 {
		return nil, errors.New("netcode: observer side must be 0 or 1")
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
	t := cfg.Tuning
	o := &Observer{
		cfg:       cfg,
		log:       cfg.Logger,
		validate:  cfg.Validator,
		now:       cfg.Now,
		snaps:     make(chan []byte, 4),
		matches:   make(chan []byte, 2),
		errs:      make(chan []byte, 4),
		localGoal: make(chan protocol.Goal, 1),
		interp:    NewInterpolator(time.Second / time.Duration(t.SendRateHz)),
		inputs:    rate.NewLimiter(rate.Limit(t.InputRateHz), 1),
	}
	o.render.Store(&RenderState{Winner: -1})
	o.unsub = append(o.unsub,
		cfg.Transport.Subscribe(protocol.TopicSnapshot, func(b []byte) { transport.SendLatest(o.snaps, append([]byte(nil), b...)) }),
		cfg.Transport.Subscribe(protocol.TopicMatch, func(b []byte) { transport.SendLatest(o.matches, append([]byte(nil), b...)) }),
		cfg.Transport.Subscribe(protocol.TopicError, func(b []byte) { transport.SendLatest(o.errs, append([]byte(nil), b...)) }),
	)
	return o, nil
}

// Render returns the latest interpolated frame. Safe from any goroutine.
func (o *Observer) Render() RenderState { return *o.render.Load() }

// Match returns the last MATCH description, or nil before one arrives.
func (o *Observer) Match() *protocol.MatchMsg { return o.match.Load() }

// LastError returns the last ERROR the authority sent, if any.
func (o *Observer) LastError() *protocol.ErrorMsg { return o.lastEr.Load() }

// SetLocalGoal records the local pointer position. Safe from any goroutine.
func (o *Observer) SetLocalGoal(x, y float64) {
	if g, ok := ClampGoal(x, y); ok {
		transport.SendLatest(o.localGoal, g)
	}
}

// Control sends a control action with the next sequence number. Lost
// controls may be resent with Resend; the authority applies each seq once.
func (o *Observer) Control(action string) (uint64, error) {
	seq := o.ctlSeq.Add(1)
	return seq, o.sendControl(action, seq)
}

func (o *Observer) Resend(action string, seq uint64) error { return o.sendControl(action, seq) }

func (o *Observer) sendControl(action string, seq uint64) error {
	raw, err := json.Marshal(protocol.ControlMsg{
		Type:            protocol.TypeControl,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Action:          action,
		Side:            o.cfg.Side,
	})
	if err != nil {
		return err
	}
	return o.cfg.Transport.Send(protocol.TopicControl, raw)
}

// Run handles snapshots and sends input until ctx is done.
func (o *Observer) Run(ctx context.Context) error {
	defer o.Close()
	if _, err := o.Control(protocol.ActionHello); err != nil && !errors.Is(err, transport.ErrClosed) {
		o.log.Printf("observer hello: %v", err)
	}

	frame := time.Second / time.Duration(o.cfg.Tuning.FrameRateHz)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	last := o.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-o.snaps:
			o.HandleSnapshot(b)
		case b := <-o.matches:
			o.handleMatch(b)
		case b := <-o.errs:
			o.handleError(b)
		case <-ticker.C:
			now := o.now()
			o.Frame(now.Sub(last))
			last = now
		}
	}
}

// HandleSnapshot decodes a frame and makes it current. Frames older than
// the current one are dropped.
func (o *Observer) HandleSnapshot(frame []byte) bool {
	msg, err := protocol.UnpackSnapshot(frame)
	if err != nil {
		o.log.Printf("observer snapshot: %v", err)
		return false
	}
	if msg.Seq <= o.lastSeq {
		return false
	}
	s, ok := Decode(msg)
	if !ok {
		return false
	}
	o.lastSeq = msg.Seq
	o.interp.Push(s)
	o.render.Store(ptr(o.interp.Frame()))
	return true
}

func (o *Observer) handleMatch(raw []byte) {
	m, err := o.validate.ValidateMatch(raw)
	if err != nil {
		o.log.Printf("observer match: %v", err)
		return
	}
	if m.SendRateHz > 0 {
		o.interp.nominal = time.Second / time.Duration(m.SendRateHz)
	}
	o.match.Store(&m)
}

func (o *Observer) handleError(raw []byte) {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(raw, &e); err != nil || !protocol.IsKnownCode(e.Code) {
		return
	}
	o.lastEr.Store(&e)
	o.log.Printf("observer: authority rejected a message code=%s msg=%s", e.Code, e.Message)
}

// Frame advances the blend by dt, publishes a frame and sends the local
// goal, at most InputRateHz times a second. An unchanged goal is resent
// once per resendEvery so a lost input does not stick.
func (o *Observer) Frame(dt time.Duration) {
	o.interp.Advance(dt)
	o.render.Store(ptr(o.interp.Frame()))

	select {
	case g := <-o.localGoal:
		if !o.hasGoal || g != o.goal {
			o.goal = g
			o.dirty = true
			o.hasGoal = true
		}
	default:
	}
	now := o.now()
	if !o.hasGoal {
		return
	}
	if !o.dirty && now.Sub(o.lastSend) < resendEvery {
		return
	}
	if !o.inputs.AllowN(now, 1) {
		return
	}
	o.inputSeq++
	raw, err := json.Marshal(protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Side:            o.cfg.Side,
		Seq:             o.inputSeq,
		X:               o.goal.X,
		Y:               o.goal.Y,
	})
	if err != nil {
		return
	}
	if err := o.cfg.Transport.Send(protocol.TopicInput, raw); err == nil {
		o.lastSend = now
		o.dirty = false
	}
}

func (o *Observer) Close() {
	for _, u := range o.unsub {
		u()
	}
	o.unsub = nil
}

func ptr[T any](v T) *T { return &v }
