package telemetry

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"
)

// Phase names for one authority tick.
const (
	PhaseFields = "fields"
	PhaseKernel = "kernel"
	PhaseEncode = "encode"
)

var phases = []string{PhaseFields, PhaseKernel, PhaseEncode}

// PerfSample holds timing data for a single tick.
type PerfSample struct {
	TickDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks tick timing and broadcast volume over a rolling
// window. It is owned by the authority loop and is not safe for concurrent
// use.
type PerfCollector struct {
	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int

	currentPhases map[string]time.Duration
	tickStart     time.Time
	phaseStart    time.Time
	lastPhase     string

	broadcasts int
	bytesSent  uint64

	now func() time.Time
}

// NewPerfCollector creates a collector averaging over windowSize ticks.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
		now:           time.Now,
	}
}

func (p *PerfCollector) StartTick() {
	p.tickStart = p.now()
	p.currentPhases = make(map[string]time.Duration, len(phases))
	p.lastPhase = ""
}

// StartPhase ends the previous phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := p.now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

func (p *PerfCollector) EndTick() {
	now := p.now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.samples[p.writeIndex] = PerfSample{TickDuration: now.Sub(p.tickStart), Phases: p.currentPhases}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	p.lastPhase = ""
}

// Span times one phase outside StartTick/EndTick, such as an encode that
// happens after the tick loop.
func (p *PerfCollector) Span(phase string, d time.Duration) {
	if p.sampleCount == 0 {
		return
	}
	last := (p.writeIndex - 1 + p.windowSize) % p.windowSize
	if p.samples[last].Phases == nil {
		p.samples[last].Phases = map[string]time.Duration{}
	}
	p.samples[last].Phases[phase] += d
}

// RecordBroadcast counts one sent snapshot of n bytes.
func (p *PerfCollector) RecordBroadcast(n int) {
	p.broadcasts++
	p.bytesSent += uint64(n)
}

type PerfStats struct {
	Samples int

	AvgTick    time.Duration
	StdDevTick time.Duration
	MaxTick    time.Duration

	PhaseAvg map[string]time.Duration

	Broadcasts int
	BytesSent  uint64
}

// Stats aggregates the current window.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{
		Samples:    p.sampleCount,
		PhaseAvg:   make(map[string]time.Duration, len(phases)),
		Broadcasts: p.broadcasts,
		BytesSent:  p.bytesSent,
	}
	if p.sampleCount == 0 {
		return st
	}

	ticks := make([]float64, p.sampleCount)
	sums := make(map[string]time.Duration, len(phases))
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		ticks[i] = float64(s.TickDuration)
		if s.TickDuration > st.MaxTick {
			st.MaxTick = s.TickDuration
		}
		for ph, d := range s.Phases {
			sums[ph] += d
		}
	}
	mean, std := stat.MeanStdDev(ticks, nil)
	if p.sampleCount < 2 {
		std = 0
	}
	st.AvgTick = time.Duration(mean)
	st.StdDevTick = time.Duration(std)
	for ph, sum := range sums {
		st.PhaseAvg[ph] = sum / time.Duration(p.sampleCount)
	}
	return st
}

// String renders a one-line summary for the server log.
func (s PerfStats) String() string {
	return fmt.Sprintf("avg_tick=%s sd=%s max=%s fields=%s kernel=%s encode=%s broadcasts=%d sent=%s",
		s.AvgTick.Round(time.Microsecond), s.StdDevTick.Round(time.Microsecond), s.MaxTick.Round(time.Microsecond),
		s.PhaseAvg[PhaseFields].Round(time.Microsecond), s.PhaseAvg[PhaseKernel].Round(time.Microsecond),
		s.PhaseAvg[PhaseEncode].Round(time.Microsecond), s.Broadcasts, humanize.Bytes(s.BytesSent))
}

// PerfStatsCSV is a flat struct for CSV export.
type PerfStatsCSV struct {
	Tick       uint64 `csv:"tick"`
	AvgTickUS  int64  `csv:"avg_tick_us"`
	StdDevUS   int64  `csv:"sd_tick_us"`
	MaxTickUS  int64  `csv:"max_tick_us"`
	FieldsUS   int64  `csv:"fields_us"`
	KernelUS   int64  `csv:"kernel_us"`
	EncodeUS   int64  `csv:"encode_us"`
	Broadcasts int    `csv:"broadcasts"`
	BytesSent  uint64 `csv:"bytes_sent"`
}

func (s PerfStats) ToCSV(tick uint64) PerfStatsCSV {
	return PerfStatsCSV{
		Tick:       tick,
		AvgTickUS:  s.AvgTick.Microseconds(),
		StdDevUS:   s.StdDevTick.Microseconds(),
		MaxTickUS:  s.MaxTick.Microseconds(),
		FieldsUS:   s.PhaseAvg[PhaseFields].Microseconds(),
		KernelUS:   s.PhaseAvg[PhaseKernel].Microseconds(),
		EncodeUS:   s.PhaseAvg[PhaseEncode].Microseconds(),
		Broadcasts: s.Broadcasts,
		BytesSent:  s.BytesSent,
	}
}
