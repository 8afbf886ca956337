package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid tuning")

// maxSide matches the largest grid side observers accept.
const maxSide = 4096

const (
	StrategyDiscrete   = "discrete"
	StrategyContinuous = "continuous"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz      int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SendRateHz      int `yaml:"send_rate_hz" json:"send_rate_hz"`
	InputRateHz     int `yaml:"input_rate_hz" json:"input_rate_hz"`
	FrameRateHz     int `yaml:"frame_rate_hz" json:"frame_rate_hz"`
	MaxCatchupTicks int `yaml:"max_catchup_ticks" json:"max_catchup_ticks"`

	Strategy  string `yaml:"strategy" json:"strategy"`
	Workers   int    `yaml:"workers" json:"workers"`
	Neighbors int    `yaml:"neighbors" json:"neighbors"`
	Seed      int64  `yaml:"seed" json:"seed"`

	Map       string    `yaml:"map" json:"map,omitempty"`
	Generator Generator `yaml:"generator" json:"generator"`

	Discrete   Discrete   `yaml:"discrete" json:"discrete"`
	Continuous Continuous `yaml:"continuous" json:"continuous"`

	CompressMinBytes int `yaml:"compress_min_bytes" json:"compress_min_bytes"`
}

type Generator struct {
	Width           int     `yaml:"width" json:"width"`
	Height          int     `yaml:"height" json:"height"`
	Scale           float64 `yaml:"scale" json:"scale"`
	WallThreshold   float64 `yaml:"wall_threshold" json:"wall_threshold"`
	BaseClearRadius int     `yaml:"base_clear_radius" json:"base_clear_radius"`
}

type Discrete struct {
	MaxHealth        float64 `yaml:"max_health" json:"max_health"`
	Damage           float64 `yaml:"damage" json:"damage"`
	Heal             float64 `yaml:"heal" json:"heal"`
	InitialAgents    int     `yaml:"initial_agents" json:"initial_agents"`
	SpawnEveryTicks  int     `yaml:"spawn_every_ticks" json:"spawn_every_ticks"`
	MaxAgentsPerSide int     `yaml:"max_agents_per_side" json:"max_agents_per_side"`
	DensityStep      int     `yaml:"density_step" json:"density_step"`
}

type Continuous struct {
	FlowRate           float64 `yaml:"flow_rate" json:"flow_rate"`
	MaxFlowFraction    float64 `yaml:"max_flow_fraction" json:"max_flow_fraction"`
	Production         float64 `yaml:"production" json:"production"`
	InitialMass        float64 `yaml:"initial_mass" json:"initial_mass"`
	DepletionThreshold float64 `yaml:"depletion_threshold" json:"depletion_threshold"`
	QuantScale         float64 `yaml:"quant_scale" json:"quant_scale"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      30,
		SendRateHz:      15,
		InputRateHz:     20,
		FrameRateHz:     60,
		MaxCatchupTicks: 5,
		Strategy:        StrategyDiscrete,
		Workers:         2,
		Neighbors:       8,
		Seed:            1337,
		Generator: Generator{
			Width:           96,
			Height:          64,
			Scale:           0.09,
			WallThreshold:   0.62,
			BaseClearRadius: 4,
		},
		Discrete: Discrete{
			MaxHealth:        10,
			Damage:           1,
			Heal:             0.25,
			InitialAgents:    200,
			SpawnEveryTicks:  15,
			MaxAgentsPerSide: 1500,
			DensityStep:      255,
		},
		Continuous: Continuous{
			FlowRate:           6,
			MaxFlowFraction:    0.45,
			Production:         4,
			InitialMass:        400,
			DepletionThreshold: 0.5,
			QuantScale:         8,
		},
		CompressMinBytes: 512,
	}
}

// Load reads a tuning file over the defaults, so a partial file is valid.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	t.Strategy = strings.ToLower(strings.TrimSpace(t.Strategy))
	if t.Strategy == "" {
		t.Strategy = d.Strategy
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.SendRateHz <= 0 {
		t.SendRateHz = d.SendRateHz
	}
	if t.InputRateHz <= 0 {
		t.InputRateHz = d.InputRateHz
	}
	if t.FrameRateHz <= 0 {
		t.FrameRateHz = d.FrameRateHz
	}
	if t.MaxCatchupTicks <= 0 {
		t.MaxCatchupTicks = d.MaxCatchupTicks
	}
	if t.Workers <= 0 {
		t.Workers = d.Workers
	}
	if t.Neighbors != 4 {
		t.Neighbors = 8
	}
	if t.Continuous.MaxFlowFraction <= 0 || t.Continuous.MaxFlowFraction > d.Continuous.MaxFlowFraction {
		t.Continuous.MaxFlowFraction = d.Continuous.MaxFlowFraction
	}
	if t.Continuous.QuantScale <= 0 {
		t.Continuous.QuantScale = d.Continuous.QuantScale
	}
	if t.Discrete.DensityStep <= 0 || t.Discrete.DensityStep > 255 {
		t.Discrete.DensityStep = d.Discrete.DensityStep
	}
}

func (t Tuning) Validate() error {
	switch t.Strategy {
	case StrategyDiscrete, StrategyContinuous:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalid, t.Strategy)
	}
	if t.SendRateHz > t.TickRateHz {
		return fmt.Errorf("%w: send_rate_hz %d exceeds tick_rate_hz %d", ErrInvalid, t.SendRateHz, t.TickRateHz)
	}
	if t.Discrete.MaxHealth <= 0 {
		return fmt.Errorf("%w: discrete.max_health must be positive", ErrInvalid)
	}
	if t.Discrete.Damage < 0 || t.Discrete.Heal < 0 {
		return fmt.Errorf("%w: discrete damage/heal must be non-negative", ErrInvalid)
	}
	if t.Continuous.FlowRate < 0 || t.Continuous.Production < 0 || t.Continuous.InitialMass < 0 {
		return fmt.Errorf("%w: continuous rates must be non-negative", ErrInvalid)
	}
	if t.Map == "" && (t.Generator.Width < 4 || t.Generator.Height < 4) {
		return fmt.Errorf("%w: generator size %dx%d too small", ErrInvalid, t.Generator.Width, t.Generator.Height)
	}
	if t.Map == "" && (t.Generator.Width > maxSide || t.Generator.Height > maxSide) {
		return fmt.Errorf("%w: generator size %dx%d exceeds %d", ErrInvalid, t.Generator.Width, t.Generator.Height, maxSide)
	}
	return nil
}
