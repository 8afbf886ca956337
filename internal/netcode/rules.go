package netcode

import (
	"math"

	"tidewar.ai/internal/protocol"
	"tidewar.ai/internal/sim/kernel"
	"tidewar.ai/internal/sim/tuning"
)

// Outcome is the match result. Winner is -1 while playing and on a draw.
type Outcome struct {
	Ended  bool
	Winner int
	Reason string
}

var playing = Outcome{Winner: -1}

// Evaluate applies the strategy's loss conditions to a census. Both sides
// losing on the same tick is a draw.
func Evaluate(strategy kernel.Strategy, c kernel.Census, cfg tuning.Continuous) Outcome {
	var lost [kernel.Sides]bool
	var reason [kernel.Sides]string
	for s := 0; s < kernel.Sides; s++ {
		switch strategy {
		case kernel.Discrete:
			if c.Count[s] == 0 {
				lost[s], reason[s] = true, protocol.ReasonEliminated
			}
		case kernel.Continuous:
			switch {
			case c.BaseOwner[s] == 1-s:
				lost[s], reason[s] = true, protocol.ReasonBaseCaptured
			case c.Mass[s] <= cfg.DepletionThreshold:
				lost[s], reason[s] = true, protocol.ReasonDepleted
			}
		}
	}
	switch {
	case lost[0] && lost[1]:
		return Outcome{Ended: true, Winner: -1, Reason: protocol.ReasonDraw}
	case lost[0]:
		return Outcome{Ended: true, Winner: 1, Reason: reason[0]}
	case lost[1]:
		return Outcome{Ended: true, Winner: 0, Reason: reason[1]}
	}
	return playing
}

func Forfeit(side int) Outcome {
	return Outcome{Ended: true, Winner: 1 - side, Reason: protocol.ReasonForfeit}
}

// ClampGoal bounds a remote goal to [0,1]x[0,1]. Non-finite values are
// rejected.
func ClampGoal(x, y float64) (protocol.Goal, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return protocol.Goal{}, false
	}
	return protocol.Goal{X: clamp01(x), Y: clamp01(y)}, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
