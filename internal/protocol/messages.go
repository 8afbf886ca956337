package protocol

// Match phases.
const (
	PhasePlaying = "PLAYING"
	PhaseEnded   = "ENDED"
)

// Outcome reasons.
const (
	ReasonEliminated   = "ELIMINATED"
	ReasonBaseCaptured = "BASE_CAPTURED"
	ReasonDepleted     = "MASS_DEPLETED"
	ReasonForfeit      = "FORFEIT"
	ReasonDraw         = "DRAW"
)

// Control actions.
const (
	ActionRematch = "REMATCH"
	ActionForfeit = "FORFEIT"
	// ActionHello asks the authority to resend MATCH and a snapshot. It
	// changes no state.
	ActionHello   = "HELLO"
)

// Goal is a normalized position in [0,1]x[0,1].
type Goal struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// SNAPSHOT (authority -> observer), msgpack inside a binary frame.
type SnapshotMsg struct {
	ProtocolVersion string `msgpack:"v"`
	MatchID         string `msgpack:"match"`
	Tick            uint64 `msgpack:"tick"`
	Seq             uint64 `msgpack:"seq"`
	Width           int    `msgpack:"w"`
	Height          int    `msgpack:"h"`
	Strategy        string `msgpack:"strategy"`

	Goals  [2]Goal `msgpack:"goals"`
	Phase  string  `msgpack:"phase"`
	Winner int     `msgpack:"winner"` // -1 when there is none
	Reason string  `msgpack:"reason,omitempty"`

	// ControlSeq is the last control seq the authority applied.
	ControlSeq uint64 `msgpack:"cseq"`

	// Runs holds (run, owner, magnitude) triples, row-major.
	Runs []byte `msgpack:"runs"`
}

// INPUT (observer -> authority)
type InputMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Side            int     `json:"side"`
	Seq             uint64  `json:"seq"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

// CONTROL (either peer -> authority)
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Action          string `json:"action"`
	Side            int    `json:"side"`
}

// MATCH (authority -> observer) describes the static match setup. It is
// sent at start, on rematch, and in reply to a HELLO control.
type MatchMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	MatchID         string    `json:"match_id"`
	Strategy        string    `json:"strategy"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Walls           string    `json:"walls"` // base64 uvarint runs, see encoding.EncodeMask
	Bases           [2][2]int `json:"bases"`
	TickRateHz      int       `json:"tick_rate_hz"`
	SendRateHz      int       `json:"send_rate_hz"`
	ObserverSide    int       `json:"observer_side"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
