package protocol

const Version = "1.0"

// Transport topics.
const (
	TopicSnapshot = "snapshot"
	TopicInput    = "input"
	TopicControl  = "control"
	TopicMatch    = "match"
	TopicError    = "error"
)

// Message types carried as JSON.
const (
	TypeInput   = "INPUT"
	TypeControl = "CONTROL"
	TypeMatch   = "MATCH"
	TypeError   = "ERROR"
)
