package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

// State of the link supervisor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrOpenFailed         = errors.New("link: open failed")
	ErrNotConnected       = errors.New("link: not connected")
	ErrReconnectExhausted = errors.New("link: reconnect attempts exhausted")
	ErrAlreadyConnected   = errors.New("link: session already active")
	ErrWriteFailed        = errors.New("link: write failed")

	errSessionClosed = errors.New("link: session closed")
)

// EventKind classifies a status event.
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventOpenFailed      EventKind = "open_failed"
	EventDisconnected    EventKind = "disconnected"
	EventFrameRejected   EventKind = "frame_rejected"
	EventLineDiscarded   EventKind = "line_discarded"
	EventReadError       EventKind = "read_error"
	EventStale           EventKind = "stale"
	EventReconnecting    EventKind = "reconnecting"
	EventReconnected     EventKind = "reconnected"
	EventReconnectFailed EventKind = "reconnect_failed"
	EventExhausted       EventKind = "exhausted"
	EventCommandSent     EventKind = "command_sent"
)

// Event is a human readable status report. It is observational only.
type Event struct {
	Kind    EventKind
	State   State
	Port    string
	Message string
	Attempt int
	Silence time.Duration
	Reason  telemetry.RejectReason // set for EventFrameRejected
	Err     error
	At      time.Time
}

func (e Event) String() string { return e.Message }

// Reading is a validated frame together with its arrival time.
type Reading struct {
	telemetry.Reading
	Line       string
	ReceivedAt time.Time
}

// Snapshot is a consistent view of the supervisor for status reporting.
type Snapshot struct {
	State        State         `json:"-"`
	StateName    string        `json:"state"`
	Port         string        `json:"port"`
	Attempts     int           `json:"reconnect_attempts"`
	Errors       int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity"`
	Silence      time.Duration `json:"silence_ns"`
}
