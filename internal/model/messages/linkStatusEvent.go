package messages

import (
	"time"
)

// LinkStatusEvent mirrors a link supervisor diagnostic on event/link/{area}.
type LinkStatusEvent struct {
	AreaID    int64     `json:"area_id"`
	Port      string    `json:"port"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Attempt   int       `json:"attempt,omitempty"`
	SilenceS  float64   `json:"silence_s,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
