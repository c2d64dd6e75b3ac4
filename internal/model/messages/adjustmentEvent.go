package messages

import "time"

// AdjustmentEvent is published after a pump command reached the device and was recorded.
type AdjustmentEvent struct {
	AdjustmentID       int64     `json:"adjustment_id"`
	AreaID             int64     `json:"area_id"`
	Type               string    `json:"type"` // "irrigation" | "manual"
	PumpOn             bool      `json:"pump_on"`
	ReferenceReadingID *int64    `json:"reference_reading_id,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// PumpCommandMessage is the manual command accepted on command/pump/{area}.
type PumpCommandMessage struct {
	AreaID    int64  `json:"area_id"`
	TurnOn    bool   `json:"turn_on"`
	Source    string `json:"source,omitempty"`
	CommandID string `json:"command_id,omitempty"`
}
