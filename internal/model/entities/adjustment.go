package entities

import "time"

// AdjustmentType tells who decided an actuation.
type AdjustmentType string

const (
	AdjustmentIrrigation AdjustmentType = "irrigation" // decision engine
	AdjustmentManual     AdjustmentType = "manual"     // operator
)

// PumpState indicates whether the irrigation pump is on or off.
type PumpState string

const (
	PumpOff PumpState = "off"
	PumpOn  PumpState = "on"
)

func PumpStateOf(on bool) PumpState {
	if on {
		return PumpOn
	}
	return PumpOff
}

// Adjustment records one pump actuation.
// ReferenceReadingID is nil for manual commands.
type Adjustment struct {
	ID                 int64          `json:"id"`
	AreaID             int64          `json:"area_id"`
	Type               AdjustmentType `json:"type"`
	PumpOn             bool           `json:"pump_on"`
	ReferenceReadingID *int64         `json:"reference_reading_id,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
}
