package messages

import "time"

// IrrigationDecisionEvent is published by the controller to record WHY/WHAT was decided.
type IrrigationDecisionEvent struct {
	DecisionID   string    `json:"decision_id"`
	AreaID       int64     `json:"area_id"`
	ReadingID    int64     `json:"reading_id,omitempty"`
	SoilHumidity float64   `json:"soil_humidity_pct"`
	Phosphorus   bool      `json:"phosphorus"`
	Potassium    bool      `json:"potassium"`
	RainImminent bool      `json:"rain_imminent"`
	WeatherStale bool      `json:"weather_stale"`
	PumpOn       bool      `json:"pump_on"`
	Delivered    bool      `json:"delivered"` // false when suppressed as a repeat or the send failed
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}
