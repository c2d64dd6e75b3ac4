package messages

import (
	"time"
)

// SensorData is one validated device frame as published on sensor/data/{area}.
type SensorData struct {
	AreaID       int64     `json:"area_id"`
	ReadingID    int64     `json:"reading_id,omitempty"` // id of the stored humidity row
	Phosphorus   bool      `json:"phosphorus"`
	Potassium    bool      `json:"potassium"`
	PH           float64   `json:"ph"`
	SoilHumidity float64   `json:"soil_humidity_pct"`
	Timestamp    time.Time `json:"timestamp"`
}
