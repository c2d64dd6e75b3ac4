package entities

import "time"

// WeatherContext is the read-only weather snapshot the decision uses.
// A zero FetchedAt means no data has ever been fetched.
type WeatherContext struct {
	Temperature  float64   `json:"temperature"`
	AirHumidity  float64   `json:"air_humidity"`
	Description  string    `json:"description"`
	RainImminent bool      `json:"rain_imminent"`
	FetchedAt    time.Time `json:"fetched_at"`
	Stale        bool      `json:"stale"`
}
