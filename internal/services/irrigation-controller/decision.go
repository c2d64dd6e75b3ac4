package irrigation_controller

import "github.com/LeonardoBeccarini/farmtech/pkg/telemetry"

// MoistureThreshold is the soil humidity (%) below which the soil counts as dry.
const MoistureThreshold = 40.0

const (
	ReasonIrrigate = "soil dry and nutrients present"
	ReasonRain     = "rain forecast"
	ReasonNoNeed   = "soil moisture ok or nutrients absent"
)

// Decide turns one reading plus the rain forecast into a pump command.
// Irrigation is needed when the soil is dry and at least one nutrient is
// present; an imminent rain vetoes it.
func Decide(soilHumidity float64, phosphorus, potassium, rainImminent bool) telemetry.PumpCommand {
	need := soilHumidity < MoistureThreshold && (phosphorus || potassium)
	return telemetry.PumpCommand{TurnOn: need && !rainImminent}
}

// Explain gives the reason behind Decide for status events and logs.
func Explain(soilHumidity float64, phosphorus, potassium, rainImminent bool) string {
	need := soilHumidity < MoistureThreshold && (phosphorus || potassium)
	switch {
	case need && rainImminent:
		return ReasonRain
	case need:
		return ReasonIrrigate
	default:
		return ReasonNoNeed
	}
}
