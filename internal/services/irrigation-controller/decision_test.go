package irrigation_controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		h       float64
		p, k    bool
		rain    bool
		want    telemetry.PumpCommand
		because string
	}{
		{39.9, true, false, false, telemetry.PumpOn, ReasonIrrigate},
		{39.9, true, false, true, telemetry.PumpOff, ReasonRain},
		{40.0, true, true, false, telemetry.PumpOff, ReasonNoNeed},
		{10, false, false, false, telemetry.PumpOff, ReasonNoNeed},
		{0, false, true, false, telemetry.PumpOn, ReasonIrrigate},
		{100, true, true, true, telemetry.PumpOff, ReasonNoNeed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Decide(c.h, c.p, c.k, c.rain), "%+v", c)
		assert.Equal(t, c.because, Explain(c.h, c.p, c.k, c.rain), "%+v", c)
	}
}

func TestDecide_RainNeverTurnsOn(t *testing.T) {
	for _, h := range []float64{0, 20, 39.99, 40, 80, 100} {
		for _, p := range []bool{false, true} {
			for _, k := range []bool{false, true} {
				assert.False(t, Decide(h, p, k, true).TurnOn)
			}
		}
	}
}

func TestDecide_DeviceScenario(t *testing.T) {
	r, err := telemetry.Parse("1,0,6.50,35.2")
	assert.NoError(t, err)
	assert.Equal(t, telemetry.PumpOn, Decide(r.SoilHumidity, r.Phosphorus, r.Potassium, false))
}
