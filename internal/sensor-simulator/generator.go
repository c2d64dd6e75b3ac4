package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

// ====== Tunables ======
const (
	// DefaultGainPerMin: +0.6 punti di umidità al minuto con la pompa accesa.
	DefaultGainPerMin = 0.6
	// DefaultDecayPerMin: -0.1 punti al minuto con la pompa spenta.
	DefaultDecayPerMin = 0.1
	// DefaultSeed is the soil humidity (%) at start.
	DefaultSeed = 30.0
)

// DataGenerator mantiene lo stato interno della moisture e lo aggiorna nel tempo.
type DataGenerator struct {
	mu          sync.Mutex
	now         func() time.Time
	rnd         *rand.Rand
	last        time.Time
	moisture    float64 // [0..100]
	pumpOn      bool
	gainPerMin  float64
	decayPerMin float64

	Phosphorus bool
	Potassium  bool
	PH         float64
}

func NewDataGenerator(seed, gainPerMin, decayPerMin float64) *DataGenerator {
	return &DataGenerator{
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		moisture:    clamp(seed, 0, 100),
		gainPerMin:  math.Max(0, gainPerMin),
		decayPerMin: math.Max(0, decayPerMin),
		Phosphorus:  true,
		PH:          6.5,
	}
}

// Next advances the moisture model to now and returns the frame to send.
func (g *DataGenerator) Next() telemetry.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.pumpOn {
		g.moisture = clamp(g.moisture+g.gainPerMin*dtMin, 0, 100)
	} else {
		g.moisture = clamp(g.moisture-g.decayPerMin*dtMin, 0, 100)
	}
	g.last = now

	// pH drifts a little around its base value
	ph := clamp(g.PH+(g.rnd.Float64()-0.5)*0.1, 0, 14)
	return telemetry.Reading{
		Phosphorus:   g.Phosphorus,
		Potassium:    g.Potassium,
		PH:           math.Round(ph*100) / 100,
		SoilHumidity: math.Round(g.moisture*10) / 10,
	}
}

// SetPump switches the simulated pump. Moisture accrued so far is settled
// with the previous state first.
func (g *DataGenerator) SetPump(on bool) {
	g.mu.Lock()
	if g.pumpOn == on {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.Next()

	g.mu.Lock()
	g.pumpOn = on
	g.mu.Unlock()
}

func (g *DataGenerator) PumpOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pumpOn
}

func (g *DataGenerator) Moisture() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moisture
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
