package sensor_simulator

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestGenerator(seed float64) (*DataGenerator, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	g := NewDataGenerator(seed, 1.0, 0.5)
	g.now = c.now
	return g, c
}

func TestGenerator_DecayAndGain(t *testing.T) {
	g, c := newTestGenerator(30)
	g.Next()

	c.t = c.t.Add(10 * time.Minute)
	r := g.Next()
	assert.InDelta(t, 25.0, r.SoilHumidity, 0.01)

	g.SetPump(true)
	c.t = c.t.Add(20 * time.Minute)
	r = g.Next()
	assert.InDelta(t, 45.0, r.SoilHumidity, 0.01)
	assert.True(t, g.PumpOn())
}

func TestGenerator_Clamped(t *testing.T) {
	g, c := newTestGenerator(2)
	g.Next()
	c.t = c.t.Add(time.Hour)
	assert.Equal(t, 0.0, g.Next().SoilHumidity)

	g.SetPump(true)
	c.t = c.t.Add(10 * time.Hour)
	assert.Equal(t, 100.0, g.Next().SoilHumidity)
}

func TestGenerator_FramesAreValid(t *testing.T) {
	g, _ := newTestGenerator(35)
	for i := 0; i < 50; i++ {
		line := telemetry.Format(g.Next())
		_, err := telemetry.Parse(line)
		require.NoError(t, err, line)
	}
}

func TestSimulator_WritesFramesAndObeysCommands(t *testing.T) {
	device, host := net.Pipe()
	t.Cleanup(func() {
		_ = device.Close()
		_ = host.Close()
	})

	gen := NewDataGenerator(35, DefaultGainPerMin, DefaultDecayPerMin)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = NewSensorSimulator(device, gen).Start(ctx, 10*time.Millisecond) }()

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(host)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			default:
			}
		}
	}()

	select {
	case line := <-lines:
		r, err := telemetry.Parse(line)
		require.NoError(t, err)
		assert.True(t, r.Phosphorus)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from emulator")
	}

	_, err := host.Write(telemetry.PumpOn.Frame())
	require.NoError(t, err)
	assert.Eventually(t, gen.PumpOn, 2*time.Second, 5*time.Millisecond)

	_, err = host.Write([]byte("GARBAGE\n"))
	require.NoError(t, err)
	_, err = host.Write(telemetry.PumpOff.Frame())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !gen.PumpOn() }, 2*time.Second, 5*time.Millisecond)
}
