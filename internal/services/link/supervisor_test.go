package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

func TestConnect_OpenFailure(t *testing.T) {
	o := &fakeOpener{failFrom: 1}
	s := newTestSupervisor(t, o)

	err := s.Connect(testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.Equal(t, Disconnected, s.State())

	ev := waitEvent(t, s, EventOpenFailed)
	assert.Contains(t, ev.Message, "/dev/ttyFAKE0")
}

func TestConnect_RequiresPort(t *testing.T) {
	s := newTestSupervisor(t, &fakeOpener{})
	cfg := testConfig()
	cfg.Port = "  "
	assert.Error(t, s.Connect(cfg))
	assert.Equal(t, Disconnected, s.State())
}

func TestConnect_Twice(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))
	assert.ErrorIs(t, s.Connect(testConfig()), ErrAlreadyConnected)
	assert.Equal(t, 1, o.callCount())
}

func TestReadings_DeliveredInOrder(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))
	assert.Equal(t, Connected, s.State())

	o.port(0).feed("1,0,6.50,35.2\n0,1,7.00,80.0\n")

	first := nextReading(t, s)
	assert.Equal(t, telemetry.Reading{Phosphorus: true, Potassium: false, PH: 6.5, SoilHumidity: 35.2}, first.Reading)
	assert.Equal(t, "1,0,6.50,35.2", first.Line)
	assert.False(t, first.ReceivedAt.IsZero())

	second := nextReading(t, s)
	assert.Equal(t, 80.0, second.SoilHumidity)
	assert.True(t, second.Potassium)
}

func TestReadings_LineSplitAcrossReads(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	o.port(0).feed("1,1,6.")
	time.Sleep(10 * time.Millisecond)
	o.port(0).feed("80,12.5\r\n")

	r := nextReading(t, s)
	assert.Equal(t, 6.8, r.PH)
	assert.Equal(t, 12.5, r.SoilHumidity)
}

func TestReadings_RejectedFrameNotDelivered(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	o.port(0).feed("garbage\n1,0,15.0,20\n0,0,7,55\n")

	r := nextReading(t, s)
	assert.Equal(t, 55.0, r.SoilHumidity)

	ev := waitEvent(t, s, EventFrameRejected)
	assert.Equal(t, telemetry.MalformedFrame, ev.Reason)
	ev = waitEvent(t, s, EventFrameRejected)
	assert.Equal(t, telemetry.OutOfRange, ev.Reason)
}

func TestReadings_UndecodableLineDropped(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	o.port(0).feed("\xff\xfe\x00\n1,0,7,41\n")
	r := nextReading(t, s)
	assert.Equal(t, 41.0, r.SoilHumidity)
	assert.Equal(t, Connected, s.State())
}

func TestReadings_OverlongLineDiscarded(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	cfg := testConfig()
	cfg.MaxLineLength = 16
	require.NoError(t, s.Connect(cfg))

	o.port(0).feed("0123456789012345678901234567890123456789")
	waitEvent(t, s, EventLineDiscarded)
	o.port(0).feed("\n1,0,7,42\n")
	r := nextReading(t, s)
	assert.Equal(t, 42.0, r.SoilHumidity)
}

func TestSend(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)

	assert.ErrorIs(t, s.Send(telemetry.PumpOn), ErrNotConnected)

	require.NoError(t, s.Connect(testConfig()))
	require.NoError(t, s.Send(telemetry.PumpOn))
	require.NoError(t, s.Send(telemetry.PumpOff))
	assert.Equal(t, "PUMP_ON\nPUMP_OFF\n", o.port(0).output())
}

func TestSend_WriteFailure(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	p := o.port(0)
	p.mu.Lock()
	p.writeErr = errors.New("i/o error")
	p.mu.Unlock()

	err := s.Send(telemetry.PumpOn)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "PUMP_ON")
}

func TestSend_StuckWriteDoesNotBlockStatus(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	p := o.port(0)
	gate := make(chan struct{})
	p.mu.Lock()
	p.writeGate = gate
	p.mu.Unlock()

	sent := make(chan error, 1)
	go func() { sent <- s.Send(telemetry.PumpOn) }()
	require.Eventually(t, func() bool { return p.blocked.Load() == 1 }, time.Second, time.Millisecond)

	status := make(chan Snapshot, 1)
	go func() {
		_ = s.State()
		status <- s.Snapshot()
	}()
	select {
	case snap := <-status:
		assert.Equal(t, Connected, snap.State)
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("Snapshot blocked behind a pending write")
	}
	assert.True(t, s.RequestReconnect("stuck write"))

	close(gate)
	select {
	case err := <-sent:
		// the requested reconnect may have swapped the handle
		if err != nil {
			assert.ErrorIs(t, err, ErrWriteFailed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after the write was released")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)

	require.NoError(t, s.Disconnect())

	require.NoError(t, s.Connect(testConfig()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	assert.Equal(t, Disconnected, s.State())
	assert.True(t, o.port(0).isClosed())
	assert.ErrorIs(t, s.Send(telemetry.PumpOff), ErrNotConnected)
	assert.False(t, s.RequestReconnect("manual"))
}

func TestDisconnect_NoReadingsAfterReturn(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	// leave one frame undelivered so the read task is blocked on the channel
	o.port(0).feed("1,0,7,30\n")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Disconnect())

	select {
	case r := <-s.Readings():
		t.Fatalf("unexpected reading after disconnect: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnect_AfterDisconnect(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(testConfig()))

	o.port(1).feed("0,0,7,70\n")
	r := nextReading(t, s)
	assert.Equal(t, 70.0, r.SoilHumidity)
}

func TestReconnect_AfterConsecutiveReadErrors(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	o.port(0).failReads(errors.New("device reports readiness to read but returned no data"))

	waitEvent(t, s, EventReconnected)
	assert.Equal(t, 2, o.callCount())
	assert.True(t, o.port(0).isClosed())
	assert.Equal(t, Connected, s.State())

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Attempts)
	assert.Equal(t, 0, snap.Errors)

	o.port(1).feed("1,1,6,20\n")
	r := nextReading(t, s)
	assert.Equal(t, 20.0, r.SoilHumidity)
}

func TestReconnect_SuccessResetsAttempts(t *testing.T) {
	o := &fakeOpener{failOnly: map[int]bool{2: true}}
	s := newTestSupervisor(t, o)
	require.NoError(t, s.Connect(testConfig()))

	require.True(t, s.RequestReconnect("test"))
	ev := waitEvent(t, s, EventReconnectFailed)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, Reconnecting, s.State())
	assert.ErrorIs(t, s.Send(telemetry.PumpOn), ErrNotConnected)

	require.True(t, s.RequestReconnect("test"))
	ev = waitEvent(t, s, EventReconnected)
	assert.Equal(t, 2, ev.Attempt)
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 0, s.Snapshot().Attempts)
}

func TestReconnect_Exhausted(t *testing.T) {
	o := &fakeOpener{failFrom: 2}
	s := newTestSupervisor(t, o)
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	require.NoError(t, s.Connect(cfg))

	require.True(t, s.RequestReconnect("test"))
	waitEvent(t, s, EventReconnectFailed)
	require.True(t, s.RequestReconnect("test"))

	ev := waitEvent(t, s, EventExhausted)
	assert.ErrorIs(t, ev.Err, ErrReconnectExhausted)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, 3, o.callCount())

	// terminal: no further attempts until a new Connect
	assert.False(t, s.RequestReconnect("test"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, o.callCount())
	assert.ErrorIs(t, s.Send(telemetry.PumpOn), ErrNotConnected)
}

func TestReconnect_ExhaustedThenConnectAgain(t *testing.T) {
	o := &fakeOpener{failOnly: map[int]bool{2: true}}
	s := newTestSupervisor(t, o)
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	require.NoError(t, s.Connect(cfg))

	require.True(t, s.RequestReconnect("test"))
	waitEvent(t, s, EventExhausted)

	require.NoError(t, s.Connect(cfg))
	assert.Equal(t, Connected, s.State())
	o.port(1).feed("0,1,7,33\n")
	r := nextReading(t, s)
	assert.Equal(t, 33.0, r.SoilHumidity)
}

func TestWatchdog_TriggersReconnectOnSilence(t *testing.T) {
	o := &fakeOpener{}
	clock := &fakeClock{}
	s := newTestSupervisor(t, o, WithClock(clock.Now))
	cfg := testConfig()
	cfg.WatchdogPeriod = 5 * time.Millisecond
	cfg.WarnAfter = 10 * time.Second
	cfg.ReconnectAfter = 30 * time.Second
	require.NoError(t, s.Connect(cfg))

	clock.Advance(31 * time.Second)

	ev := waitEvent(t, s, EventStale)
	assert.GreaterOrEqual(t, ev.Silence, 30*time.Second)
	waitEvent(t, s, EventReconnected)
	assert.Equal(t, 2, o.callCount())
}

func TestSnapshot(t *testing.T) {
	o := &fakeOpener{}
	s := newTestSupervisor(t, o)

	snap := s.Snapshot()
	assert.Equal(t, "disconnected", snap.StateName)

	require.NoError(t, s.Connect(testConfig()))
	snap = s.Snapshot()
	assert.Equal(t, Connected, snap.State)
	assert.Equal(t, "/dev/ttyFAKE0", snap.Port)
	assert.False(t, snap.LastActivity.IsZero())
}
