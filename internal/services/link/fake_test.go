package link

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/farmtech/pkg/serialport"
)

var errPortClosed = errors.New("port closed")

type fakePort struct {
	mu       sync.Mutex
	buf      []byte
	readErr  error
	writeErr error
	written  bytes.Buffer
	closed   bool

	// writes block until writeGate is closed (nil: no gate)
	writeGate chan struct{}
	blocked   atomic.Int32
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	p.buf = append(p.buf, s...)
	p.mu.Unlock()
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	// read timeout
	time.Sleep(2 * time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	gate := p.writeGate
	p.mu.Unlock()
	if gate != nil {
		p.blocked.Add(1)
		<-gate
		p.blocked.Add(-1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// fakeOpener hands out fresh fakePorts; failFrom makes every call from that
// index on fail (0 disables).
type fakeOpener struct {
	mu       sync.Mutex
	ports    []*fakePort
	failFrom int
	failOnly map[int]bool
	calls    int
}

func (o *fakeOpener) open(cfg serialport.Config) (serialport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if (o.failFrom > 0 && o.calls >= o.failFrom) || o.failOnly[o.calls] {
		return nil, errors.New("no such device " + cfg.Name)
	}
	p := &fakePort{}
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) port(i int) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.ports) {
		return nil
	}
	return o.ports[i]
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakeClock struct {
	offset atomic.Int64
}

func (c *fakeClock) Now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }

func (c *fakeClock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

func testConfig() Config {
	return Config{
		Port:                 "/dev/ttyFAKE0",
		MaxReconnectAttempts: 3,
		RetryInterval:        5 * time.Millisecond,
		WatchdogPeriod:       time.Hour,
		WarnAfter:            time.Hour,
		ReconnectAfter:       time.Hour,
		ErrorPause:           time.Millisecond,
		JoinTimeout:          time.Second,
	}
}

func newTestSupervisor(t *testing.T, o *fakeOpener, opts ...Option) *Supervisor {
	t.Helper()
	s := New(append([]Option{WithOpener(o.open)}, opts...)...)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func waitEvent(t *testing.T, s *Supervisor, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event within timeout", kind)
			return Event{}
		}
	}
}

func nextReading(t *testing.T, s *Supervisor) Reading {
	t.Helper()
	select {
	case r := <-s.Readings():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reading within timeout")
		return Reading{}
	}
}
