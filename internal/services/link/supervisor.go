// Package link supervises the serial session with the field device: it reads
// and validates telemetry frames, writes pump commands and recovers the link
// when it goes silent or keeps failing.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/LeonardoBeccarini/farmtech/pkg/serialport"
	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

const defaultEventBuffer = 64

type Option func(*Supervisor)

// WithOpener replaces the serial opener (tests, emulators).
func WithOpener(open serialport.Opener) Option {
	return func(s *Supervisor) { s.open = open }
}

// WithClock replaces time.Now for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithEventBuffer sets the capacity of the status event channel.
func WithEventBuffer(n int) Option {
	return func(s *Supervisor) { s.events = make(chan Event, n) }
}

// Supervisor owns the port handle and the background read and watchdog tasks.
type Supervisor struct {
	open serialport.Opener
	now  func() time.Time

	readings chan Reading
	events   chan Event

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	cfg   Config
	port  serialport.Port
	sess  *session
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		open:     serialport.Open,
		now:      time.Now,
		readings: make(chan Reading),
		events:   make(chan Event, defaultEventBuffer),
		state:    Disconnected,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Readings delivers validated frames in arrival order. The read task blocks
// until each one is taken, so the consumer must keep draining it.
func (s *Supervisor) Readings() <-chan Reading { return s.readings }

// Events delivers status reports. When the buffer is full new events are dropped.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity is the time of the last complete line of the current session.
func (s *Supervisor) LastActivity() time.Time {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return time.Time{}
	}
	return sess.lastSeen()
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{State: s.state, StateName: s.state.String(), Port: s.cfg.Port}
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		snap.Attempts = int(sess.attempts.Load())
		snap.Errors = int(sess.errors.Load())
		snap.LastActivity = sess.lastSeen()
		snap.Silence = s.now().Sub(snap.LastActivity)
	}
	return snap
}

// Connect opens the port and starts the read and watchdog tasks.
func (s *Supervisor) Connect(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	// an exhausted session still has to be joined before a new one starts
	old := s.sess
	s.sess = nil
	s.state = Connecting
	s.cfg = cfg
	s.mu.Unlock()

	if old != nil {
		s.retire(old)
	}

	p, err := s.open(portConfig(cfg))

	s.mu.Lock()
	if err == nil && s.state != Connecting {
		s.mu.Unlock()
		_ = p.Close()
		return fmt.Errorf("%w: %s: disconnected while connecting", ErrOpenFailed, cfg.Port)
	}
	if err != nil {
		s.state = Disconnected
		s.mu.Unlock()
		log.Printf("link: cannot open %s: %v", cfg.Port, err)
		s.emitDirect(Event{
			Kind:    EventOpenFailed,
			State:   Disconnected,
			Port:    cfg.Port,
			Message: fmt.Sprintf("could not connect to %s: %v", cfg.Port, err),
			Err:     err,
			At:      s.now(),
		})
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	sess := newSession(cfg, s.readings, s.events)
	sess.touch(s.now())
	s.port = p
	s.sess = sess
	s.state = Connected
	// queued before the read task can deliver the first reading
	sess.emit(Event{
		Kind:    EventConnected,
		State:   Connected,
		Port:    cfg.Port,
		Message: fmt.Sprintf("connected to %s", cfg.Port),
		At:      s.now(),
	})
	sess.wg.Add(2)
	go s.readLoop(sess)
	go s.watch(sess)
	s.mu.Unlock()

	log.Printf("link: connected to %s at %d baud", cfg.Port, cfg.Baud)
	return nil
}

// Disconnect stops the background tasks, waits a bounded time for them and
// closes the handle. It is safe to call at any time, any number of times.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.state = Disconnected
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	s.retire(sess)
	return nil
}

func (s *Supervisor) retire(sess *session) {
	sess.shutdown()

	done := make(chan struct{})
	go func() {
		sess.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(sess.cfg.JoinTimeout):
		log.Printf("WARN: link: background tasks on %s did not stop within %s", sess.cfg.Port, sess.cfg.JoinTimeout)
	}

	s.mu.Lock()
	if s.port != nil && s.sess == nil {
		if err := s.port.Close(); err != nil {
			log.Printf("link: close %s: %v", sess.cfg.Port, err)
		}
		s.port = nil
	}
	s.mu.Unlock()

	log.Printf("link: disconnected from %s", sess.cfg.Port)
	sess.emit(Event{
		Kind:    EventDisconnected,
		State:   Disconnected,
		Port:    sess.cfg.Port,
		Message: fmt.Sprintf("disconnected from %s", sess.cfg.Port),
		At:      s.now(),
	})
	sess.seal()
}

// Send writes one pump command frame. Writes are serialized on writeMu and
// run outside mu; a reconnect that swaps the handle meanwhile fails the write.
func (s *Supervisor) Send(cmd telemetry.PumpCommand) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != Connected || s.port == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	sess := s.sess
	port := s.port
	s.mu.Unlock()

	_, err := port.Write(cmd.Frame())

	if err != nil {
		log.Printf("link: write %s: %v", cmd, err)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, cmd, err)
	}
	if sess != nil {
		sess.emit(Event{
			Kind:    EventCommandSent,
			State:   Connected,
			Port:    sess.cfg.Port,
			Message: fmt.Sprintf("command sent: %s", cmd),
			At:      s.now(),
		})
	}
	return nil
}

// RequestReconnect asks the read task to run one reconnection attempt.
// Requests coalesce while one is pending. It reports false when there is no
// live session to reconnect.
func (s *Supervisor) RequestReconnect(reason string) bool {
	s.mu.Lock()
	sess := s.sess
	live := sess != nil && s.state != Disconnected
	s.mu.Unlock()
	if !live {
		return false
	}
	return sess.request(reason)
}

func (s *Supervisor) currentPort(sess *session) serialport.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != sess {
		return nil
	}
	return s.port
}

func (s *Supervisor) readLoop(sess *session) {
	defer sess.wg.Done()

	buf := make([]byte, 128)
	var pending []byte

	for {
		select {
		case <-sess.stop:
			return
		case reason := <-sess.reconnect:
			if !s.tryReconnect(sess, reason) {
				return
			}
			pending = pending[:0]
			continue
		default:
		}

		port := s.currentPort(sess)
		if port == nil {
			// last attempt failed; the next one comes from the watchdog
			select {
			case <-sess.stop:
				return
			case reason := <-sess.reconnect:
				if !s.tryReconnect(sess, reason) {
					return
				}
				pending = pending[:0]
			}
			continue
		}

		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = s.drainLines(sess, pending)
		}
		if err == nil {
			continue
		}
		if sess.stopped() {
			return
		}

		count := int(sess.errors.Add(1))
		log.Printf("link: read error on %s (%d/%d): %v", sess.cfg.Port, count, sess.cfg.ErrorThreshold, err)
		sess.emit(Event{
			Kind:    EventReadError,
			State:   s.State(),
			Port:    sess.cfg.Port,
			Message: fmt.Sprintf("read error (%d consecutive): %v", count, err),
			Err:     err,
			At:      s.now(),
		})
		if count > sess.cfg.ErrorThreshold {
			if !s.tryReconnect(sess, "too many consecutive read errors") {
				return
			}
			pending = pending[:0]
			continue
		}
		if !sess.sleep(sess.cfg.ErrorPause) {
			return
		}
	}
}

// drainLines handles every complete line in buf and returns the remainder.
func (s *Supervisor) drainLines(sess *session, buf []byte) []byte {
	start := 0
	for {
		i := bytes.IndexByte(buf[start:], '\n')
		if i < 0 {
			break
		}
		s.handleLine(sess, buf[start:start+i])
		start += i + 1
	}
	rest := buf[start:]
	if len(rest) > sess.cfg.MaxLineLength {
		log.Printf("link: discarding %d bytes without line terminator", len(rest))
		sess.emit(Event{
			Kind:    EventLineDiscarded,
			State:   s.State(),
			Port:    sess.cfg.Port,
			Message: fmt.Sprintf("discarded %d bytes without line terminator", len(rest)),
			At:      s.now(),
		})
		rest = rest[:0]
	}
	return append(buf[:0], rest...)
}

func (s *Supervisor) handleLine(sess *session, raw []byte) {
	if !utf8.Valid(raw) {
		log.Printf("link: dropping undecodable line (%d bytes)", len(raw))
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}

	now := s.now()
	sess.touch(now)
	sess.errors.Store(0)

	r, err := telemetry.Parse(line)
	if err != nil {
		reason := telemetry.ReasonOf(err)
		log.Printf("link: rejected frame %q: %v", line, err)
		sess.emit(Event{
			Kind:    EventFrameRejected,
			State:   s.State(),
			Port:    sess.cfg.Port,
			Message: fmt.Sprintf("frame rejected (%s): %q", reason, line),
			Reason:  reason,
			Err:     err,
			At:      now,
		})
		return
	}
	sess.deliver(Reading{Reading: r, Line: line, ReceivedAt: now})
}

// tryReconnect reports whether the read task should keep running.
func (s *Supervisor) tryReconnect(sess *session, reason string) bool {
	err := s.reconnect(sess, reason)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrReconnectExhausted), errors.Is(err, errSessionClosed):
		return false
	default:
		return true
	}
}

// reconnect runs a single attempt. Only the read task calls it.
func (s *Supervisor) reconnect(sess *session, reason string) error {
	cfg := sess.cfg
	limit := cfg.MaxReconnectAttempts

	s.mu.Lock()
	if s.sess != sess || s.state == Disconnected {
		s.mu.Unlock()
		return errSessionClosed
	}
	if int(sess.attempts.Load()) >= limit {
		s.endSessionLocked()
		s.mu.Unlock()
		s.exhausted(sess, nil)
		return ErrReconnectExhausted
	}
	attempt := int(sess.attempts.Add(1))
	s.state = Reconnecting
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			log.Printf("link: close %s before reconnect: %v", cfg.Port, err)
		}
		s.port = nil
	}
	s.mu.Unlock()

	log.Printf("link: reconnecting to %s (attempt %d/%d): %s", cfg.Port, attempt, limit, reason)
	sess.emit(Event{
		Kind:    EventReconnecting,
		State:   Reconnecting,
		Port:    cfg.Port,
		Message: fmt.Sprintf("reconnecting (attempt %d/%d): %s", attempt, limit, reason),
		Attempt: attempt,
		At:      s.now(),
	})

	if !sess.sleep(cfg.RetryInterval) {
		return errSessionClosed
	}

	p, err := s.open(portConfig(cfg))

	s.mu.Lock()
	if s.sess != sess || s.state != Reconnecting {
		s.mu.Unlock()
		if p != nil {
			_ = p.Close()
		}
		return errSessionClosed
	}
	if err != nil {
		last := attempt >= limit
		if last {
			s.endSessionLocked()
		}
		s.mu.Unlock()

		log.Printf("WARN: link: reconnect attempt %d/%d to %s failed: %v", attempt, limit, cfg.Port, err)
		sess.emit(Event{
			Kind:    EventReconnectFailed,
			State:   Reconnecting,
			Port:    cfg.Port,
			Message: fmt.Sprintf("reconnect attempt %d/%d failed: %v", attempt, limit, err),
			Attempt: attempt,
			Err:     err,
			At:      s.now(),
		})
		if last {
			s.exhausted(sess, err)
			return fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}
		return fmt.Errorf("reconnect attempt %d/%d: %w", attempt, limit, err)
	}

	now := s.now()
	s.port = p
	s.state = Connected
	sess.attempts.Store(0)
	sess.errors.Store(0)
	sess.touch(now)
	s.mu.Unlock()

	// a request queued while this attempt ran is already satisfied
	select {
	case <-sess.reconnect:
	default:
	}

	log.Printf("link: reconnected to %s", cfg.Port)
	sess.emit(Event{
		Kind:    EventReconnected,
		State:   Connected,
		Port:    cfg.Port,
		Message: fmt.Sprintf("reconnected to %s", cfg.Port),
		Attempt: attempt,
		At:      now,
	})
	return nil
}

// endSessionLocked leaves the session referenced so Disconnect or the next
// Connect can still join its tasks.
func (s *Supervisor) endSessionLocked() {
	s.state = Disconnected
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
}

func (s *Supervisor) exhausted(sess *session, cause error) {
	msg := fmt.Sprintf("giving up on %s after %d reconnect attempts", sess.cfg.Port, sess.cfg.MaxReconnectAttempts)
	log.Printf("link: %s", msg)
	err := ErrReconnectExhausted
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
	}
	sess.emit(Event{
		Kind:    EventExhausted,
		State:   Disconnected,
		Port:    sess.cfg.Port,
		Message: msg,
		Attempt: sess.cfg.MaxReconnectAttempts,
		Err:     err,
		At:      s.now(),
	})
	sess.shutdown()
}

func (s *Supervisor) emitDirect(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Printf("WARN: link: event buffer full, dropping %s", ev.Kind)
	}
}

func portConfig(cfg Config) serialport.Config {
	return serialport.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
}

// session is the per-connection state shared by the read and watchdog tasks.
type session struct {
	cfg      Config
	readings chan<- Reading
	events   chan<- Event

	stop      chan struct{}
	stopOnce  sync.Once
	reconnect chan string
	wg        sync.WaitGroup

	attempts     atomic.Int32
	errors       atomic.Int32
	lastActivity atomic.Int64

	// sealed guards delivery after Disconnect has returned
	sealMu sync.RWMutex
	sealed bool
}

func newSession(cfg Config, readings chan<- Reading, events chan<- Event) *session {
	return &session{
		cfg:       cfg,
		readings:  readings,
		events:    events,
		stop:      make(chan struct{}),
		reconnect: make(chan string, 1),
	}
}

func (ss *session) touch(t time.Time) { ss.lastActivity.Store(t.UnixNano()) }

func (ss *session) lastSeen() time.Time { return time.Unix(0, ss.lastActivity.Load()) }

func (ss *session) shutdown() { ss.stopOnce.Do(func() { close(ss.stop) }) }

func (ss *session) stopped() bool {
	select {
	case <-ss.stop:
		return true
	default:
		return false
	}
}

func (ss *session) seal() {
	ss.sealMu.Lock()
	ss.sealed = true
	ss.sealMu.Unlock()
}

// sleep waits d and reports false if the session stopped first.
func (ss *session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ss.stop:
		return false
	case <-t.C:
		return true
	}
}

func (ss *session) request(reason string) bool {
	select {
	case ss.reconnect <- reason:
	default:
		// one already pending
	}
	return true
}

func (ss *session) deliver(r Reading) {
	ss.sealMu.RLock()
	defer ss.sealMu.RUnlock()
	if ss.sealed {
		return
	}
	select {
	case ss.readings <- r:
	case <-ss.stop:
	}
}

func (ss *session) emit(ev Event) {
	ss.sealMu.RLock()
	defer ss.sealMu.RUnlock()
	if ss.sealed {
		return
	}
	select {
	case ss.events <- ev:
	default:
		log.Printf("WARN: link: event buffer full, dropping %s", ev.Kind)
	}
}
