package link

import (
	"fmt"
	"log"
	"time"
)

// Watchdog turns link silence into warnings and reconnection requests.
type Watchdog struct {
	Period         time.Duration
	WarnAfter      time.Duration
	ReconnectAfter time.Duration
}

func WatchdogFor(cfg Config) Watchdog {
	return Watchdog{Period: cfg.WatchdogPeriod, WarnAfter: cfg.WarnAfter, ReconnectAfter: cfg.ReconnectAfter}
}

// Verdict is the outcome of one watchdog check.
type Verdict struct {
	Silence   time.Duration
	Stale     bool
	Reconnect bool
}

// Evaluate is the pure decision behind every tick.
func (w Watchdog) Evaluate(now, last time.Time) Verdict {
	silence := now.Sub(last)
	if silence < 0 {
		silence = 0
	}
	return Verdict{
		Silence:   silence,
		Stale:     silence > w.WarnAfter,
		Reconnect: silence > w.ReconnectAfter,
	}
}

// Target is what the watchdog observes and nudges.
type Target interface {
	LastActivity() time.Time
	RequestReconnect(reason string) bool
}

// Check runs one tick against t. onStale is called for every stale verdict.
func (w Watchdog) Check(now time.Time, t Target, onStale func(Verdict)) Verdict {
	v := w.Evaluate(now, t.LastActivity())
	if !v.Stale {
		return v
	}
	if onStale != nil {
		onStale(v)
	}
	if v.Reconnect {
		t.RequestReconnect(fmt.Sprintf("no data for %s", v.Silence.Round(time.Second)))
	}
	return v
}

// Run ticks until stop is closed.
func (w Watchdog) Run(stop <-chan struct{}, now func() time.Time, t Target, onStale func(Verdict)) {
	ticker := time.NewTicker(w.Period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.Check(now(), t, onStale)
		}
	}
}

// sessionTarget pins watchdog requests to the session that started it.
type sessionTarget struct {
	s    *Supervisor
	sess *session
}

func (t sessionTarget) LastActivity() time.Time { return t.sess.lastSeen() }

func (t sessionTarget) RequestReconnect(reason string) bool {
	t.s.mu.Lock()
	live := t.s.sess == t.sess && t.s.state != Disconnected
	t.s.mu.Unlock()
	if !live {
		return false
	}
	return t.sess.request(reason)
}

func (s *Supervisor) watch(sess *session) {
	defer sess.wg.Done()
	w := WatchdogFor(sess.cfg)
	w.Run(sess.stop, s.now, sessionTarget{s: s, sess: sess}, func(v Verdict) {
		log.Printf("WARN: link: no data from %s for %s", sess.cfg.Port, v.Silence.Round(time.Second))
		sess.emit(Event{
			Kind:    EventStale,
			State:   s.State(),
			Port:    sess.cfg.Port,
			Message: fmt.Sprintf("no data for %s", v.Silence.Round(time.Second)),
			Silence: v.Silence,
			At:      s.now(),
		})
	})
}
