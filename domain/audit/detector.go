package audit

import (
	"sync"
	"time"
)

// Recorder is where the detector raises its signals; in production it is the
// audit Logger itself.
type Recorder interface {
	Record(Event)
}

// Detector watches the recent event stream and raises suspicious.pattern when
// one IP accumulates repeated failures, repeated invalid tokens, or logs in
// right after a lockout.
type Detector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	out       Recorder

	recent map[string][]Event // client IP -> events inside the window
	lastBy map[string]Kind    // client IP -> kind of previous event
	raised map[string]time.Time
}

// NewDetector creates a detector raising signals on out.
func NewDetector(window time.Duration, threshold int, out Recorder) *Detector {
	return &Detector{
		window:    window,
		threshold: threshold,
		out:       out,
		recent:    make(map[string][]Event),
		lastBy:    make(map[string]Kind),
		raised:    make(map[string]time.Time),
	}
}

// Observe feeds one event through the detector.
func (d *Detector) Observe(e Event) {
	if e.ClientIP == "" || e.Event == SuspiciousPattern {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.lastBy[e.ClientIP]
	d.lastBy[e.ClientIP] = e.Event

	events := append(d.pruneLocked(e.ClientIP, e.Timestamp), e)
	d.recent[e.ClientIP] = events

	switch {
	case e.Event == AuthSuccess && prev == AuthLockout:
		d.raiseLocked(e, "login_after_lockout", map[string]any{
			"previous_event": string(prev),
		})
	case e.Event == AuthFailure:
		if n := countKind(events, AuthFailure); n >= d.threshold {
			d.raiseLocked(e, "repeated_auth_failures", map[string]any{
				"failures": n,
				"accounts": distinctSubjects(events, AuthFailure),
			})
		}
	case e.Event == TokenInvalid:
		if n := countKind(events, TokenInvalid); n >= d.threshold {
			d.raiseLocked(e, "repeated_invalid_tokens", map[string]any{
				"invalid_tokens": n,
			})
		}
	}
}

// raiseLocked emits one suspicious.pattern per IP per window.
func (d *Detector) raiseLocked(e Event, pattern string, detail map[string]any) {
	if last, ok := d.raised[e.ClientIP]; ok && e.Timestamp.Sub(last) < d.window {
		return
	}
	d.raised[e.ClientIP] = e.Timestamp

	detail["pattern"] = pattern
	d.out.Record(Event{
		Timestamp: e.Timestamp,
		Event:     SuspiciousPattern,
		Severity:  SeverityCritical,
		ClientIP:  e.ClientIP,
		SubjectID: e.SubjectID,
		Detail:    detail,
	})
}

// Prune drops window state older than the detection window.
func (d *Detector) Prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ip := range d.recent {
		kept := d.pruneLocked(ip, now)
		if len(kept) == 0 {
			delete(d.recent, ip)
			delete(d.lastBy, ip)
		} else {
			d.recent[ip] = kept
		}
	}
	for ip, t := range d.raised {
		if now.Sub(t) >= d.window {
			delete(d.raised, ip)
		}
	}
}

func (d *Detector) pruneLocked(ip string, now time.Time) []Event {
	events := d.recent[ip]
	cutoff := now.Add(-d.window)
	for len(events) > 0 && events[0].Timestamp.Before(cutoff) {
		events = events[1:]
	}
	return events
}

func countKind(events []Event, k Kind) int {
	n := 0
	for _, e := range events {
		if e.Event == k {
			n++
		}
	}
	return n
}

func distinctSubjects(events []Event, k Kind) int {
	subjects := make(map[string]bool)
	for _, e := range events {
		if e.Event == k && e.SubjectID != "" {
			subjects[e.SubjectID] = true
		}
	}
	return len(subjects)
}
