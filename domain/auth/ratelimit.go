package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockouts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "homegraph_auth_lockouts_total",
	Help: "Rate limit lockouts entered.",
})

// bucketIdleEviction is how long an untouched bucket survives before the
// background sweep drops it.
const bucketIdleEviction = 30 * time.Minute

// progressiveDelayCap bounds the delay multiplier within the allowed attempts.
const progressiveDelayCap = 5

// Decision is the outcome of one rate-limited attempt.
type Decision struct {
	// Allowed is false while the bucket is locked.
	Allowed bool

	// Delay is the synthetic response delay to apply before proceeding.
	Delay time.Duration

	// RetryAfter is how long the caller must wait when not allowed.
	RetryAfter time.Duration

	// Locked reports that this attempt tripped the lockout (as opposed to
	// arriving while already locked).
	Locked bool
}

type bucket struct {
	mu          sync.Mutex
	attempts    []time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

// Limiter is a process-local per-IP sliding window rate limiter with lockout
// and progressive delay.
type Limiter struct {
	window    time.Duration
	max       int
	lockout   time.Duration
	baseDelay time.Duration
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a limiter. max attempts are admitted per window; the
// attempt after that locks the IP out for the lockout duration.
func NewLimiter(window time.Duration, max int, lockout, baseDelay time.Duration) *Limiter {
	return &Limiter{
		window:    window,
		max:       max,
		lockout:   lockout,
		baseDelay: baseDelay,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

func (l *Limiter) bucketFor(ip string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{}
		l.buckets[ip] = b
	}
	return b
}

// Attempt records one attempt from ip and decides whether it may proceed.
func (l *Limiter) Attempt(ip string) Decision {
	now := l.now()
	b := l.bucketFor(ip)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSeen = now

	if now.Before(b.lockedUntil) {
		// Attempts while locked extend nothing; they are just refused.
		return Decision{RetryAfter: b.lockedUntil.Sub(now)}
	}

	cutoff := now.Add(-l.window)
	kept := b.attempts[:0]
	for _, t := range b.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.attempts = append(kept, now)

	n := len(b.attempts)
	if n > l.max {
		b.lockedUntil = now.Add(l.lockout)
		b.attempts = nil
		lockouts.Inc()
		return Decision{RetryAfter: l.lockout, Locked: true}
	}

	factor := n
	if factor > progressiveDelayCap {
		factor = progressiveDelayCap
	}
	return Decision{Allowed: true, Delay: l.baseDelay * time.Duration(factor)}
}

// Sweep evicts buckets idle longer than 30 minutes. Registered with the
// process scheduler.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > bucketIdleEviction && now.After(b.lockedUntil)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, ip)
		}
	}
}
