// Package backpressure implements admission control for the engine's
// backend I/O: a shrinking/growing permit pool plus an optional
// per-backend soft rate limiter.
package backpressure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes the permit pool's starting size, bounds, and decay/
// recovery behavior.
type Config struct {
	MaxPermits     int
	MinPermits     int
	DecayFactor    float64 // multiplier applied to the current pool on throttle, e.g. 0.5 halves it
	RecoveryStreak int     // consecutive successes needed before growing the pool by one
	PermitTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPermits:     256,
		MinPermits:     4,
		DecayFactor:    0.5,
		RecoveryStreak: 20,
		PermitTTL:      30 * time.Second,
	}
}

// grant tracks one outstanding permit so a caller forgetting to release
// it (or holding it too long) can be detected and reclaimed: once a
// grant is older than Config.PermitTTL it stops counting against
// capacity and is dropped the next time outstanding permits are counted.
type grant struct {
	id        string
	weight    int
	issuedAt  time.Time
}

// Limiter is the bounded in-flight admission controller: request_permission
// blocks until capacity is available (or ctx is done), release_permission
// reports whether the call that held the permit succeeded, shrinking the
// pool with exponential decay on failure and growing it back by one after
// a sustained run of successes.
type Limiter struct {
	mu             sync.Mutex
	cfg            Config
	capacity       float64 // current soft ceiling, may be fractional between integer steps
	inFlight       map[string]*grant
	successStreak  int
	cond           *sync.Cond
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxPermits <= 0 {
		cfg = DefaultConfig()
	}
	l := &Limiter{
		cfg:      cfg,
		capacity: float64(cfg.MaxPermits),
		inFlight: make(map[string]*grant),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RequestPermission blocks until fewer than the current capacity
// permits are outstanding, then admits (id, weight). Returns an error
// only if ctx is cancelled first.
func (l *Limiter) RequestPermission(ctx context.Context, id string, weight int) error {
	if weight <= 0 {
		weight = 1
	}

	done := make(chan struct{})
	var ctxErr error
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			ctxErr = ctx.Err()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.outstandingLocked()+weight > int(l.capacity) && ctxErr == nil {
		l.cond.Wait()
	}
	if ctxErr != nil {
		return fmt.Errorf("backpressure: waiting for permit: %w", ctxErr)
	}
	l.inFlight[id] = &grant{id: id, weight: weight, issuedAt: time.Now()}
	return nil
}

// ReleasePermission returns a permit. ok=false is the throttling signal
// (429/503, quota, slow-down) that shrinks the pool; ok=true feeds the
// recovery streak that eventually grows it back.
func (l *Limiter) ReleasePermission(id string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)

	if !ok {
		l.capacity = l.capacity * l.cfg.DecayFactor
		if l.capacity < float64(l.cfg.MinPermits) {
			l.capacity = float64(l.cfg.MinPermits)
		}
		l.successStreak = 0
	} else {
		l.successStreak++
		if l.successStreak >= l.cfg.RecoveryStreak {
			l.capacity++
			if l.capacity > float64(l.cfg.MaxPermits) {
				l.capacity = float64(l.cfg.MaxPermits)
			}
			l.successStreak = 0
		}
	}
	l.cond.Broadcast()
}

func (l *Limiter) outstandingLocked() int {
	now := time.Now()
	total := 0
	for id, g := range l.inFlight {
		if l.cfg.PermitTTL > 0 && now.Sub(g.issuedAt) > l.cfg.PermitTTL {
			delete(l.inFlight, id)
			continue
		}
		total += g.weight
	}
	return total
}

func (l *Limiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.capacity)
}

// RateLimiter wraps golang.org/x/time/rate for the per-backend soft rate
// limit described alongside BatchConfig: ops/sec with a burst allowance.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(opsPerSecond float64, burst int) *RateLimiter {
	if opsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(opsPerSecond), burst)}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
