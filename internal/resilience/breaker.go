// Package resilience guards notification channels against repeated failure.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the state of a Breaker.
type State string

const (
	StateClosed   State = "closed"    // deliveries go through
	StateOpen     State = "open"      // deliveries are rejected until the cooldown ends
	StateHalfOpen State = "half_open" // one probe is allowed
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("channel circuit is open")

// Config controls when a breaker opens and for how long.
type Config struct {
	// FailureThreshold consecutive failures open the breaker. Zero disables it.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects before allowing a probe.
	Cooldown time.Duration
}

// Breaker is a consecutive-failure circuit breaker. A nil *Breaker always
// allows.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New returns a closed breaker, or nil when cfg disables it.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, state: StateClosed}
}

// SetClock replaces the time source.
func (b *Breaker) SetClock(now func() time.Time) {
	if b != nil {
		b.now = now
	}
}

// Name returns the guarded channel name.
func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Allow reports whether a delivery may be attempted. In half-open state only
// one probe is let through until its result is recorded.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

// Record reports the result of an allowed delivery and returns the state
// after it.
func (b *Breaker) Record(err error) State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return b.state
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.failures = 0
	}
	return b.state
}

// State returns the current state, reporting an expired cooldown as half-open.
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}
