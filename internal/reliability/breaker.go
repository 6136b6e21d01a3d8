package reliability

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the
	// breaker; 0 disables it
	Failures int

	// Cooldown is how long an open breaker rejects calls before letting
	// one probe through
	Cooldown time.Duration

	OnStateChange func(from, to State)

	// Now overrides the clock
	Now func() time.Time
}

// Breaker fails calls fast after repeated failures. After the cooldown a
// single probe is let through; its outcome closes or reopens the breaker.
type Breaker struct {
	config BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker
func NewBreaker(config BreakerConfig) *Breaker {
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{config: config}
}

// Do runs fn unless the breaker is open
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil || b.config.Failures <= 0 {
		return fn(ctx)
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err == nil)
	return err
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) cooledDown() bool {
	return !b.config.Now().Before(b.openedAt.Add(b.config.Cooldown))
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if !b.cooledDown() {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if success {
		b.failures = 0
		b.setState(StateClosed)
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.Failures {
		b.openedAt = b.config.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, state)
	}
}
