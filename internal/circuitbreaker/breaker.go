package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is rejecting calls
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota

	// StateOpen rejects all calls until the cooldown elapses
	StateOpen

	// StateHalfOpen allows a limited number of probe calls
	StateHalfOpen
)

// String returns the string representation of the state
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

// Config holds breaker configuration
type Config struct {
	// MaxFailures is the number of consecutive failures before the
	// breaker opens
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration

	// HalfOpenMaxCalls bounds the probes allowed while half-open
	HalfOpenMaxCalls int

	// OnStateChange is called on every state transition
	OnStateChange func(from, to State)
}

// DefaultConfig returns breaker defaults tuned for outbound operator
// calls: open after five straight failures, probe after thirty seconds.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker sheds calls to an endpoint that keeps failing, so retrying
// tasks do not hammer a dead dependency while its backoff runs down.
type Breaker struct {
	config *Config
	mu     sync.Mutex

	state               State
	consecutiveFailures int
	halfOpenCalls       int
	lastFailure         time.Time
	lastStateChange     time.Time
}

// New creates a breaker in the closed state
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn if the breaker admits the call and records its result.
// Returns ErrOpen without running fn when the breaker is shedding.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			b.setState(StateHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenCalls++
		return nil

	default:
		return ErrOpen
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		b.lastFailure = time.Now()
		if b.consecutiveFailures >= b.config.MaxFailures {
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		if err == nil {
			// One successful probe closes the breaker
			b.setState(StateClosed)
			b.consecutiveFailures = 0
			return
		}
		b.lastFailure = time.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	b.lastStateChange = time.Now()

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(oldState, newState)
	}
}

// State returns the current breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.consecutiveFailures = 0
	b.halfOpenCalls = 0
}

// HostSet holds one breaker per remote host, sharing a config. Distinct
// endpoints fail independently; one dead service must not shed calls to
// the others.
type HostSet struct {
	mu       sync.Mutex
	config   *Config
	breakers map[string]*Breaker
}

// NewHostSet creates an empty per-host breaker set
func NewHostSet(config *Config) *HostSet {
	if config == nil {
		config = DefaultConfig()
	}
	return &HostSet{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a host, creating it on first use
func (hs *HostSet) For(host string) *Breaker {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	b, exists := hs.breakers[host]
	if !exists {
		b = New(hs.config)
		hs.breakers[host] = b
	}
	return b
}
