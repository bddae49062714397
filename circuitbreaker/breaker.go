package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned by Protect when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe call through after the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker.
type Config struct {
	// Threshold is the consecutive failure count that opens the circuit.
	Threshold int `yaml:"threshold" json:"threshold"`

	// Timeout is how long the circuit stays open after the last failure
	// before a half-open probe is allowed.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns sensible breaker defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// Breaker is a per-backend circuit breaker. One instance owns the state for
// one backend name; nothing else mutates it.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// New creates a circuit breaker for the named backend.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker"), zap.String("name", name)),
		state:           StateClosed,
		lastSuccessTime: time.Now(),
	}
}

// IsOpen reports whether the circuit currently rejects calls. When the open
// cooldown has elapsed it transitions to half-open and lets the next call
// through as a probe.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOpenLocked()
}

func (b *Breaker) isOpenLocked() bool {
	if b.state != StateOpen {
		return false
	}
	if time.Since(b.lastFailureTime) > b.config.Timeout {
		b.logger.Info("circuit breaker transitioning to HALF_OPEN")
		b.state = StateHalfOpen
		return false
	}
	return true
}

// RecordSuccess resets the failure counter and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.state
	b.failureCount = 0
	b.lastSuccessTime = time.Now()

	switch previous {
	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered, transitioning to CLOSED")
		b.state = StateClosed
	case StateOpen:
		// A success raced past an open circuit. Treat it as recovery.
		b.logger.Warn("circuit breaker had success while OPEN")
		b.state = StateClosed
	}
}

// RecordFailure increments the failure counter and opens the circuit once
// the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	b.logger.Debug("circuit breaker recorded failure",
		zap.Int("failure_count", b.failureCount),
		zap.Int("threshold", b.config.Threshold),
	)

	if b.failureCount >= b.config.Threshold {
		if b.state != StateOpen {
			b.logger.Error("circuit breaker tripped",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
		}
		b.state = StateOpen
	} else if b.state == StateHalfOpen {
		// Failed probe reopens immediately.
		b.logger.Warn("circuit breaker probe failed, reopening")
		b.state = StateOpen
	}
}

// Protect runs fn only if the circuit is not open and records the outcome on
// every path, including early error returns.
func (b *Breaker) Protect(fn func() error) error {
	if b.IsOpen() {
		b.logger.Warn("circuit breaker is OPEN, rejecting operation")
		return ErrOpen
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	State                 string    `json:"state"`
	FailureCount          int       `json:"failure_count"`
	Threshold             int       `json:"threshold"`
	LastFailureTime       time.Time `json:"last_failure_time"`
	LastSuccessTime       time.Time `json:"last_success_time"`
	TimeSinceLastFailure  float64   `json:"time_since_last_failure_seconds"`
}

// Status returns a snapshot of the breaker state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		Threshold:       b.config.Threshold,
		LastFailureTime: b.lastFailureTime,
		LastSuccessTime: b.lastSuccessTime,
	}
	if !b.lastFailureTime.IsZero() {
		s.TimeSinceLastFailure = time.Since(b.lastFailureTime).Seconds()
	}
	return s
}
