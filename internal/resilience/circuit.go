package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState is the state of a per-source circuit breaker.
type CircuitState int

const (
	// CircuitClosed is normal operation: calls flow to the source.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls without touching the network.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitConfig controls breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive recoverable failures
	// before the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probes required to close
	// the circuit again. Default: 1.
	HalfOpenProbes int

	// OnStateChange is called on every transition.
	OnStateChange func(source string, from, to CircuitState)
}

// DefaultCircuitConfig returns sensible defaults for external APIs.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is a circuit breaker for a single external source. A rejected
// call returns a transient FetchError, so callers treat an open circuit
// like any other recoverable source failure.
type Breaker struct {
	source string
	cfg    CircuitConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int

	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named source.
func NewBreaker(source string, cfg CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{
		source:  source,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the breaker. When the circuit is open the call
// is rejected with a transient FetchError and fn is never invoked. Only
// recoverable failures count toward the threshold: NotFound and fatal
// errors pass through without tripping.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the effective circuit state, accounting for reset timeout.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the circuit closed. Used for manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	if old != CircuitClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.source, old, CircuitClosed)
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
			b.transition(CircuitHalfOpen)
			return nil
		}
		return NewFetchError(KindTransient, b.source, 0, errCircuitOpen)
	default:
		return nil
	}
}

var errCircuitOpen = &circuitOpenError{}

type circuitOpenError struct{}

func (*circuitOpenError) Error() string { return "circuit breaker open" }

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsRecoverable(err) {
		switch b.state {
		case CircuitHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenProbes {
				b.transition(CircuitClosed)
				b.consecutiveFailures = 0
				b.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(CircuitOpen)
		b.halfOpenSuccesses = 0
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.source, from, to)
	}
}

// SourceBreakers manages one breaker per external source.
type SourceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      CircuitConfig
}

// NewSourceBreakers creates a per-source breaker registry.
func NewSourceBreakers(cfg CircuitConfig) *SourceBreakers {
	return &SourceBreakers{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for a source, creating it on first use.
func (sb *SourceBreakers) Get(source string) *Breaker {
	sb.mu.RLock()
	b, ok := sb.breakers[source]
	sb.mu.RUnlock()
	if ok {
		return b
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if b, ok = sb.breakers[source]; ok {
		return b
	}
	b = NewBreaker(source, sb.cfg)
	sb.breakers[source] = b
	return b
}

// States snapshots every breaker's state for the status command.
func (sb *SourceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, b := range sb.breakers {
		states[name] = b.State()
	}
	return states
}
