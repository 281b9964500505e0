// Package breaker implements the three-state circuit breaker of spec.md
// §4.2: a tagged state machine held in a single atomic, one instance per
// guarded dependency, with failure bookkeeping in a small ring buffer —
// exactly the shape spec.md's design notes prescribe rather than the
// teacher's (Python) shared mutable object graph. Transition table and
// Stats() shape are grounded on
// original_source/services/gateway/gateway_service/middleware/circuit_breaker.py.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/config"
)

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker guards a single named dependency (spec.md: "at least one for
// Auth"). State transitions themselves live in a single atomic.Int32;
// failure-rate bookkeeping lives in a small fixed-size ring buffer protected
// by its own mutex, kept separate so the hot-path state read never takes a
// lock.
type Breaker struct {
	name string
	cfg  config.BreakerConfig

	state           atomic.Int32
	consecutiveFail atomic.Int32
	openedAt        atomic.Int64 // unix nano; when state became Open
	halfOpenAdmits  atomic.Int32 // probes admitted since entering HalfOpen

	mu       sync.Mutex
	ring     []bool // true = failure, sized to cfg.ErrorRateWindow
	ringPos  int
	ringFull bool

	totalCalls    atomic.Int64
	failedCalls   atomic.Int64
	rejectedCalls atomic.Int64
}

func New(name string, cfg config.BreakerConfig) *Breaker {
	if cfg.ErrorRateWindow <= 0 {
		cfg.ErrorRateWindow = 20
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		ring: make([]bool, cfg.ErrorRateWindow),
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting Open->HalfOpen when the
// cool-off has elapsed. This promotion is what admits "exactly one probe":
// the first caller to observe the elapsed cool-off wins the CAS and becomes
// the probe; everyone else still sees Open until that probe resolves.
func (b *Breaker) State() State {
	cur := State(b.state.Load())
	if cur != Open {
		return cur
	}
	openedAt := time.Unix(0, b.openedAt.Load())
	if time.Since(openedAt) < time.Duration(b.cfg.CoolOffSec)*time.Second {
		return Open
	}
	if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
		b.halfOpenAdmits.Store(0)
	}
	return State(b.state.Load())
}

// Allow reports whether a call should proceed; an admitted call must be
// followed by Success or Failure. In HalfOpen, only
// cfg.HalfOpenMaxProbes concurrent callers are admitted (default 1); every
// other caller is rejected exactly like Open.
func (b *Breaker) Allow() bool {
	b.totalCalls.Add(1)
	switch b.State() {
	case Open:
		b.rejectedCalls.Add(1)
		return false
	case HalfOpen:
		max := int32(b.cfg.HalfOpenMaxProbes)
		if max <= 0 {
			max = 1
		}
		if b.halfOpenAdmits.Add(1) > max {
			b.halfOpenAdmits.Add(-1)
			b.rejectedCalls.Add(1)
			return false
		}
		return true
	default:
		return true
	}
}

// Success records a successful call. In HalfOpen this closes the breaker and
// resets all failure bookkeeping; in Closed it resets the consecutive
// failure counter (an isolated failure does not accumulate toward the
// threshold once a request succeeds).
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.state.Store(int32(Closed))
		b.consecutiveFail.Store(0)
		b.halfOpenAdmits.Store(0)
		b.resetRing()
	case Closed:
		b.consecutiveFail.Store(0)
	}
	b.recordOutcome(false)
}

// Failure records a failed call and applies the CLOSED->OPEN and
// HALF_OPEN->OPEN transitions of spec.md §4.2.
func (b *Breaker) Failure() {
	b.failedCalls.Add(1)
	b.recordOutcome(true)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.trip()
	case Closed:
		n := b.consecutiveFail.Add(1)
		if int(n) >= b.cfg.ConsecutiveFailureThreshold || b.errorRate() >= b.cfg.ErrorRateThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state.Store(int32(Open))
	b.openedAt.Store(time.Now().UnixNano())
	b.halfOpenAdmits.Store(0)
}

func (b *Breaker) recordOutcome(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.ringPos] = failed
	b.ringPos = (b.ringPos + 1) % len(b.ring)
	if b.ringPos == 0 {
		b.ringFull = true
	}
}

// errorRate returns the failure fraction over the sliding window once it has
// filled at least once; returns 0 before then so a fresh breaker never trips
// on error-rate alone before it has cfg.ErrorRateWindow samples.
func (b *Breaker) errorRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ringFull {
		return 0
	}
	fails := 0
	for _, f := range b.ring {
		if f {
			fails++
		}
	}
	return float64(fails) / float64(len(b.ring))
}

func (b *Breaker) resetRing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.ring {
		b.ring[i] = false
	}
	b.ringPos = 0
	b.ringFull = false
}

// Stats mirrors circuit_breaker.py's get_stats() shape, ported to Go.
type Stats struct {
	Service         string  `json:"service"`
	State           string  `json:"state"`
	ConsecutiveFail int32   `json:"consecutive_failures"`
	TotalCalls      int64   `json:"total_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	RejectedCalls   int64   `json:"rejected_calls"`
	FailureRate     float64 `json:"failure_rate"`
	RejectionRate   float64 `json:"rejection_rate"`
}

func (b *Breaker) Stats() Stats {
	total := b.totalCalls.Load()
	failed := b.failedCalls.Load()
	rejected := b.rejectedCalls.Load()
	var failRate, rejRate float64
	if total > 0 {
		failRate = float64(failed) / float64(total) * 100
		rejRate = float64(rejected) / float64(total) * 100
	}
	return Stats{
		Service:         b.name,
		State:           b.State().String(),
		ConsecutiveFail: b.consecutiveFail.Load(),
		TotalCalls:      total,
		FailedCalls:     failed,
		RejectedCalls:   rejected,
		FailureRate:     failRate,
		RejectionRate:   rejRate,
	}
}

// Registry holds one Breaker per dependency name, created on first use.
type Registry struct {
	cfg config.BreakerConfig
	mu  sync.Mutex
	m   map[string]*Breaker
}

func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.m[name]
	if !ok {
		b = New(name, r.cfg)
		r.m[name] = b
	}
	return b
}

func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.m))
	for name, b := range r.m {
		out[name] = b.Stats()
	}
	return out
}
