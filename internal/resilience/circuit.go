package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the lifecycle state of a portal breaker.
type BreakerState int

const (
	// BreakerClosed lets requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cool-off elapses.
	BreakerOpen
	// BreakerProbing lets a limited number of probe requests test recovery.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// ErrPortalSuspended is returned when a portal host has been suspended after
// repeated failures and the cool-off has not yet elapsed.
var ErrPortalSuspended = eris.New("resilience: portal suspended after repeated failures")

// BreakerConfig tunes when a portal gets suspended and how it recovers.
type BreakerConfig struct {
	// TripAfter is the failure streak that suspends the portal. Default 5.
	TripAfter int

	// CoolOff is how long the portal stays suspended before probing. Default 30s.
	CoolOff time.Duration

	// ProbeQuota is the number of successful probes needed to resume. Default 1.
	ProbeQuota int

	// OnStateChange fires on every state transition.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig returns the tuning used for portal fetches.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		TripAfter:  5,
		CoolOff:    30 * time.Second,
		ProbeQuota: 1,
	}
}

// Breaker suspends requests to a single portal host after a streak of
// failures, then probes for recovery once the cool-off elapses.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	streak    int
	openedAt  time.Time
	probeWins int

	now func() time.Time
}

// NewBreaker returns a closed breaker with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 1
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// Allow reports whether a request may proceed. An open breaker whose cool-off
// has elapsed moves to probing and admits the request.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolOff {
			return ErrPortalSuspended
		}
		b.shift(BreakerProbing)
		return nil
	default:
		return nil
	}
}

// Observe records the outcome of an admitted request.
func (b *Breaker) Observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case BreakerProbing:
			b.probeWins++
			if b.probeWins >= b.cfg.ProbeQuota {
				b.shift(BreakerClosed)
				b.streak = 0
				b.probeWins = 0
			}
		case BreakerClosed:
			b.streak = 0
		}
		return
	}

	b.streak++
	b.openedAt = b.now()

	switch b.state {
	case BreakerClosed:
		if b.streak >= b.cfg.TripAfter {
			b.shift(BreakerOpen)
		}
	case BreakerProbing:
		// A failed probe re-suspends immediately.
		b.shift(BreakerOpen)
		b.probeWins = 0
	}
}

// State returns the effective state, accounting for an elapsed cool-off.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolOff {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = BreakerClosed
	b.streak = 0
	b.probeWins = 0
	if old != BreakerClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, BreakerClosed)
	}
}

func (b *Breaker) shift(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// CallVal runs fn through the breaker, recording the outcome.
func CallVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.Observe(err)
	return val, err
}

// PortalBreakers holds one breaker per portal host, created on demand.
type PortalBreakers struct {
	mu     sync.RWMutex
	byHost map[string]*Breaker
	cfg    BreakerConfig
}

// NewPortalBreakers returns an empty per-host breaker registry.
func NewPortalBreakers(cfg BreakerConfig) *PortalBreakers {
	return &PortalBreakers{byHost: make(map[string]*Breaker), cfg: cfg}
}

// For returns the breaker for host, creating it on first use.
func (pb *PortalBreakers) For(host string) *Breaker {
	pb.mu.RLock()
	b, ok := pb.byHost[host]
	pb.mu.RUnlock()
	if ok {
		return b
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if b, ok = pb.byHost[host]; ok {
		return b
	}
	b = NewBreaker(pb.cfg)
	pb.byHost[host] = b
	return b
}

// States snapshots the effective state of every known host.
func (pb *PortalBreakers) States() map[string]BreakerState {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	out := make(map[string]BreakerState, len(pb.byHost))
	for host, b := range pb.byHost {
		out[host] = b.State()
	}
	return out
}
