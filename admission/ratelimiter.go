package admission

import (
	"sync"
	"time"
)

// RateLimiterConfig configures a sliding-window-with-lockout criterion.
type RateLimiterConfig struct {
	MaxRequests    int
	Window         time.Duration
	LockoutSeconds int
}

type rateState struct {
	mu          sync.Mutex
	timestamps  []time.Time
	lockedUntil time.Time
}

// RateLimiterCriterion is the admission store's sliding-window rate limiter:
// each address keeps a deque of recent request timestamps; exceeding
// MaxRequests within Window triggers a lockout for LockoutSeconds. This is
// deliberately a sliding window, not a token bucket — a request currently
// serving a lockout is rejected outright regardless of how long ago the
// window would otherwise have emptied.
type RateLimiterCriterion struct {
	cfg   RateLimiterConfig
	mu    sync.Mutex
	state map[string]*rateState
	now   func() time.Time
}

// NewRateLimiterCriterion builds a RateLimiterCriterion. cfg.MaxRequests
// must be >= 1 and cfg.Window must be positive; LockoutSeconds may be 0 for
// a limiter that simply rejects over-budget requests without a cooldown.
func NewRateLimiterCriterion(cfg RateLimiterConfig) *RateLimiterCriterion {
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &RateLimiterCriterion{
		cfg:   cfg,
		state: make(map[string]*rateState),
		now:   time.Now,
	}
}

func (c *RateLimiterCriterion) stateFor(address string) *rateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[address]
	if !ok {
		st = &rateState{}
		c.state[address] = st
	}
	return st
}

// Validate implements the six-step algorithm: reject outright while a
// lockout is active; otherwise evict timestamps older than the window,
// append the current request, and trip a new lockout if that pushes the
// deque past MaxRequests.
func (c *RateLimiterCriterion) Validate(address string) (bool, error) {
	st := c.stateFor(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := c.now()
	if st.lockedUntil.After(now) {
		return true, nil
	}

	cutoff := now.Add(-c.cfg.Window)
	kept := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.timestamps = kept
	st.timestamps = append(st.timestamps, now)

	if len(st.timestamps) > c.cfg.MaxRequests {
		st.lockedUntil = now.Add(time.Duration(c.cfg.LockoutSeconds) * time.Second)
		return true, nil
	}
	return false, nil
}

// Clear drops all tracked state for address, used after an explicit unban.
func (c *RateLimiterCriterion) Clear(address string) {
	c.mu.Lock()
	delete(c.state, address)
	c.mu.Unlock()
}

// PurgeStale evicts window-expired timestamps from every tracked address
// and drops the ones left with an empty deque and no active lockout.
func (c *RateLimiterCriterion) PurgeStale() {
	now := c.now()
	cutoff := now.Add(-c.cfg.Window)
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, st := range c.state {
		st.mu.Lock()
		kept := st.timestamps[:0]
		for _, ts := range st.timestamps {
			if !ts.Before(cutoff) {
				kept = append(kept, ts)
			}
		}
		st.timestamps = kept
		stale := len(st.timestamps) == 0 && !st.lockedUntil.After(now)
		st.mu.Unlock()
		if stale {
			delete(c.state, addr)
		}
	}
}
