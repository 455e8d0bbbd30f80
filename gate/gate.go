package gate

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines admission behaviour: how many runs may execute at once
// and how fast new runs may be started.
type Config struct {
	// MaxConcurrency limits how many runs may execute simultaneously.
	// Zero means no concurrency limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained run starts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// Manager is the run admission gate. A run start or resume must acquire
// a slot before executing and release it when the run reaches a terminal
// state or pauses for approval. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	config  Config
	limiter *rate.Limiter
	active  int
}

// NewManager creates a Manager with the given admission configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return m
}

// Acquire checks the rate limit and concurrency cap. If the run is allowed
// to proceed it increments the active counter and returns true. The caller
// MUST call Release when the run stops executing.
func (m *Manager) Acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limiter != nil && !m.limiter.Allow() {
		return false
	}
	if m.config.MaxConcurrency > 0 && m.active >= m.config.MaxConcurrency {
		return false
	}

	m.active++
	return true
}

// Release decrements the active run count.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
}

// SetConfig dynamically updates the admission configuration. The current
// active count is preserved.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg
	m.limiter = nil
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
}

// ActiveCount returns the current number of executing runs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
