// Package resilience provides rate limiting, circuit breaking, and retry
// backoff for the command dispatch path.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter controls how fast commands are admitted, keyed by command
// type so a flood of execute_code cannot starve ping or get_report.
type RateLimiter interface {
	// Allow reports whether a command of the given type may run now.
	Allow(command string) bool

	// Wait blocks until a command may run or the context is canceled.
	Wait(ctx context.Context, command string) error

	// SetLimit updates the limit for one command type.
	SetLimit(command string, limit rate.Limit, burst int)
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// DefaultLimit is the default commands per second.
	DefaultLimit float64

	// DefaultBurst is the default burst size.
	DefaultBurst int

	// PerCommand keys limiters by command type instead of one global bucket.
	PerCommand bool

	// CommandLimits overrides the default for specific command types.
	CommandLimits map[string]CommandLimit
}

// CommandLimit is the rate limit for one command type.
type CommandLimit struct {
	Limit float64
	Burst int
}

// DefaultRateLimiterConfig returns default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultLimit: 50,
		DefaultBurst: 100,
		PerCommand:   true,
		CommandLimits: map[string]CommandLimit{
			// Execution is the expensive path; hold it well below the
			// bookkeeping commands.
			"execute_code": {Limit: 5, Burst: 10},
			"run_macro":    {Limit: 5, Burst: 10},
		},
	}
}

type rateLimiter struct {
	config   RateLimiterConfig
	global   *rate.Limiter
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(config RateLimiterConfig) RateLimiter {
	rl := &rateLimiter{
		config:   config,
		global:   rate.NewLimiter(rate.Limit(config.DefaultLimit), config.DefaultBurst),
		limiters: make(map[string]*rate.Limiter),
	}
	for command, limit := range config.CommandLimits {
		rl.limiters[command] = rate.NewLimiter(rate.Limit(limit.Limit), limit.Burst)
	}
	return rl
}

// Allow implements RateLimiter.Allow.
func (rl *rateLimiter) Allow(command string) bool {
	if !rl.config.PerCommand {
		return rl.global.Allow()
	}
	return rl.getLimiter(command).Allow()
}

// Wait implements RateLimiter.Wait.
func (rl *rateLimiter) Wait(ctx context.Context, command string) error {
	if !rl.config.PerCommand {
		return rl.global.Wait(ctx)
	}
	return rl.getLimiter(command).Wait(ctx)
}

// SetLimit implements RateLimiter.SetLimit.
func (rl *rateLimiter) SetLimit(command string, limit rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[command]; ok {
		limiter.SetLimit(limit)
		limiter.SetBurst(burst)
	} else {
		rl.limiters[command] = rate.NewLimiter(limit, burst)
	}
}

func (rl *rateLimiter) getLimiter(command string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[command]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if existing, ok := rl.limiters[command]; ok {
		return existing
	}
	limiter = rate.NewLimiter(rate.Limit(rl.config.DefaultLimit), rl.config.DefaultBurst)
	rl.limiters[command] = limiter
	return limiter
}
