package mcp

import (
	"sync"
	"time"
)

// RateLimitConfig configures the MCP rate limiter (spec.md §4.3).
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstCapacity     int           `yaml:"burst_capacity"`
	PerMinuteLimit    int           `yaml:"per_minute_limit"`
	Cooldown          time.Duration `yaml:"cooldown"`
	// ToolLimits holds a per-tool override of RequestsPerSecond/BurstCapacity,
	// keyed by tool name, for tools enumerated here.
	ToolLimits map[string]ToolRateLimit `yaml:"tool_limits"`
}

// ToolRateLimit is a per-tool override of the default limiter parameters.
type ToolRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstCapacity     int     `yaml:"burst_capacity"`
}

// DefaultRateLimitConfig returns sane defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstCapacity:     20,
		PerMinuteLimit:    300,
		Cooldown:          500 * time.Millisecond,
	}
}

// RateLimitState is the per-client (or per-(client,tool)) bucket state,
// matching spec.md §3 field-for-field.
type RateLimitState struct {
	Tokens       float64
	LastRefill   time.Time
	RequestCount int
	WindowStart  time.Time
	BlockedUntil time.Time
}

// RateLimitStats is a read-only snapshot of a RateLimitState for
// introspection (GetStatus-equivalent).
type RateLimitStats struct {
	Tokens       float64
	RequestCount int
	BlockedUntil time.Time
}

// RateLimiter implements spec.md §4.3: token bucket with burst capacity,
// a sliding per-minute window, cooldown after exhaustion, and an optional
// per-(client,tool) override for tools listed in ToolLimits.
type RateLimiter struct {
	mu     sync.Mutex
	cfg    RateLimitConfig
	states map[string]*RateLimitState
}

// NewRateLimiter constructs a limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.PerMinuteLimit <= 0 {
		cfg.PerMinuteLimit = 300
	}
	return &RateLimiter{cfg: cfg, states: make(map[string]*RateLimitState)}
}

func (l *RateLimiter) paramsFor(tool string) (rps float64, burst int) {
	if tool != "" {
		if tl, ok := l.cfg.ToolLimits[tool]; ok {
			if tl.RequestsPerSecond > 0 {
				rps = tl.RequestsPerSecond
			} else {
				rps = l.cfg.RequestsPerSecond
			}
			if tl.BurstCapacity > 0 {
				burst = tl.BurstCapacity
			} else {
				burst = l.cfg.BurstCapacity
			}
			return rps, burst
		}
	}
	return l.cfg.RequestsPerSecond, l.cfg.BurstCapacity
}

func stateKey(client, tool string) string {
	if tool == "" {
		return client
	}
	return client + "\x1f" + tool
}

func (l *RateLimiter) state(key string, burst int) *RateLimitState {
	s, ok := l.states[key]
	if !ok {
		now := time.Now()
		s = &RateLimitState{Tokens: float64(burst), LastRefill: now, WindowStart: now}
		l.states[key] = s
	}
	return s
}

// CheckLimit implements checkLimit(client, tool?). Order of checks exactly
// follows spec.md §4.3: cooldown, refill, token exhaustion, per-minute
// window, tool-specific limit. It does NOT consume a token — Consume must
// be called iff allowed is true, per the spec's checkLimit/consume split.
func (l *RateLimiter) CheckLimit(client, tool string) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rps, burst := l.paramsFor(tool)
	key := stateKey(client, tool)
	s := l.state(key, burst)

	now := time.Now()

	// (a) in-cooldown
	if now.Before(s.BlockedUntil) {
		return false, s.BlockedUntil.Sub(now)
	}

	// (b) refill tokens based on elapsed time
	elapsed := now.Sub(s.LastRefill).Seconds()
	s.LastRefill = now
	s.Tokens += elapsed * rps
	if s.Tokens > float64(burst) {
		s.Tokens = float64(burst)
	}
	if s.Tokens < 0 {
		s.Tokens = 0
	}

	// reset the sliding per-minute window if expired
	if now.Sub(s.WindowStart) >= time.Minute {
		s.WindowStart = now
		s.RequestCount = 0
	}

	// (c) tokens < 1 -> not allowed, set cooldown
	if s.Tokens < 1 {
		s.BlockedUntil = now.Add(l.cfg.Cooldown)
		wait := time.Duration((1 - s.Tokens) / rps * float64(time.Second))
		if wait < l.cfg.Cooldown {
			wait = l.cfg.Cooldown
		}
		return false, wait
	}

	// (d) per-minute limit exceeded
	if l.cfg.PerMinuteLimit > 0 && s.RequestCount >= l.cfg.PerMinuteLimit {
		retryAfter = time.Minute - now.Sub(s.WindowStart)
		return false, retryAfter
	}

	// (e) tool-specific limit already folded into rps/burst via paramsFor

	return true, 0
}

// Consume records a permitted call: one token spent, window counter
// incremented. Must be called iff the preceding CheckLimit returned true.
func (l *RateLimiter) Consume(client, tool string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, burst := l.paramsFor(tool)
	s := l.state(stateKey(client, tool), burst)
	s.Tokens--
	if s.Tokens < 0 {
		s.Tokens = 0
	}
	s.RequestCount++
}

// CheckAndConsume performs CheckLimit+Consume atomically under the same
// lock, satisfying the ordering guarantee in spec.md §5 that checked-and-
// not-consumed tokens must not race concurrent callers.
func (l *RateLimiter) CheckAndConsume(client, tool string) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rps, burst := l.paramsFor(tool)
	key := stateKey(client, tool)
	s := l.state(key, burst)
	now := time.Now()

	if now.Before(s.BlockedUntil) {
		return false, s.BlockedUntil.Sub(now)
	}

	elapsed := now.Sub(s.LastRefill).Seconds()
	s.LastRefill = now
	s.Tokens += elapsed * rps
	if s.Tokens > float64(burst) {
		s.Tokens = float64(burst)
	}

	if now.Sub(s.WindowStart) >= time.Minute {
		s.WindowStart = now
		s.RequestCount = 0
	}

	if s.Tokens < 1 {
		s.BlockedUntil = now.Add(l.cfg.Cooldown)
		wait := time.Duration((1 - s.Tokens) / rps * float64(time.Second))
		if wait < l.cfg.Cooldown {
			wait = l.cfg.Cooldown
		}
		return false, wait
	}

	if l.cfg.PerMinuteLimit > 0 && s.RequestCount >= l.cfg.PerMinuteLimit {
		return false, time.Minute - now.Sub(s.WindowStart)
	}

	s.Tokens--
	s.RequestCount++
	return true, 0
}

// Acquire loops check -> sleep retryAfter -> re-check until timeout elapses
// or a slot opens, per spec.md §4.3's acquire().
func (l *RateLimiter) Acquire(client, tool string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		allowed, retryAfter := l.CheckAndConsume(client, tool)
		if allowed {
			return true
		}
		if time.Now().Add(retryAfter).After(deadline) {
			return false
		}
		time.Sleep(retryAfter)
	}
}

// Stats returns a read-only snapshot for a (client, tool) key, or a zero
// value if no state has been created yet.
func (l *RateLimiter) Stats(client, tool string) RateLimitStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[stateKey(client, tool)]
	if !ok {
		_, burst := l.paramsFor(tool)
		return RateLimitStats{Tokens: float64(burst)}
	}
	return RateLimitStats{Tokens: s.Tokens, RequestCount: s.RequestCount, BlockedUntil: s.BlockedUntil}
}

// Reset clears all state for a client, restoring it to full burst capacity
// on the next check (R3: reset then checkLimit yields allowed=true with
// tokens == burstCapacity).
func (l *RateLimiter) Reset(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.states {
		if key == client || (len(key) > len(client) && key[:len(client)+1] == client+"\x1f") {
			delete(l.states, key)
		}
	}
}

// GlobalBucket is a single shared limiter for unauthenticated/anonymous
// access, supplementing the per-client limiter with a process-wide ceiling.
// Grounded on the original Python's hardened.py global limiter (see
// DESIGN.md §4 supplemented features).
type GlobalBucket struct {
	limiter *RateLimiter
}

// NewGlobalBucket wraps a RateLimitConfig as a single-key global limiter.
func NewGlobalBucket(cfg RateLimitConfig) *GlobalBucket {
	return &GlobalBucket{limiter: NewRateLimiter(cfg)}
}

// Allow checks and consumes against the shared "__global__" key.
func (g *GlobalBucket) Allow() (bool, time.Duration) {
	return g.limiter.CheckAndConsume("__global__", "")
}
