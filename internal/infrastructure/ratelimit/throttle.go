package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	circuitOpenAfter = 3 // consecutive failures before the circuit opens
	backoffExpCap    = 3 // caps both spacing and cooldown growth at 8x base
)

// Config tunes one Throttle. All named dependencies guarded by the same
// Throttle share these values but keep independent state.
type Config struct {
	MinDelay             time.Duration // minimum gap between accepted calls
	Window               time.Duration // rolling window length
	MaxCallsPerWindow    int           // accepted calls per window
	BaseCooldown         time.Duration // circuit-open duration before scaling
	RetryTransportErrors bool          // one extra short retry for generic I/O errors
}

func DefaultConfig() Config {
	return Config{
		MinDelay:          200 * time.Millisecond,
		Window:            time.Minute,
		MaxCallsPerWindow: 60,
		BaseCooldown:      5 * time.Second,
	}
}

type depState struct {
	lastCall          time.Time
	windowCalls       []time.Time // accepted calls inside the rolling window
	consecutiveErrors int
	circuitOpenUntil  time.Time
}

// Throttle guards outbound calls to unreliable dependencies: minimum
// inter-call spacing, a rolling-window call cap, exponential backoff on
// rate-limit errors, and a circuit breaker after repeated failures. It never
// fails a caller for throttling reasons; it sleeps instead.
type Throttle struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	deps map[string]*depState
}

func New(cfg Config, logger *zap.Logger) *Throttle {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultConfig().MinDelay
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxCallsPerWindow <= 0 {
		cfg.MaxCallsPerWindow = DefaultConfig().MaxCallsPerWindow
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = DefaultConfig().BaseCooldown
	}
	return &Throttle{
		cfg:    cfg,
		logger: logger,
		deps:   make(map[string]*depState),
	}
}

func (t *Throttle) state(dep string) *depState {
	s, ok := t.deps[dep]
	if !ok {
		s = &depState{}
		t.deps[dep] = s
	}
	return s
}

// Acquire blocks until it is safe to issue one call to the named dependency,
// then reserves the slot. Call it immediately before each outbound request.
func (t *Throttle) Acquire(ctx context.Context, dep string) error {
	for {
		wait, ok := t.tryReserve(dep)
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve either reserves a call slot now or returns how long to wait
// before trying again.
func (t *Throttle) tryReserve(dep string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(dep)
	now := time.Now()

	// Circuit open: wait out the full window before any attempt.
	if now.Before(s.circuitOpenUntil) {
		return s.circuitOpenUntil.Sub(now), false
	}

	// Spacing scales with consecutive errors.
	exp := s.consecutiveErrors
	if exp > backoffExpCap {
		exp = backoffExpCap
	}
	minGap := t.cfg.MinDelay << uint(exp)
	if !s.lastCall.IsZero() {
		if elapsed := now.Sub(s.lastCall); elapsed < minGap {
			return minGap - elapsed, false
		}
	}

	// Rolling window cap: drop calls that aged out, then check capacity.
	// Keeping timestamps (not a fixed-window counter) means no span of
	// Window length ever holds more than the cap.
	cutoff := now.Add(-t.cfg.Window)
	kept := s.windowCalls[:0]
	for _, ts := range s.windowCalls {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.windowCalls = kept
	if len(s.windowCalls) >= t.cfg.MaxCallsPerWindow {
		return s.windowCalls[0].Add(t.cfg.Window).Sub(now), false
	}

	s.lastCall = now
	s.windowCalls = append(s.windowCalls, now)
	return 0, true
}

// RecordSuccess decays the consecutive-error counter toward zero.
func (t *Throttle) RecordSuccess(dep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(dep)
	if s.consecutiveErrors > 0 {
		s.consecutiveErrors--
	}
}

// RecordFailure increments the error counter and, once it reaches the
// threshold, opens the circuit for an exponentially growing cooldown.
func (t *Throttle) RecordFailure(dep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(dep)
	s.consecutiveErrors++
	if s.consecutiveErrors < circuitOpenAfter {
		return
	}
	extra := s.consecutiveErrors - circuitOpenAfter
	if extra > backoffExpCap {
		extra = backoffExpCap
	}
	cooldown := t.cfg.BaseCooldown << uint(extra)
	s.circuitOpenUntil = time.Now().Add(cooldown)
	if t.logger != nil {
		t.logger.Warn("Circuit opened",
			zap.String("dependency", dep),
			zap.Int("consecutive_errors", s.consecutiveErrors),
			zap.Time("reopen_at", s.circuitOpenUntil))
	}
}

// ConsecutiveErrors reports the current error count for a dependency.
func (t *Throttle) ConsecutiveErrors(dep string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(dep).consecutiveErrors
}

// CircuitOpen reports whether calls to the dependency are currently blocked.
func (t *Throttle) CircuitOpen(dep string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().Before(t.state(dep).circuitOpenUntil)
}

// WithRetry runs op behind Acquire, retrying rate-limited failures with
// exponential backoff plus jitter. Non-transient errors fail fast, except
// that when RetryTransportErrors is set a generic I/O failure gets exactly
// one extra short-delay retry. The final failure is propagated unchanged.
func (t *Throttle) WithRetry(ctx context.Context, dep string, maxAttempts int, baseDelay time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	transportRetried := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := t.Acquire(ctx, dep); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			t.RecordSuccess(dep)
			return nil
		}
		lastErr = err
		t.RecordFailure(dep)

		switch {
		case IsRateLimitError(err):
			if attempt == maxAttempts {
				return lastErr
			}
			delay := baseDelay << uint(attempt-1)
			delay += time.Duration(rand.Int63n(int64(baseDelay)/2 + 1))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		case t.cfg.RetryTransportErrors && isTransportError(err) && !transportRetried:
			transportRetried = true
			if err := sleepCtx(ctx, baseDelay); err != nil {
				return err
			}
		default:
			return lastErr
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRateLimitError classifies provider throttling responses.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof")
}
