package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options tune the process-wide request gate.
type Options struct {
	// RequestsPerMinute is the sustained token refill rate.
	RequestsPerMinute float64
	// Burst caps the token bucket.
	Burst float64
	// MinInterval is the unthrottled minimum spacing between requests. It is
	// doubled per consecutive throttle signal, capped at 64x.
	MinInterval time.Duration
	// InitialBackoff seeds the exponential backoff schedule.
	InitialBackoff time.Duration
	// MaxBackoff caps a single backoff sleep.
	MaxBackoff time.Duration
	// CooldownAfter is the consecutive-throttle count that triggers the
	// extended cooldown.
	CooldownAfter int
	// Cooldown is the extended sleep taken once CooldownAfter is exceeded.
	Cooldown time.Duration
	// Jitter bounds the random addition to spacing and backoff sleeps.
	Jitter time.Duration
}

func (o Options) withDefaults() Options {
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 60
	}
	if o.Burst <= 0 {
		o.Burst = o.RequestsPerMinute / 6
		if o.Burst < 1 {
			o.Burst = 1
		}
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 100 * time.Millisecond
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.CooldownAfter <= 0 {
		o.CooldownAfter = 6
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	return o
}

// Limiter is the single process-wide gate in front of the upstream API.
// All concurrently scanning pairs share one instance.
type Limiter struct {
	opts   Options
	logger zerolog.Logger

	mu             sync.Mutex
	tokens         float64
	lastRefill     time.Time
	notBefore      time.Time
	consecutive429 int

	rng *rand.Rand

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a limiter with a full bucket.
func New(opts Options, logger zerolog.Logger) *Limiter {
	opts = opts.withDefaults()
	l := &Limiter{
		opts:   opts,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		tokens: opts.Burst,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	l.lastRefill = l.now()
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until the caller is permitted to issue one request.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryTake()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryTake consumes a token when both the bucket and the spacing guard allow
// it; otherwise it reports how long to wait before retrying.
func (l *Limiter) tryTake() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)

	tokenInterval := time.Duration(float64(time.Minute) / l.opts.RequestsPerMinute)

	if l.tokens < 1 {
		return tokenInterval, false
	}
	if now.Before(l.notBefore) {
		return l.notBefore.Sub(now), false
	}

	l.tokens--
	l.notBefore = now.Add(l.spacing())
	return 0, true
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed / 60 * l.opts.RequestsPerMinute
	if l.tokens > l.opts.Burst {
		l.tokens = l.opts.Burst
	}
	l.lastRefill = now
}

// spacing is the minimum inter-request interval, doubled per consecutive
// throttle up to 64x, with jitter so callers do not re-synchronise after a
// throttle event. Caller holds l.mu.
func (l *Limiter) spacing() time.Duration {
	shift := l.consecutive429
	if shift > 6 {
		shift = 6
	}
	return l.opts.MinInterval<<uint(shift) + l.jitter()
}

func (l *Limiter) jitter() time.Duration {
	if l.opts.Jitter <= 0 {
		return 0
	}
	return time.Duration(l.rng.Int63n(int64(l.opts.Jitter)))
}

// Success records a non-throttled response, resetting the throttle streak.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutive429 = 0
}

// Throttled records an explicit too-many-requests signal and sleeps out the
// computed backoff. retryAfter, when upstream advertises one, only ever
// raises the wait.
func (l *Limiter) Throttled(ctx context.Context, retryAfter time.Duration) error {
	l.mu.Lock()
	l.consecutive429++
	attempt := l.consecutive429

	wait := backoffDelay(l.opts.InitialBackoff, l.opts.MaxBackoff, attempt) + l.jitter()
	if retryAfter > wait {
		wait = retryAfter
	}
	cooled := false
	if attempt > l.opts.CooldownAfter {
		wait = l.opts.Cooldown
		l.consecutive429 = 0
		cooled = true
	}
	l.notBefore = l.now().Add(wait)
	l.mu.Unlock()

	if cooled {
		l.logger.Warn().Dur("cooldown", wait).Msg("throttle streak exceeded ceiling, entering cooldown")
	} else {
		l.logger.Debug().Int("streak", attempt).Dur("wait", wait).Msg("throttled by upstream")
	}
	return l.sleep(ctx, wait)
}

// FailureDelay sleeps out the backoff for a transient network failure. The
// attempt counter is per-fetch, not shared.
func (l *Limiter) FailureDelay(ctx context.Context, attempt int) error {
	wait := backoffDelay(l.opts.InitialBackoff, l.opts.MaxBackoff, attempt)
	l.mu.Lock()
	wait += l.jitter()
	l.mu.Unlock()
	return l.sleep(ctx, wait)
}

func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := initial
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}
