package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential doubles the delay each attempt with jitter.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% randomness to delays.
	Jitter bool

	// RetryIf determines if an error should trigger a retry.
	// Default: Retryable.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry resubscribes failed operations with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = Retryable
	}

	return &Retry{config: config}
}

// Link returns the retry policy as a link.
//
// Queries and mutations that fail before delivering any value are
// resubscribed downstream up to MaxAttempts times. Subscriptions, and
// operations that already delivered data, fail through unchanged.
func (r *Retry) Link() link.Link {
	return func(ctx context.Context, op link.Operation, next link.NextFunc) link.ResultObservable {
		if op.Type == link.OpSubscription {
			return next(ctx, op)
		}

		return observable.New(func(obs link.ResultObserver) observable.Teardown {
			ctx, cancel := context.WithCancel(ctx)
			go func() {
				defer cancel()
				r.run(ctx, op, next, obs)
			}()
			return observable.Teardown(cancel)
		})
	}
}

func (r *Retry) run(ctx context.Context, op link.Operation, next link.NextFunc, obs link.ResultObserver) {
	for attempt := 1; ; attempt++ {
		var delivered atomic.Bool
		result := make(chan error, 1)

		sub := next(ctx, op).Subscribe(observable.Funcs[link.Envelope]{
			OnNext: func(env link.Envelope) {
				delivered.Store(true)
				obs.Next(env)
			},
			OnError:    func(err error) { result <- err },
			OnComplete: func() { result <- nil },
		})

		var err error
		select {
		case err = <-result:
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		}

		if err == nil {
			obs.Complete()
			return
		}

		// Check if we should retry
		if delivered.Load() || !r.config.RetryIf(err) || attempt >= r.config.MaxAttempts {
			obs.Error(err)
			return
		}

		delay := r.calculateDelay(attempt)

		// Callback before retry
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.InitialDelay

	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)

	case BackoffExponential:
		multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	// Cap at max delay
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	// Add jitter if enabled
	if r.config.Jitter && delay >= 4 {
		// Add up to 25% jitter
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		jitter := time.Duration(rand.Int64N(int64(delay / 4)))
		delay = delay + jitter
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
