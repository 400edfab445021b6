package forge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	spacing   *rate.Limiter
	logger    logging.Logger
}

// NewRateLimiter creates a new rate limiter allowing at most one request per
// minDelay while the hourly quota lasts
func NewRateLimiter(minDelay time.Duration, logger logging.Logger) RateLimiter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &githubRateLimiter{
		remaining: 5000, // GitHub API default limit
		resetTime: time.Now().Add(time.Hour),
		spacing:   rate.NewLimiter(rate.Every(minDelay), 1),
		logger:    logger,
	}
}

// Wait waits until it's safe to make another API call. An interrupted wait
// is reported as a transient error wrapping the context error.
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	remaining, resetTime := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining <= 10 {
		if waitDuration := time.Until(resetTime); waitDuration > 0 {
			r.logger.Warn("rate limit low, waiting for reset",
				"remaining", remaining, "wait", waitDuration.Round(time.Second))
			timer := time.NewTimer(waitDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return apperrors.NewTransientError("interrupted waiting for rate limit reset", ctx.Err())
			case <-timer.C:
			}
		}
		r.mu.Lock()
		r.remaining = 5000
		r.resetTime = time.Now().Add(time.Hour)
		r.mu.Unlock()
	}

	if err := r.spacing.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return apperrors.NewTransientError("interrupted waiting for request slot", err)
	}
	return nil
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
