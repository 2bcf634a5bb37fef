package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type windowStore interface {
	FixedWindowIncr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	RateLimitKey(action, subject string) string
}

// Decision is the outcome of a limiter check. RetryAt is only meaningful when
// the request was blocked.
type Decision struct {
	Allowed bool
	Count   int64
	RetryAt time.Time
}

// Limiter applies per-action fixed-window limits keyed by subject.
type Limiter struct {
	store    windowStore
	policies PolicyTable
	now      func() time.Time
}

// LimiterParams groups dependencies for the limiter.
type LimiterParams struct {
	Store    windowStore
	Policies PolicyTable
	Now      func() time.Time
}

// NewLimiter builds a limiter with the required dependencies.
func NewLimiter(params LimiterParams) (*Limiter, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("window store required")
	}
	if len(params.Policies) == 0 {
		return nil, fmt.Errorf("policy table required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: params.Store, policies: params.Policies, now: now}, nil
}

// Check consumes one unit of the subject's allowance for the action. A blocked
// request still increments the window counter, which matches treating each
// attempt as usage; RetryAt marks the end of the current window.
func (l *Limiter) Check(ctx context.Context, action, subject string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown rate limit action %q", action))
	}
	if strings.TrimSpace(subject) == "" {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "rate limit subject is required")
	}

	key := l.store.RateLimitKey(action, subject)
	count, remaining, err := l.store.FixedWindowIncr(ctx, key, policy.Period)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limit window increment")
	}

	if count > policy.Rate {
		return Decision{
			Allowed: false,
			Count:   count,
			RetryAt: l.now().Add(remaining),
		}, nil
	}
	return Decision{Allowed: true, Count: count}, nil
}
