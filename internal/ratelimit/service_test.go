package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/podgenhq/podgen-backend/pkg/config"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type fakeWindowStore struct {
	counts    map[string]int64
	windowEnd map[string]time.Time
	now       time.Time
	err       error
}

func newFakeWindowStore(now time.Time) *fakeWindowStore {
	return &fakeWindowStore{
		counts:    make(map[string]int64),
		windowEnd: make(map[string]time.Time),
		now:       now,
	}
}

func (f *fakeWindowStore) FixedWindowIncr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	if end, ok := f.windowEnd[key]; ok && !f.now.Before(end) {
		delete(f.counts, key)
		delete(f.windowEnd, key)
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.windowEnd[key] = f.now.Add(window)
		return 1, window, nil
	}
	return f.counts[key], f.windowEnd[key].Sub(f.now), nil
}

func (f *fakeWindowStore) RateLimitKey(action, subject string) string {
	return "podgen:rate_limit:" + action + ":" + subject
}

func testPolicies() PolicyTable {
	return PoliciesFromConfig(config.RateLimitConfig{
		GenerateAudioRate: 3, GenerateAudioWindow: 2 * time.Minute,
		GenerateThumbnailRate: 3, GenerateThumbnailWindow: 2 * time.Minute,
		CreatePodcastRate: 3, CreatePodcastWindow: 2 * time.Minute,
		UploadFileRate: 3, UploadFileWindow: 2 * time.Minute,
		IncrementViewsRate: 1, IncrementViewsWindow: 2 * time.Minute,
	})
}

func TestCheckAllowsUpToRateThenBlocks(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeWindowStore(now)
	limiter, err := NewLimiter(LimiterParams{
		Store:    store,
		Policies: testPolicies(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		decision, err := limiter.Check(ctx, ActionGenerateAudio, "user-1")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	decision, err := limiter.Check(ctx, ActionGenerateAudio, "user-1")
	if err != nil {
		t.Fatalf("blocked check: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("fourth request in the window should be blocked")
	}
	wantRetry := now.Add(2 * time.Minute)
	if !decision.RetryAt.Equal(wantRetry) {
		t.Fatalf("expected retry at window end %s, got %s", wantRetry, decision.RetryAt)
	}
}

func TestCheckWindowsAreIndependentPerSubjectAndAction(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeWindowStore(now)
	limiter, _ := NewLimiter(LimiterParams{Store: store, Policies: testPolicies()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Check(ctx, ActionGenerateAudio, "user-1"); err != nil {
			t.Fatalf("seed user-1: %v", err)
		}
	}

	decision, err := limiter.Check(ctx, ActionGenerateAudio, "user-2")
	if err != nil || !decision.Allowed {
		t.Fatalf("other subject should not share the window, allowed=%v err=%v", decision.Allowed, err)
	}

	decision, err = limiter.Check(ctx, ActionGenerateThumbnail, "user-1")
	if err != nil || !decision.Allowed {
		t.Fatalf("other action should not share the window, allowed=%v err=%v", decision.Allowed, err)
	}
}

func TestCheckResetsAfterWindowExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeWindowStore(now)
	limiter, _ := NewLimiter(LimiterParams{Store: store, Policies: testPolicies()})
	ctx := context.Background()

	if _, err := limiter.Check(ctx, ActionIncrementViews, "user-1"); err != nil {
		t.Fatalf("first view: %v", err)
	}
	decision, err := limiter.Check(ctx, ActionIncrementViews, "user-1")
	if err != nil {
		t.Fatalf("second view: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("second view inside the window should be blocked")
	}

	store.now = now.Add(2*time.Minute + time.Second)
	decision, err = limiter.Check(ctx, ActionIncrementViews, "user-1")
	if err != nil {
		t.Fatalf("view after expiry: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("window expiry should reset the counter")
	}
}

func TestCheckUnknownActionRejected(t *testing.T) {
	store := newFakeWindowStore(time.Now())
	limiter, _ := NewLimiter(LimiterParams{Store: store, Policies: testPolicies()})

	_, err := limiter.Check(context.Background(), "deletePodcast", "user-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown action, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "deletePodcast") {
		t.Fatalf("error should name the action, got %v", err)
	}
}

func TestCheckStoreErrorWrapped(t *testing.T) {
	store := newFakeWindowStore(time.Now())
	store.err = context.DeadlineExceeded
	limiter, _ := NewLimiter(LimiterParams{Store: store, Policies: testPolicies()})

	_, err := limiter.Check(context.Background(), ActionGenerateAudio, "user-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
