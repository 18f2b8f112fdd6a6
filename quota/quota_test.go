package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"scriptgenius-backend/plans"
	"scriptgenius-backend/subscriptions"
)

type fakeSubs struct {
	plan plans.PlanID
	err  error
}

func (f *fakeSubs) GetCurrentSubscription(ctx context.Context, userID int) (*subscriptions.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &subscriptions.Subscription{UserID: userID, Plan: f.plan, Status: subscriptions.StatusActive}, nil
}

type memUsage struct {
	counts  map[string]int
	usedErr error
	resErr  error
}

func newMemUsage() *memUsage {
	return &memUsage{counts: map[string]int{}}
}

func key(userID int, period string) string {
	return fmt.Sprintf("%d/%s", userID, period)
}

func (m *memUsage) Used(ctx context.Context, userID int, period string) (int, error) {
	if m.usedErr != nil {
		return 0, m.usedErr
	}
	return m.counts[key(userID, period)], nil
}

func (m *memUsage) Reserve(ctx context.Context, userID int, period string, limit int) (bool, error) {
	if m.resErr != nil {
		return false, m.resErr
	}
	k := key(userID, period)
	if m.counts[k] >= limit {
		return false, nil
	}
	m.counts[k]++
	return true, nil
}

func (m *memUsage) Release(ctx context.Context, userID int, period string) error {
	k := key(userID, period)
	if m.counts[k] > 0 {
		m.counts[k]--
	}
	return nil
}

func freeEngine(st usageStore) *Engine {
	return &Engine{store: st, subs: &fakeSubs{plan: plans.Free}}
}

func TestPeriodKeys(t *testing.T) {
	now := time.Date(2026, 3, 15, 23, 59, 0, 0, time.Local)
	if got := period(plans.LimitTotal, now); got != "total" {
		t.Fatalf("total period = %q", got)
	}
	if got := period(plans.LimitDaily, now); got != "2026-03-15" {
		t.Fatalf("daily period = %q", got)
	}
	// crossing midnight yields a fresh key, which is the whole reset story
	next := now.Add(2 * time.Minute)
	if period(plans.LimitDaily, now) == period(plans.LimitDaily, next) {
		t.Fatalf("midnight crossing should change the period key")
	}
}

func TestConsumeUntilExhausted(t *testing.T) {
	st := newMemUsage()
	e := freeEngine(st)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		lim, err := e.Consume(ctx, 1)
		if err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		if want := 5 - (i + 1); lim.Remaining != want {
			t.Fatalf("consume %d: remaining = %d, want %d", i+1, lim.Remaining, want)
		}
	}

	lim, err := e.Consume(ctx, 1)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("consume past limit: err = %v", err)
	}
	if lim.CanGenerate || lim.Remaining != 0 || lim.Total != 5 {
		t.Fatalf("exhausted snapshot = %+v", lim)
	}
	// and again, to prove the deny is stable rather than a one-off
	if _, err := e.Consume(ctx, 1); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("second consume past limit: err = %v", err)
	}
}

func TestCheckLimitSnapshot(t *testing.T) {
	st := newMemUsage()
	st.counts[key(1, "total")] = 3
	e := freeEngine(st)

	lim := e.CheckLimit(context.Background(), 1)
	if !lim.CanGenerate || lim.Remaining != 2 || lim.Total != 5 || lim.PlanName != "Free" {
		t.Fatalf("snapshot = %+v", lim)
	}

	st.counts[key(1, "total")] = 5
	lim = e.CheckLimit(context.Background(), 1)
	if lim.CanGenerate || lim.Remaining != 0 {
		t.Fatalf("at-limit snapshot = %+v", lim)
	}
}

func TestCheckLimitClampsRemaining(t *testing.T) {
	// A downgraded plan can leave used above the new limit.
	st := newMemUsage()
	st.counts[key(1, "total")] = 9
	e := freeEngine(st)

	lim := e.CheckLimit(context.Background(), 1)
	if lim.Remaining != 0 {
		t.Fatalf("remaining should clamp at zero, got %d", lim.Remaining)
	}
	if lim.CanGenerate {
		t.Fatalf("over-limit user should not generate")
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	st := newMemUsage()
	e := freeEngine(st)
	ctx := context.Background()

	e.Release(ctx, 1)
	e.Release(ctx, 1)
	if got := st.counts[key(1, "total")]; got != 0 {
		t.Fatalf("counter went negative: %d", got)
	}

	if _, err := e.Consume(ctx, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	e.Release(ctx, 1)
	lim := e.CheckLimit(ctx, 1)
	if lim.Remaining != 5 {
		t.Fatalf("release should restore the reservation, remaining = %d", lim.Remaining)
	}
}

func TestQuotaFailsOpen(t *testing.T) {
	ctx := context.Background()

	st := newMemUsage()
	st.usedErr = errors.New("store down")
	e := freeEngine(st)
	lim := e.CheckLimit(ctx, 1)
	if !lim.CanGenerate || lim.Remaining != 5 {
		t.Fatalf("check should fail open, got %+v", lim)
	}

	st = newMemUsage()
	st.resErr = errors.New("store down")
	e = freeEngine(st)
	clim, err := e.Consume(ctx, 1)
	if err != nil {
		t.Fatalf("consume should fail open, err = %v", err)
	}
	if !clim.CanGenerate {
		t.Fatalf("consume should fail open, got %+v", clim)
	}

	e = &Engine{store: newMemUsage(), subs: &fakeSubs{err: errors.New("subs down")}}
	lim = e.CheckLimit(ctx, 1)
	if lim.PlanName != "Free" {
		t.Fatalf("unresolved subscription should fall back to Free, got %q", lim.PlanName)
	}
}

func TestConsumeBypass(t *testing.T) {
	t.Setenv("QUOTA_DISABLE", "1")
	e := NewEngine(nil, nil)
	lim, err := e.Consume(context.Background(), 42)
	if err != nil {
		t.Fatalf("bypass returned error: %v", err)
	}
	if !lim.CanGenerate {
		t.Fatalf("bypass should allow generation")
	}
	if lim.PlanName != "Free" {
		t.Fatalf("bypass should report the free plan, got %q", lim.PlanName)
	}
}
