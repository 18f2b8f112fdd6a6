package quota

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"time"

	"scriptgenius-backend/plans"
	"scriptgenius-backend/subscriptions"
)

// ErrQuotaExhausted is returned by Consume when no script generations remain
// for the current counting window.
var ErrQuotaExhausted = errors.New("quota exhausted")

// Limit is the result of an entitlement check.
type Limit struct {
	CanGenerate bool            `json:"can_generate"`
	Remaining   int             `json:"remaining"`
	Total       int             `json:"total"`
	LimitType   plans.LimitType `json:"limit_type"`
	PlanName    string          `json:"plan_name"`
}

// subscriptionSource resolves a user's current plan.
type subscriptionSource interface {
	GetCurrentSubscription(ctx context.Context, userID int) (*subscriptions.Subscription, error)
}

// usageStore is the shared generation counter, one row per (user, period).
// Reserve performs the conditional increment ("increment iff used < limit")
// atomically and reports whether it took effect; Release decrements, never
// below zero.
type usageStore interface {
	Used(ctx context.Context, userID int, period string) (int, error)
	Reserve(ctx context.Context, userID int, period string, limit int) (bool, error)
	Release(ctx context.Context, userID int, period string) error
}

// sqlUsage keeps the counter in the script_usage table.
type sqlUsage struct {
	db *sql.DB
}

func (s sqlUsage) Used(ctx context.Context, userID int, period string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `SELECT used FROM script_usage WHERE user_id = ? AND period = ?`, userID, period).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return used, err
}

func (s sqlUsage) Reserve(ctx context.Context, userID int, period string, limit int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO script_usage (user_id, period, used) VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE used = IF(used < ?, used + 1, used)`,
		userID, period, limit)
	if err != nil {
		return false, err
	}
	// MySQL reports 1 for an insert, 2 for an update that changed the row
	// and 0 when the guard left it untouched.
	affected, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return affected != 0, nil
}

func (s sqlUsage) Release(ctx context.Context, userID int, period string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE script_usage SET used = GREATEST(used - 1, 0) WHERE user_id = ? AND period = ?`, userID, period)
	return err
}

// Engine decides whether a user may generate another script. The counter is
// the shared store, so the answer does not depend on which instance serves
// the request.
type Engine struct {
	store usageStore
	subs  subscriptionSource
}

func NewEngine(db *sql.DB, subs *subscriptions.Repository) *Engine {
	return &Engine{store: sqlUsage{db: db}, subs: subs}
}

// period returns the usage row key for a limit type: a fixed sentinel for
// lifetime quotas, the local date for daily quotas. Crossing local midnight
// therefore lands on a fresh zero row, so the daily reset needs no bookkeeping.
func period(lt plans.LimitType, now time.Time) string {
	if lt == plans.LimitTotal {
		return "total"
	}
	return now.Format("2006-01-02")
}

func (e *Engine) resolvePlan(ctx context.Context, userID int) plans.Plan {
	sub, err := e.subs.GetCurrentSubscription(ctx, userID)
	if err != nil || sub == nil {
		// The store fails open, so this is belt and braces.
		log.Printf("[quota][fallback] user_id=%d reason=subscription_unresolved err=%v", userID, err)
		return plans.Resolve(plans.Free)
	}
	return plans.Resolve(sub.Plan)
}

// CheckLimit reports whether the user may generate another script and how
// many remain. Storage errors degrade to the Free plan's full limit; a limit
// check never blocks a user because the store is down, and Remaining is
// never negative.
func (e *Engine) CheckLimit(ctx context.Context, userID int) Limit {
	plan := e.resolvePlan(ctx, userID)
	periodKey := period(plan.LimitType, time.Now())
	used, err := e.store.Used(ctx, userID, periodKey)
	if err != nil {
		log.Printf("[quota][fallback] user_id=%d plan=%s reason=usage_read_error err=%v", userID, plan.ID, err)
		free := plans.Resolve(plans.Free)
		return Limit{CanGenerate: true, Remaining: free.Limit, Total: free.Limit, LimitType: free.LimitType, PlanName: free.Name}
	}
	remaining := plan.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Limit{
		CanGenerate: used < plan.Limit,
		Remaining:   remaining,
		Total:       plan.Limit,
		LimitType:   plan.LimitType,
		PlanName:    plan.Name,
	}
}

// Consume reserves one generation. The reservation is a single conditional
// increment executed by the store, so two concurrent consumers at
// remaining=1 cannot both succeed. Returns the post-consume Limit, or
// ErrQuotaExhausted when the guard fails.
func (e *Engine) Consume(ctx context.Context, userID int) (Limit, error) {
	if os.Getenv("QUOTA_DISABLE") == "1" {
		log.Printf("[quota][bypass] user_id=%d QUOTA_DISABLE=1", userID)
		free := plans.Resolve(plans.Free)
		return Limit{CanGenerate: true, Remaining: free.Limit, Total: free.Limit, LimitType: free.LimitType, PlanName: free.Name}, nil
	}
	plan := e.resolvePlan(ctx, userID)
	periodKey := period(plan.LimitType, time.Now())
	reserved, err := e.store.Reserve(ctx, userID, periodKey, plan.Limit)
	if err != nil {
		// Availability over strict enforcement, same as CheckLimit.
		log.Printf("[quota][fallback] user_id=%d plan=%s reason=consume_error err=%v", userID, plan.ID, err)
		return Limit{CanGenerate: true, Remaining: plan.Limit, Total: plan.Limit, LimitType: plan.LimitType, PlanName: plan.Name}, nil
	}
	if !reserved {
		log.Printf("[quota][exhausted] user_id=%d plan=%s period=%s limit=%d", userID, plan.ID, periodKey, plan.Limit)
		return Limit{CanGenerate: false, Remaining: 0, Total: plan.Limit, LimitType: plan.LimitType, PlanName: plan.Name}, ErrQuotaExhausted
	}
	used, uerr := e.store.Used(ctx, userID, periodKey)
	if uerr != nil {
		used = plan.Limit // conservative display value; the reservation already happened
	}
	remaining := plan.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	log.Printf("[quota][consume] user_id=%d plan=%s period=%s used=%d remaining=%d", userID, plan.ID, periodKey, used, remaining)
	return Limit{
		CanGenerate: used < plan.Limit,
		Remaining:   remaining,
		Total:       plan.Limit,
		LimitType:   plan.LimitType,
		PlanName:    plan.Name,
	}, nil
}

// Release returns one reserved generation after a failed attempt, clamped at
// zero so retries can never drive the counter negative.
func (e *Engine) Release(ctx context.Context, userID int) {
	plan := e.resolvePlan(ctx, userID)
	periodKey := period(plan.LimitType, time.Now())
	if err := e.store.Release(ctx, userID, periodKey); err != nil {
		log.Printf("[quota][release_failed] user_id=%d period=%s err=%v", userID, periodKey, err)
	}
}
