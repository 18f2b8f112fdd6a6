package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"scriptgenius-backend/plans"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// freeDefault is the in-memory fallback returned when storage is unavailable.
// Availability over strict enforcement: a user is never blocked because the
// subscription store is down.
func freeDefault(userID int) *Subscription {
	p := plans.Resolve(plans.Free)
	now := time.Now()
	return &Subscription{
		UserID:      userID,
		Plan:        plans.Free,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		PlanDetails: &p,
	}
}

func attachPlan(s *Subscription) *Subscription {
	p := plans.Resolve(s.Plan)
	s.PlanDetails = &p
	return s
}

// GetCurrentSubscription resolves the user's subscription: the canonical
// user row first, then the latest active gateway event (merged back into the
// user row), then a synthesized Free/active default that is persisted for
// next time. Storage failures are logged and degrade to an in-memory Free
// record; callers always receive a usable value.
func (r *Repository) GetCurrentSubscription(ctx context.Context, userID int) (*Subscription, error) {
	sub, err := r.getUserRow(ctx, userID)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("[subscriptions][fallback] user_id=%d reason=read_error err=%v", userID, err)
		return freeDefault(userID), nil
	}
	if sub != nil {
		return attachPlan(sub), nil
	}

	// No user row: adopt the most recent active gateway event, if any.
	ev, err := r.latestActiveEvent(ctx, userID)
	if err != nil {
		log.Printf("[subscriptions][fallback] user_id=%d reason=event_read_error err=%v", userID, err)
		return freeDefault(userID), nil
	}
	if ev != nil {
		merged := &Subscription{
			UserID:                userID,
			Plan:                  ev.Plan,
			Status:                ev.Status,
			GatewaySubscriptionID: ev.GatewaySubscriptionID,
			CurrentPeriodEnd:      ev.PeriodEnd,
		}
		if err := r.upsertUserRow(ctx, merged); err != nil {
			log.Printf("[subscriptions][backfill_failed] user_id=%d err=%v", userID, err)
		}
		return attachPlan(merged), nil
	}

	// Fresh user: synthesize and persist the Free default.
	def := freeDefault(userID)
	if err := r.upsertUserRow(ctx, def); err != nil {
		log.Printf("[subscriptions][fallback] user_id=%d reason=default_persist_error err=%v", userID, err)
	}
	return def, nil
}

func (r *Repository) getUserRow(ctx context.Context, userID int) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, plan, status, gateway_subscription_id, current_period_start, current_period_end, created_at, updated_at
		FROM subscriptions WHERE user_id = ? LIMIT 1`, userID)
	var s Subscription
	var planName, status string
	var start, end sql.NullTime
	if err := row.Scan(&s.UserID, &planName, &status, &s.GatewaySubscriptionID, &start, &end, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	s.Plan = plans.ParsePlanID(planName)
	s.Status = Status(status)
	if start.Valid {
		s.CurrentPeriodStart = &start.Time
	}
	if end.Valid {
		s.CurrentPeriodEnd = &end.Time
	}
	return &s, nil
}

func (r *Repository) latestActiveEvent(ctx context.Context, userID int) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, gateway_subscription_id, user_id, plan, status, period_end, created_at
		FROM subscription_events WHERE user_id = ? AND status = ? ORDER BY id DESC LIMIT 1`, userID, string(StatusActive))
	var ev Event
	var planName, status string
	var end sql.NullTime
	if err := row.Scan(&ev.ID, &ev.GatewaySubscriptionID, &ev.UserID, &planName, &status, &end, &ev.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ev.Plan = plans.ParsePlanID(planName)
	ev.Status = Status(status)
	if end.Valid {
		ev.PeriodEnd = &end.Time
	}
	return &ev, nil
}

func (r *Repository) upsertUserRow(ctx context.Context, s *Subscription) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO subscriptions (user_id, plan, status, gateway_subscription_id, current_period_start, current_period_end)
		VALUES (?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE plan=VALUES(plan), status=VALUES(status), gateway_subscription_id=VALUES(gateway_subscription_id),
			current_period_start=VALUES(current_period_start), current_period_end=VALUES(current_period_end)`,
		s.UserID, string(s.Plan), string(s.Status), s.GatewaySubscriptionID, s.CurrentPeriodStart, s.CurrentPeriodEnd)
	return err
}

// AppendEvent records one gateway-side state change in the history table.
func (r *Repository) AppendEvent(ctx context.Context, ev *Event) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO subscription_events (gateway_subscription_id, user_id, plan, status, period_end)
		VALUES (?,?,?,?,?)`, ev.GatewaySubscriptionID, ev.UserID, string(ev.Plan), string(ev.Status), ev.PeriodEnd)
	return err
}

// UserIDForGatewaySubscription maps a gateway subscription id to its owning
// user, checking the canonical row first and the event history second.
func (r *Repository) UserIDForGatewaySubscription(ctx context.Context, gatewaySubID string) (int, error) {
	var userID int
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM subscriptions WHERE gateway_subscription_id = ? LIMIT 1`, gatewaySubID).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	err = r.db.QueryRowContext(ctx, `SELECT user_id FROM subscription_events WHERE gateway_subscription_id = ? ORDER BY id DESC LIMIT 1`, gatewaySubID).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrSubscriptionNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// Activate moves the user to a paid plan, updating the canonical row and
// appending the gateway event.
func (r *Repository) Activate(ctx context.Context, userID int, plan plans.PlanID, gatewaySubID string, periodStart, periodEnd *time.Time) error {
	s := &Subscription{
		UserID:                userID,
		Plan:                  plan,
		Status:                StatusActive,
		GatewaySubscriptionID: gatewaySubID,
		CurrentPeriodStart:    periodStart,
		CurrentPeriodEnd:      periodEnd,
	}
	if err := r.upsertUserRow(ctx, s); err != nil {
		return err
	}
	return r.AppendEvent(ctx, &Event{
		GatewaySubscriptionID: gatewaySubID,
		UserID:                userID,
		Plan:                  plan,
		Status:                StatusActive,
		PeriodEnd:             periodEnd,
	})
}

// SetSubscriptionStatus transitions the status of the subscription owned by
// a gateway id. Cancellation forces the plan back to Free and clears the
// paid period. The plan argument is ignored for cancellations.
func (r *Repository) SetSubscriptionStatus(ctx context.Context, gatewaySubID string, status Status, plan plans.PlanID, periodEnd *time.Time) error {
	userID, err := r.UserIDForGatewaySubscription(ctx, gatewaySubID)
	if err != nil {
		return err
	}
	if status == StatusCancelled {
		plan = plans.Free
		periodEnd = nil
	}
	sub := &Subscription{
		UserID:                userID,
		Plan:                  plan,
		Status:                status,
		GatewaySubscriptionID: gatewaySubID,
		CurrentPeriodEnd:      periodEnd,
	}
	if err := r.upsertUserRow(ctx, sub); err != nil {
		return err
	}
	return r.AppendEvent(ctx, &Event{
		GatewaySubscriptionID: gatewaySubID,
		UserID:                userID,
		Plan:                  plan,
		Status:                status,
		PeriodEnd:             periodEnd,
	})
}

// Cancel verifies the gateway subscription exists and transitions it to
// cancelled, downgrading the user to Free.
func (r *Repository) Cancel(ctx context.Context, gatewaySubID string) error {
	if _, err := r.UserIDForGatewaySubscription(ctx, gatewaySubID); err != nil {
		return err
	}
	return r.SetSubscriptionStatus(ctx, gatewaySubID, StatusCancelled, plans.Free, nil)
}

// RenewPeriod extends the current paid period after a successful charge.
func (r *Repository) RenewPeriod(ctx context.Context, gatewaySubID string, periodEnd time.Time) error {
	userID, err := r.UserIDForGatewaySubscription(ctx, gatewaySubID)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE subscriptions SET status=?, current_period_end=? WHERE user_id=?`,
		string(StatusActive), periodEnd, userID)
	if err != nil {
		return err
	}
	cur, err := r.getUserRow(ctx, userID)
	if err != nil {
		return err
	}
	return r.AppendEvent(ctx, &Event{
		GatewaySubscriptionID: gatewaySubID,
		UserID:                userID,
		Plan:                  cur.Plan,
		Status:                StatusActive,
		PeriodEnd:             &periodEnd,
	})
}
