package subscriptions

import (
	"time"

	"scriptgenius-backend/plans"
)

// Status is the lifecycle state of a subscription. Records are never hard
// deleted, only transitioned to cancelled.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

// Subscription is the canonical per-user record. Gateway-side history is
// kept separately in subscription_events; this row is the single source of
// truth for the user's current plan.
type Subscription struct {
	UserID                int          `json:"user_id"`
	Plan                  plans.PlanID `json:"plan"`
	Status                Status       `json:"status"`
	GatewaySubscriptionID string       `json:"gateway_subscription_id,omitempty"`
	CurrentPeriodStart    *time.Time   `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time   `json:"current_period_end,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	PlanDetails           *plans.Plan  `json:"plan_details,omitempty"`
}

// Event is one append-only entry in the gateway subscription history.
type Event struct {
	ID                    int          `json:"id"`
	GatewaySubscriptionID string       `json:"gateway_subscription_id"`
	UserID                int          `json:"user_id"`
	Plan                  plans.PlanID `json:"plan"`
	Status                Status       `json:"status"`
	PeriodEnd             *time.Time   `json:"period_end,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}
