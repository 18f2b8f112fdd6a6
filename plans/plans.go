package plans

import "strings"

// PlanID identifies a subscription plan. Plan identity is resolved once at
// the boundary via ParsePlanID; everything past that point works with the
// enumerated type, never raw strings.
type PlanID string

const (
	Free    PlanID = "free"
	Starter PlanID = "starter"
	Pro     PlanID = "pro"
)

// LimitType selects the counting window for a plan's script quota.
type LimitType string

const (
	// LimitTotal: the quota covers the lifetime of the account and is
	// never replenished.
	LimitTotal LimitType = "total"
	// LimitDaily: the quota replenishes every calendar day (server local
	// date).
	LimitDaily LimitType = "daily"
)

type Plan struct {
	ID        PlanID    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Limit     int       `json:"limit"`
	LimitType LimitType `json:"limit_type"`
	Features  []string  `json:"features"`
}

var registry = map[PlanID]Plan{
	Free: {
		ID:        Free,
		Name:      "Free",
		Price:     0,
		Currency:  "INR",
		Limit:     5,
		LimitType: LimitTotal,
		Features: []string{
			"5 scripts total",
			"1 theme",
			"Community support",
		},
	},
	Starter: {
		ID:        Starter,
		Name:      "Starter",
		Price:     499,
		Currency:  "INR",
		Limit:     50,
		LimitType: LimitDaily,
		Features: []string{
			"50 scripts per day",
			"5 themes",
			"Basic support",
			"24/7 email support",
			"Access to basic templates",
		},
	},
	Pro: {
		ID:        Pro,
		Name:      "Pro",
		Price:     1999,
		Currency:  "INR",
		Limit:     200,
		LimitType: LimitDaily,
		Features: []string{
			"200 scripts per day",
			"All themes",
			"Priority support",
			"Custom themes",
			"Advanced analytics",
			"Custom branding",
		},
	},
}

// ParsePlanID maps a plan name to its PlanID. Unknown or empty names resolve
// to Free so a bad stored value can never block a user.
func ParsePlanID(name string) PlanID {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(Starter):
		return Starter
	case string(Pro):
		return Pro
	default:
		return Free
	}
}

// Resolve returns the Plan for an id. Ids that are not in the registry
// resolve to the Free plan.
func Resolve(id PlanID) Plan {
	if p, ok := registry[id]; ok {
		return p
	}
	return registry[Free]
}

// All returns the plans in display order.
func All() []Plan {
	return []Plan{registry[Free], registry[Starter], registry[Pro]}
}
