package plans

import "testing"

func TestParsePlanIDUnknownFallsBackToFree(t *testing.T) {
	cases := []string{"", "gold", "FREE ", "enterprise", "  "}
	for _, in := range cases {
		if got := ParsePlanID(in); got != Free {
			t.Errorf("ParsePlanID(%q) = %s, want free", in, got)
		}
	}
}

func TestParsePlanIDCaseInsensitive(t *testing.T) {
	if ParsePlanID("Starter") != Starter {
		t.Error("Starter not recognized")
	}
	if ParsePlanID("PRO") != Pro {
		t.Error("PRO not recognized")
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	p := Resolve(PlanID("bogus"))
	if p.ID != Free {
		t.Fatalf("unknown id resolved to %s, want free", p.ID)
	}
	if p.Limit <= 0 {
		t.Fatal("free plan must have a positive limit")
	}
	if p.LimitType != LimitTotal {
		t.Fatalf("free plan limit type = %s, want total", p.LimitType)
	}
}

func TestRegistryShape(t *testing.T) {
	for _, p := range All() {
		if p.Limit <= 0 {
			t.Errorf("plan %s has non-positive limit", p.ID)
		}
		if p.LimitType != LimitTotal && p.LimitType != LimitDaily {
			t.Errorf("plan %s has bad limit type %q", p.ID, p.LimitType)
		}
		if len(p.Features) == 0 {
			t.Errorf("plan %s has no features", p.ID)
		}
	}
}
