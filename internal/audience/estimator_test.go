package audience

import (
	"math"
	"testing"

	"github.com/ignite/marketplace-ops/internal/domain"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		base float64
		rule domain.TargetingRule
		want int64
	}{
		{"empty rule keeps base", 50000, domain.TargetingRule{}, 50000},
		{"role only", 50000, domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}}, 25000},
		{"role count does not matter", 50000, domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer, domain.RoleSeller, domain.RoleBoth}}, 25000},
		{"seller verified", 50000, domain.TargetingRule{Roles: []domain.Role{domain.RoleSeller}, KYCStatus: domain.KYCVerified}, 15000},
		{"tenure", 50000, domain.TargetingRule{Tenure: domain.TenureOver90Days}, 15000},
		{"two cities", 50000, domain.TargetingRule{Cities: []string{"Lagos", "Nairobi"}}, 10000},
		{"ten cities is neutral", 1000, domain.TargetingRule{Cities: make10("c")}, 1000},
		{"twelve cities grows", 1000, domain.TargetingRule{Cities: append(make10("c"), "x", "y")}, 1200},
		{"activity", 50000, domain.TargetingRule{ActivityStatus: domain.ActivityChurnRisk}, 20000},
		{"languages ignored", 50000, domain.TargetingRule{Languages: []string{"en", "sw"}}, 50000},
		{"all filters", 50000, domain.TargetingRule{
			Roles:          []domain.Role{domain.RoleBuyer},
			Tenure:         domain.Tenure7To30Days,
			Cities:         []string{"Accra"},
			KYCStatus:      domain.KYCPending,
			ActivityStatus: domain.ActivityActive,
		}, 180},
		{"truncates not rounds", 7, domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}}, 3},
		{"fractional base", 99.9, domain.TargetingRule{}, 99},
		{"zero base", 0, domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}}, 0},
		{"negative base clamps", -500, domain.TargetingRule{}, 0},
		{"base beyond int64 saturates", 1e19, domain.TargetingRule{}, math.MaxInt64},
		{"huge base saturates", 1e20, domain.TargetingRule{}, math.MaxInt64},
		{"filters below the cap", 1e19, domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}}, 5000000000000000000},
		{"city growth saturates", 9e18, domain.TargetingRule{Cities: append(make10("c"), make10("d")...)}, math.MaxInt64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Estimate(tc.base, tc.rule); got != tc.want {
				t.Errorf("Estimate(%v) = %d, want %d", tc.base, got, tc.want)
			}
		})
	}
}

func make10(prefix string) []string {
	out := make([]string, 10)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestEstimate_NeverExceedsBaseWithFewCities(t *testing.T) {
	rules := []domain.TargetingRule{
		{},
		{Roles: []domain.Role{domain.RoleSeller}},
		{Cities: make10("k")},
		{Tenure: domain.TenureUnder7Days, KYCStatus: domain.KYCRejected},
		{Roles: []domain.Role{domain.RoleBoth}, ActivityStatus: domain.ActivityInactive30d, Cities: []string{"a", "b", "c"}},
	}
	for _, base := range []float64{0, 1, 13, 50000, 1234567} {
		for i, r := range rules {
			got := Estimate(base, r)
			if got < 0 || float64(got) > base {
				t.Errorf("rule %d base %v: estimate %d outside [0, base]", i, base, got)
			}
		}
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	rule := domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}, Tenure: domain.Tenure30To90Days, Cities: []string{"a", "b", "c"}}
	first := Estimate(33333, rule)
	for i := 0; i < 100; i++ {
		if got := Estimate(33333, rule); got != first {
			t.Fatalf("run %d: got %d, want %d", i, got, first)
		}
	}
}

func TestEstimate_AddingFilterNeverIncreases(t *testing.T) {
	base := 50000.0
	rule := domain.TargetingRule{}
	prev := Estimate(base, rule)

	steps := []func(*domain.TargetingRule){
		func(r *domain.TargetingRule) { r.Roles = []domain.Role{domain.RoleBuyer} },
		func(r *domain.TargetingRule) { r.Tenure = domain.TenureOver90Days },
		func(r *domain.TargetingRule) { r.Cities = []string{"Lagos"} },
		func(r *domain.TargetingRule) { r.KYCStatus = domain.KYCVerified },
		func(r *domain.TargetingRule) { r.ActivityStatus = domain.ActivityActive },
	}
	for i, step := range steps {
		step(&rule)
		got := Estimate(base, rule)
		if got > prev {
			t.Errorf("step %d: estimate grew from %d to %d", i, prev, got)
		}
		prev = got
	}
}

func TestExplain(t *testing.T) {
	b := Explain(50000, domain.TargetingRule{
		Roles:     []domain.Role{domain.RoleSeller},
		KYCStatus: domain.KYCVerified,
		Languages: []string{"fr"},
	})

	if b.Base != 50000 {
		t.Errorf("Base = %d, want 50000", b.Base)
	}
	if b.Estimate != 15000 {
		t.Errorf("Estimate = %d, want 15000", b.Estimate)
	}
	if len(b.Factors) != 2 {
		t.Fatalf("len(Factors) = %d, want 2", len(b.Factors))
	}
	if b.Factors[0].Field != "roles" || b.Factors[0].Multiplier.String() != "0.5" {
		t.Errorf("Factors[0] = %+v", b.Factors[0])
	}
	if b.Factors[1].Field != "kyc_status" || b.Factors[1].Multiplier.String() != "0.6" {
		t.Errorf("Factors[1] = %+v", b.Factors[1])
	}
	if len(b.Ignored) != 1 || b.Ignored[0] != "languages" {
		t.Errorf("Ignored = %v, want [languages]", b.Ignored)
	}
}
