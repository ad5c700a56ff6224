package audience

import (
	"math"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/shopspring/decimal"
)

// Discount applied by each populated filter. Cities use len(cities)/10
// instead of a fixed factor.
var (
	roleFactor     = decimal.RequireFromString("0.5")
	tenureFactor   = decimal.RequireFromString("0.3")
	kycFactor      = decimal.RequireFromString("0.6")
	activityFactor = decimal.RequireFromString("0.4")

	maxEstimate = decimal.NewFromInt(math.MaxInt64)
)

// Factor is one multiplier applied during an estimate.
type Factor struct {
	Field      string          `json:"field"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Breakdown explains how an estimate was produced.
type Breakdown struct {
	Base     int64    `json:"base"`
	Estimate int64    `json:"estimate"`
	Factors  []Factor `json:"factors"`
	// Ignored lists populated fields that are collected by the segment
	// builder but do not discount the estimate.
	Ignored []string `json:"ignored,omitempty"`
}

// Estimate returns the estimated number of users matched by rule out of a
// population of base users. Unset fields apply no filter. The product is
// truncated, never rounded. More than ten cities yield a multiplier above
// one, so the estimate can exceed base.
func Estimate(base float64, rule domain.TargetingRule) int64 {
	return Explain(base, rule).Estimate
}

// Explain computes the same estimate as Estimate and reports each factor.
// Negative or non-finite bases are treated as zero and results beyond
// int64 saturate at math.MaxInt64.
func Explain(base float64, rule domain.TargetingRule) Breakdown {
	if base < 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		base = 0
	}

	value := decimal.NewFromFloat(base)
	b := Breakdown{
		Base:    floorInt(value),
		Factors: make([]Factor, 0, 5),
	}

	apply := func(field string, m decimal.Decimal) {
		value = value.Mul(m)
		b.Factors = append(b.Factors, Factor{Field: field, Multiplier: m})
	}

	if len(rule.Roles) > 0 {
		apply("roles", roleFactor)
	}
	if rule.Tenure != domain.TenureUnset {
		apply("tenure", tenureFactor)
	}
	if len(rule.Cities) > 0 {
		apply("cities", decimal.New(int64(len(rule.Cities)), -1))
	}
	if rule.KYCStatus != domain.KYCUnset {
		apply("kyc_status", kycFactor)
	}
	if rule.ActivityStatus != domain.ActivityUnset {
		apply("activity_status", activityFactor)
	}
	// TODO: decide with the growth team whether language should discount the
	// estimate; the segment builder collects it but never applied it.
	if len(rule.Languages) > 0 {
		b.Ignored = append(b.Ignored, "languages")
	}

	b.Estimate = floorInt(value)
	return b
}

func floorInt(d decimal.Decimal) int64 {
	d = d.Floor()
	if d.GreaterThan(maxEstimate) {
		return math.MaxInt64
	}
	return d.IntPart()
}
