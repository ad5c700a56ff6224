package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrInvalidRule is returned when a targeting rule carries a value outside
// its closed set.
var ErrInvalidRule = errors.New("invalid targeting rule")

// Role is the marketplace role a user holds.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleBoth   Role = "both"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleBoth:
		return true
	}
	return false
}

// Tenure buckets how long a user has been registered.
type Tenure string

const (
	TenureUnset      Tenure = ""
	TenureUnder7Days Tenure = "<7d"
	Tenure7To30Days  Tenure = "7-30d"
	Tenure30To90Days Tenure = "30-90d"
	TenureOver90Days Tenure = ">90d"
)

// Valid reports whether t is unset or a known bucket.
func (t Tenure) Valid() bool {
	switch t {
	case TenureUnset, TenureUnder7Days, Tenure7To30Days, Tenure30To90Days, TenureOver90Days:
		return true
	}
	return false
}

// KYCStatus is the identity verification state of a user.
type KYCStatus string

const (
	KYCUnset      KYCStatus = ""
	KYCVerified   KYCStatus = "verified"
	KYCPending    KYCStatus = "pending"
	KYCRejected   KYCStatus = "rejected"
	KYCNotStarted KYCStatus = "not-started"
)

// Valid reports whether k is unset or a known status.
func (k KYCStatus) Valid() bool {
	switch k {
	case KYCUnset, KYCVerified, KYCPending, KYCRejected, KYCNotStarted:
		return true
	}
	return false
}

// ActivityStatus describes recent user engagement.
type ActivityStatus string

const (
	ActivityUnset       ActivityStatus = ""
	ActivityActive      ActivityStatus = "active"
	ActivityInactive14d ActivityStatus = "inactive-14d"
	ActivityInactive30d ActivityStatus = "inactive-30d"
	ActivityChurnRisk   ActivityStatus = "churn-risk"
)

// Valid reports whether a is unset or a known status.
func (a ActivityStatus) Valid() bool {
	switch a {
	case ActivityUnset, ActivityActive, ActivityInactive14d, ActivityInactive30d, ActivityChurnRisk:
		return true
	}
	return false
}

// TargetingRule selects an audience. An empty or unset field applies no
// filter. Fields are independent of each other.
type TargetingRule struct {
	Roles          []Role         `json:"roles,omitempty"`
	Tenure         Tenure         `json:"tenure,omitempty"`
	Cities         []string       `json:"cities,omitempty"`
	KYCStatus      KYCStatus      `json:"kyc_status,omitempty"`
	ActivityStatus ActivityStatus `json:"activity_status,omitempty"`
	Languages      []string       `json:"languages,omitempty"`
}

// IsEmpty reports whether no filter is populated.
func (r TargetingRule) IsEmpty() bool {
	return len(r.Roles) == 0 && r.Tenure == TenureUnset && len(r.Cities) == 0 &&
		r.KYCStatus == KYCUnset && r.ActivityStatus == ActivityUnset && len(r.Languages) == 0
}

// Validate rejects values outside the closed enums, blank city names and
// language codes that are not well-formed BCP 47 tags. Every problem found
// is reported, wrapped in ErrInvalidRule.
func (r TargetingRule) Validate() error {
	var problems []string

	for _, role := range r.Roles {
		if !role.Valid() {
			problems = append(problems, fmt.Sprintf("unknown role %q", role))
		}
	}
	if !r.Tenure.Valid() {
		problems = append(problems, fmt.Sprintf("unknown tenure %q", r.Tenure))
	}
	for i, city := range r.Cities {
		if strings.TrimSpace(city) == "" {
			problems = append(problems, fmt.Sprintf("city #%d is blank", i+1))
		}
	}
	if !r.KYCStatus.Valid() {
		problems = append(problems, fmt.Sprintf("unknown kyc status %q", r.KYCStatus))
	}
	if !r.ActivityStatus.Valid() {
		problems = append(problems, fmt.Sprintf("unknown activity status %q", r.ActivityStatus))
	}
	for _, code := range r.Languages {
		if _, err := language.Parse(code); err != nil {
			problems = append(problems, fmt.Sprintf("bad language code %q", code))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}
