package domain

import "time"

// AudienceSegment is a named, saved targeting rule together with the
// audience estimate computed when it was last saved.
type AudienceSegment struct {
	ID             string        `json:"id" db:"id"`
	Name           string        `json:"name" db:"name"`
	Description    string        `json:"description,omitempty" db:"description"`
	Rule           TargetingRule `json:"rule" db:"rule"`
	BasePopulation int64         `json:"base_population" db:"base_population"`
	EstimatedSize  int64         `json:"estimated_size" db:"estimated_size"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}
