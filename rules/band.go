package rules

import "time"

// DefaultBandLabel is used to name the bucket partition of a band that
// carries no explicit label.
const DefaultBandLabel = "default"

// Band is a single rate dimension: up to Capacity permits per Window.
// Bands are immutable once attached to a rule.
type Band struct {
	Window   time.Duration `json:"window"`
	Capacity int64         `json:"capacity"`
	Label    string        `json:"label,omitempty"`
}

// BucketLabel returns the label used to partition bucket keys for this band.
func (b Band) BucketLabel() string {
	if b.Label == "" {
		return DefaultBandLabel
	}
	return b.Label
}

func (b Band) Validate() error {
	if b.Capacity < 1 {
		return NewInvalidCapacityError(b.Capacity)
	}
	if b.Window <= 0 {
		return NewInvalidWindowError(b.Window)
	}
	return nil
}
