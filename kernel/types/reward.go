package types

import "time"

// RewardSignal is a scalar reward derived from a pipeline or episode
// outcome, broken down by component.
type RewardSignal struct {
	Total      float64
	Breakdown  map[string]float64
	Dimensions []string
	ComputedAt time.Time
}
