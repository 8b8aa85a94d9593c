package domain

import "time"

// PatternObservation is one observed outcome for a named pattern,
// reported by the offline learner alongside weight adjustments.
type PatternObservation struct {
	Pattern string  `json:"pattern"`
	Success bool    `json:"success"`
	Return  float64 `json:"return"`
}

// LearningData is the per-cycle learning payload. WeightAdjustments are
// additive deltas keyed by weight name; keys absent from the configured
// WeightBounds are ignored by the engine (and logged), never applied.
type LearningData struct {
	WeightAdjustments map[string]float64   `json:"weight_adjustments,omitempty"`
	Patterns          []PatternObservation `json:"patterns,omitempty"`
}

// MergePatterns folds observations into the state's learned patterns.
// Existing entries are only ever added to.
func (b *BrainState) MergePatterns(obs []PatternObservation, now time.Time) {
	if len(obs) == 0 {
		return
	}
	if b.LearnedPatterns == nil {
		b.LearnedPatterns = make(map[string]PatternStats)
	}
	for _, o := range obs {
		if o.Pattern == "" {
			continue
		}
		stats := b.LearnedPatterns[o.Pattern]
		stats.Observations++
		if o.Success {
			stats.Successes++
		}
		stats.TotalReturn += o.Return
		stats.LastSeen = now
		b.LearnedPatterns[o.Pattern] = stats
	}
}
