package domain

// WeightSpec configures one tunable weight: its valid range and, when
// Group is non-empty, the normalization group it belongs to (all weights
// in a group are rescaled to sum to 1 after clamping).
type WeightSpec struct {
	Min   float64
	Max   float64
	Group string
}

// GroupScoring is the normalization group for the scoring weights.
const GroupScoring = "scoring"

// WeightBounds maps weight names to their specs. Every weight the engine
// will accept an adjustment for must appear here; there is no global
// fallback clamp.
type WeightBounds map[string]WeightSpec

// DefaultWeightBounds mirrors the shipped weight table: discovery source
// multipliers range over [0.5, 2.0], scoring weights over [0, 1] and are
// renormalized as a group.
func DefaultWeightBounds() WeightBounds {
	b := WeightBounds{}
	for _, name := range []string{
		"indices", "etfs", "news", "sectors",
		"trending", "websites", "micro_cap_screeners", "penny_stock_sources",
	} {
		b[name] = WeightSpec{Min: 0.5, Max: 2.0}
	}
	for _, name := range []string{
		"momentum", "catalyst", "volume",
		"sentiment", "micro_cap_risk", "technical_pattern",
	} {
		b[name] = WeightSpec{Min: 0, Max: 1, Group: GroupScoring}
	}
	return b
}

// DefaultWeights returns the generation-0 weight values.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"indices":             1.0,
		"etfs":                1.0,
		"news":                1.2,
		"sectors":             1.0,
		"trending":            1.3,
		"websites":            1.1,
		"micro_cap_screeners": 1.5,
		"penny_stock_sources": 1.4,

		"momentum":          0.25,
		"catalyst":          0.20,
		"volume":            0.15,
		"sentiment":         0.15,
		"micro_cap_risk":    0.15,
		"technical_pattern": 0.10,
	}
}

// Clamp pins v into the spec's range.
func (s WeightSpec) Clamp(v float64) float64 {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Recognized reports whether the engine accepts adjustments for name.
func (b WeightBounds) Recognized(name string) bool {
	_, ok := b[name]
	return ok
}

// Normalize rescales every normalization group in weights so each group
// sums to 1. Groups whose clamped sum is zero are left untouched.
func (b WeightBounds) Normalize(weights map[string]float64) {
	sums := map[string]float64{}
	for name, v := range weights {
		if spec, ok := b[name]; ok && spec.Group != "" {
			sums[spec.Group] += v
		}
	}
	for name, v := range weights {
		spec, ok := b[name]
		if !ok || spec.Group == "" {
			continue
		}
		if sum := sums[spec.Group]; sum > 0 {
			weights[name] = v / sum
		}
	}
}

// InBounds reports whether every weight with a spec lies inside it.
func (b WeightBounds) InBounds(weights map[string]float64) bool {
	const eps = 1e-9
	for name, v := range weights {
		spec, ok := b[name]
		if !ok {
			continue
		}
		// Normalized groups may legitimately land below a member's raw
		// clamp ceiling, never above Max or below zero.
		if v < spec.Min-eps && spec.Group == "" {
			return false
		}
		if v < -eps || v > spec.Max+eps {
			return false
		}
	}
	return true
}
