package service

import (
	"math/rand"
	"sort"

	"github.com/scoutlabs/brain/internal/domain"
)

// DefaultMutationRate is the half-width of the uniform multiplicative
// perturbation applied to each weight on rebirth.
const DefaultMutationRate = 0.30

// MutationEngine perturbs a weight table for a reborn generation. Given
// the same seed and input it produces the same output.
type MutationEngine struct {
	bounds domain.WeightBounds
	rate   float64
}

func NewMutationEngine(bounds domain.WeightBounds, rate float64) *MutationEngine {
	if rate <= 0 {
		rate = DefaultMutationRate
	}
	return &MutationEngine{bounds: bounds, rate: rate}
}

// Mutate returns a new weight table where each bounded weight w becomes
// clamp(w*(1+u), min, max) with u uniform in [-rate, +rate], then
// renormalizes any normalization groups. Weights without a configured
// spec pass through unchanged.
func (e *MutationEngine) Mutate(weights map[string]float64, seed int64) map[string]float64 {
	rng := rand.New(rand.NewSource(seed))

	// Draw in sorted key order so the seed fully determines the output.
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	mutated := make(map[string]float64, len(weights))
	for _, name := range names {
		w := weights[name]
		spec, ok := e.bounds[name]
		if !ok {
			mutated[name] = w
			continue
		}
		u := (rng.Float64()*2 - 1) * e.rate
		mutated[name] = spec.Clamp(w * (1 + u))
	}

	e.bounds.Normalize(mutated)
	return mutated
}
