package service

import (
	"fmt"
	"time"

	"github.com/scoutlabs/brain/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultPerformanceThreshold = 0.5
	DefaultZombieGracePeriod    = 5
)

// EvolutionConfig holds the kill-gate parameters.
type EvolutionConfig struct {
	// PerformanceThreshold is the kill-gate: scores below it push the
	// generation toward zombie and, eventually, a kill.
	PerformanceThreshold float64
	// ZombieGracePeriod is how many consecutive sub-threshold cycles a
	// generation survives before it is killed.
	ZombieGracePeriod int
}

func DefaultEvolutionConfig() EvolutionConfig {
	return EvolutionConfig{
		PerformanceThreshold: DefaultPerformanceThreshold,
		ZombieGracePeriod:    DefaultZombieGracePeriod,
	}
}

// EvolutionResult is one evolution step. Killed is non-nil only when the
// step crossed the kill-gate: it holds the retired generation (archived
// for history, never persisted as current) and Next holds the reborn one.
type EvolutionResult struct {
	Next   *domain.BrainState
	Killed *domain.BrainState
}

// EvolutionEngine advances a brain state one cycle: it merges learning
// adjustments, applies the kill-gate, and on a kill births the next
// generation with mutated weights.
type EvolutionEngine struct {
	cfg     EvolutionConfig
	bounds  domain.WeightBounds
	mutator *MutationEngine
	logger  *zap.Logger

	seedFn func() int64
}

func NewEvolutionEngine(cfg EvolutionConfig, bounds domain.WeightBounds, mutator *MutationEngine, logger *zap.Logger) *EvolutionEngine {
	if cfg.PerformanceThreshold <= 0 {
		cfg.PerformanceThreshold = DefaultPerformanceThreshold
	}
	if cfg.ZombieGracePeriod <= 0 {
		cfg.ZombieGracePeriod = DefaultZombieGracePeriod
	}
	return &EvolutionEngine{
		cfg:     cfg,
		bounds:  bounds,
		mutator: mutator,
		logger:  logger,
		seedFn:  func() int64 { return time.Now().UnixNano() },
	}
}

// SetSeedFunc overrides the mutation seed source. Tests use this to make
// rebirth weights reproducible.
func (e *EvolutionEngine) SetSeedFunc(fn func() int64) {
	e.seedFn = fn
}

// Evolve derives the next generation from current. Every cycle produces
// a new generation number; the previous record stays behind in the
// archive, so history accumulates one row per cycle.
func (e *EvolutionEngine) Evolve(current *domain.BrainState, performance float64, data domain.LearningData, now time.Time) (*EvolutionResult, error) {
	if performance < 0 || performance > 1 {
		return nil, fmt.Errorf("performance %f outside [0,1]", performance)
	}

	parent := current.Generation
	next := current.Clone()
	next.Generation = current.Generation + 1
	next.ParentGeneration = &parent
	next.Performance = performance
	next.CreatedAt = now
	next.UpdatedAt = now

	e.applyLearning(next, data, now)

	// Kill-gate.
	switch {
	case performance >= e.cfg.PerformanceThreshold:
		if next.Status != domain.StatusAlive {
			e.logger.Info("brain resurrected",
				zap.Int("generation", next.Generation),
				zap.Float64("performance", performance))
		}
		next.Status = domain.StatusAlive
		next.ZombieCount = 0
	case current.Status == domain.StatusAlive:
		next.Status = domain.StatusZombie
		next.ZombieCount = 1
		e.logger.Warn("brain marked zombie",
			zap.Int("generation", next.Generation),
			zap.Float64("performance", performance))
	default:
		next.Status = domain.StatusZombie
		next.ZombieCount = current.ZombieCount + 1
		if next.ZombieCount >= e.cfg.ZombieGracePeriod {
			next.Status = domain.StatusKilled
		} else {
			e.logger.Warn("brain still zombie",
				zap.Int("generation", next.Generation),
				zap.Int("zombie_count", next.ZombieCount),
				zap.Int("grace_period", e.cfg.ZombieGracePeriod))
		}
	}

	if next.Status != domain.StatusKilled {
		if !e.bounds.InBounds(next.Weights) {
			return nil, fmt.Errorf("%w: weight outside bounds after clamp in generation %d",
				domain.ErrInvariantViolation, next.Generation)
		}
		return &EvolutionResult{Next: next}, nil
	}

	// Kill and rebirth: the killed record keeps its generation number for
	// history; the reborn generation starts alive with mutated weights
	// and the learned patterns carried forward.
	killed := next
	e.logger.Warn("brain killed",
		zap.Int("generation", killed.Generation),
		zap.Int("zombie_count", killed.ZombieCount))

	killedGen := killed.Generation
	reborn := killed.Clone()
	reborn.Generation = killed.Generation + 1
	reborn.ParentGeneration = &killedGen
	reborn.Status = domain.StatusAlive
	reborn.ZombieCount = 0
	reborn.Performance = performance
	reborn.Weights = e.mutator.Mutate(killed.Weights, e.seedFn())
	reborn.DecisionHistory = nil
	reborn.CreatedAt = now
	reborn.UpdatedAt = now

	if !e.bounds.InBounds(reborn.Weights) {
		return nil, fmt.Errorf("%w: mutated weight outside bounds in generation %d",
			domain.ErrInvariantViolation, reborn.Generation)
	}

	e.logger.Info("brain reborn",
		zap.Int("generation", reborn.Generation),
		zap.Int("parent_generation", killedGen))

	return &EvolutionResult{Next: reborn, Killed: killed}, nil
}

// applyLearning folds the cycle's weight deltas and pattern observations
// into the state. Deltas land before any mutation and are clamped by the
// per-weight bounds; unrecognized keys are dropped with a warning.
func (e *EvolutionEngine) applyLearning(state *domain.BrainState, data domain.LearningData, now time.Time) {
	for name, delta := range data.WeightAdjustments {
		spec, ok := e.bounds[name]
		if !ok {
			e.logger.Warn("ignoring adjustment for unrecognized weight", zap.String("weight", name))
			continue
		}
		state.Weights[name] = spec.Clamp(state.Weights[name] + delta)
	}
	if len(data.WeightAdjustments) > 0 {
		e.bounds.Normalize(state.Weights)
	}

	state.MergePatterns(data.Patterns, now)
}
