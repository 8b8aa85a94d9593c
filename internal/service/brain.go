package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scoutlabs/brain/internal/domain"
	"github.com/scoutlabs/brain/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidPerformance = errors.New("performance must be in [0,1]")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidConfidence  = errors.New("confidence must be in [0,1]")
)

const (
	DefaultDecisionHistoryCap   = 100
	DefaultAvgPerformanceWindow = 20
)

// BrainConfig tunes the manager's bookkeeping (not the kill-gate; that
// lives in EvolutionConfig).
type BrainConfig struct {
	DecisionHistoryCap   int
	AvgPerformanceWindow int
}

func DefaultBrainConfig() BrainConfig {
	return BrainConfig{
		DecisionHistoryCap:   DefaultDecisionHistoryCap,
		AvgPerformanceWindow: DefaultAvgPerformanceWindow,
	}
}

// Statistics is the read-only view served to reporting callers.
type Statistics struct {
	Generation         int                   `json:"generation"`
	Status             domain.Status         `json:"status"`
	Performance        float64               `json:"performance"`
	AvgPerformance     float64               `json:"avg_performance"`
	MaxPerformance     float64               `json:"max_performance"`
	MinPerformance     float64               `json:"min_performance"`
	TotalArchived      int                   `json:"total_archived"`
	StatusDistribution map[domain.Status]int `json:"status_distribution"`
}

// HotSwitchResult reports what a hot-switch migrated.
type HotSwitchResult struct {
	MigratedCount int  `json:"migrated_count"`
	AlreadyActive bool `json:"already_active"`
}

// BrainManager owns the single authoritative brain state. All mutation
// goes through Evolve/RecordDecision under one exclusive lock; the fast
// store always carries exactly the current generation and the archive
// receives every generation ever produced.
type BrainManager struct {
	fast    domain.FastStore
	archive domain.ArchiveStore
	engine  *EvolutionEngine
	cfg     BrainConfig
	logger  *zap.Logger

	mu          sync.Mutex
	current     *domain.BrainState
	archiveOnly bool
	dirty       bool

	now func() time.Time
}

// NewBrainManager loads or initializes the current generation and makes
// sure it is persisted to both stores before returning.
//
// Recovery policy: a missing fast record falls through to the newest
// archive row; a corrupt one does the same with a warning; an empty
// archive yields a fresh generation 0 with default weights.
func NewBrainManager(ctx context.Context, fast domain.FastStore, archive domain.ArchiveStore, engine *EvolutionEngine, cfg BrainConfig, logger *zap.Logger) (*BrainManager, error) {
	if cfg.DecisionHistoryCap <= 0 {
		cfg.DecisionHistoryCap = DefaultDecisionHistoryCap
	}
	if cfg.AvgPerformanceWindow <= 0 {
		cfg.AvgPerformanceWindow = DefaultAvgPerformanceWindow
	}

	m := &BrainManager{
		fast:    fast,
		archive: archive,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}

	state, err := fast.Load(ctx)
	switch {
	case err == nil:
		m.current = state
		logger.Info("loaded brain state",
			zap.Int("generation", state.Generation),
			zap.String("status", string(state.Status)))
		return m, nil
	case errors.Is(err, store.ErrCorruptState):
		logger.Warn("fast store record is corrupt, falling back to archive", zap.Error(err))
	case errors.Is(err, store.ErrNotFound):
		// First run, or the fast store was rotated away.
	default:
		return nil, fmt.Errorf("load brain state: %w", err)
	}

	latest, err := archive.Latest(ctx)
	switch {
	case err == nil:
		m.current = latest
		logger.Info("recovered brain state from archive",
			zap.Int("generation", latest.Generation),
			zap.String("status", string(latest.Status)))
	case errors.Is(err, store.ErrNotFound):
		m.current = domain.NewBrainState(m.now())
		logger.Info("created new brain", zap.Int("generation", 0))
	default:
		return nil, fmt.Errorf("recover brain state from archive: %w", err)
	}

	if err := m.persistLocked(ctx, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Evolve runs one kill-gate cycle and persists the outcome. The archive
// receives every resulting record (on a kill, both the retired and the
// reborn generation); the fast store receives only the new current one.
// On a persist failure the in-memory state stays valid and servable, the
// error is surfaced, and nothing is retried.
func (m *BrainManager) Evolve(ctx context.Context, performance float64, data domain.LearningData) (*domain.BrainState, error) {
	if performance < 0 || performance > 1 {
		return nil, ErrInvalidPerformance
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.engine.Evolve(m.current, performance, data, m.now())
	if err != nil {
		return nil, err
	}
	if result.Next.Generation <= m.current.Generation {
		return nil, fmt.Errorf("%w: generation %d not after %d",
			domain.ErrInvariantViolation, result.Next.Generation, m.current.Generation)
	}

	m.current = result.Next
	if err := m.persistLocked(ctx, result.Killed); err != nil {
		return m.current.Clone(), err
	}
	return m.current.Clone(), nil
}

// RecordDecision appends to the current generation's bounded decision
// history. It does not persist by itself; the record rides along with
// the next Evolve or Flush.
func (m *BrainManager) RecordDecision(symbol string, action domain.Action, confidence float64) error {
	if symbol == "" {
		return errors.New("symbol is required")
	}
	if !domain.ValidAction(string(action)) {
		return ErrInvalidAction
	}
	if confidence < 0 || confidence > 1 {
		return ErrInvalidConfidence
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.RecordDecision(domain.Decision{
		ID:         uuid.New(),
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		CreatedAt:  m.now(),
	}, m.cfg.DecisionHistoryCap)
	m.dirty = true
	return nil
}

// Statistics reports the current generation plus aggregates over the
// archive. AvgPerformance covers a trailing window of archived
// generations (which includes the current one, since every generation is
// archived as it is produced).
func (m *BrainManager) Statistics(ctx context.Context) (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, err := m.archive.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate archive: %w", err)
	}

	recent, err := m.archive.RecentPerformance(ctx, m.cfg.AvgPerformanceWindow)
	if err != nil {
		return nil, fmt.Errorf("recent performance: %w", err)
	}
	avg := m.current.Performance
	if len(recent) > 0 {
		var sum float64
		for _, p := range recent {
			sum += p
		}
		avg = sum / float64(len(recent))
	}

	return &Statistics{
		Generation:         m.current.Generation,
		Status:             m.current.Status,
		Performance:        m.current.Performance,
		AvgPerformance:     avg,
		MaxPerformance:     agg.MaxPerformance,
		MinPerformance:     agg.MinPerformance,
		TotalArchived:      agg.Count,
		StatusDistribution: agg.CountByStatus,
	}, nil
}

// Snapshot returns a copy of the current generation.
func (m *BrainManager) Snapshot() *domain.BrainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// HistoricalState serves a single generation. Before a hot-switch the
// current generation is answered from memory; afterwards the archive is
// the sole source of truth for all reads.
func (m *BrainManager) HistoricalState(ctx context.Context, generation int) (*domain.BrainState, error) {
	m.mu.Lock()
	if !m.archiveOnly && generation == m.current.Generation {
		state := m.current.Clone()
		m.mu.Unlock()
		return state, nil
	}
	m.mu.Unlock()

	return m.archive.Get(ctx, generation)
}

// HistoryRange serves archived generations in ascending order.
func (m *BrainManager) HistoryRange(ctx context.Context, from, to int) ([]domain.BrainState, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range [%d,%d]", from, to)
	}
	return m.archive.Range(ctx, from, to)
}

// HotSwitchToSqlite makes the archive the sole source of truth for
// reads, after making sure the current generation is archived. The fast
// store stays as a pure write-through cache of the latest record; its
// file is kept with a .backup copy. Idempotent: a repeat call migrates
// nothing.
func (m *BrainManager) HotSwitchToSqlite(ctx context.Context) (*HotSwitchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.archiveOnly {
		return &HotSwitchResult{MigratedCount: 0, AlreadyActive: true}, nil
	}

	migrated := 0
	if _, err := m.archive.Get(ctx, m.current.Generation); errors.Is(err, store.ErrNotFound) {
		if err := m.archive.Upsert(ctx, m.current); err != nil {
			return nil, fmt.Errorf("migrate current generation: %w", err)
		}
		migrated = 1
	} else if err != nil {
		return nil, fmt.Errorf("check archive for current generation: %w", err)
	}

	if backuper, ok := m.fast.(interface{ Backup() error }); ok {
		if err := backuper.Backup(); err != nil {
			m.logger.Warn("fast store backup failed", zap.Error(err))
		}
	}

	m.archiveOnly = true
	m.logger.Info("hot-switched to sqlite archive",
		zap.Int("generation", m.current.Generation),
		zap.Int("migrated", migrated))
	return &HotSwitchResult{MigratedCount: migrated}, nil
}

// Flush persists the current generation, picking up any decisions
// recorded since the last persist. Safe to call from the autosave loop
// and from the shutdown path.
func (m *BrainManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked(ctx, nil)
}

// Dirty reports whether decisions were recorded since the last persist.
func (m *BrainManager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// persistLocked writes the current state to both stores. Callers hold mu.
func (m *BrainManager) persistLocked(ctx context.Context, killed *domain.BrainState) error {
	if killed != nil {
		if err := m.archive.Upsert(ctx, killed); err != nil {
			return fmt.Errorf("archive killed generation %d: %w", killed.Generation, err)
		}
	}
	if err := m.archive.Upsert(ctx, m.current); err != nil {
		return fmt.Errorf("archive generation %d: %w", m.current.Generation, err)
	}
	if err := m.fast.Save(ctx, m.current); err != nil {
		return fmt.Errorf("save brain state: %w", err)
	}
	m.dirty = false
	return nil
}
