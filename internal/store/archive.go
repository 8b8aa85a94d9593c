package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scoutlabs/brain/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteArchive is the durable history of every generation, keyed by
// generation number. All writes are upserts; there is no delete path.
type SQLiteArchive struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteArchive(path string) *SQLiteArchive {
	return &SQLiteArchive{path: path}
}

func (s *SQLiteArchive) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteArchive) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping verifies the underlying database connection is alive.
func (s *SQLiteArchive) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLiteArchive) Upsert(ctx context.Context, state *domain.BrainState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	weights, err := json.Marshal(state.Weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	patterns, err := json.Marshal(state.LearnedPatterns)
	if err != nil {
		return fmt.Errorf("encode learned patterns: %w", err)
	}
	decisions, err := json.Marshal(state.DecisionHistory)
	if err != nil {
		return fmt.Errorf("encode decision history: %w", err)
	}

	var parent any
	if state.ParentGeneration != nil {
		parent = *state.ParentGeneration
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO brain_generations
			(generation, status, performance, zombie_count, parent_generation,
			 weights, learned_patterns, decision_history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation) DO UPDATE SET
			status = excluded.status,
			performance = excluded.performance,
			zombie_count = excluded.zombie_count,
			parent_generation = excluded.parent_generation,
			weights = excluded.weights,
			learned_patterns = excluded.learned_patterns,
			decision_history = excluded.decision_history,
			updated_at = excluded.updated_at
	`, state.Generation, string(state.Status), state.Performance, state.ZombieCount, parent,
		weights, patterns, decisions,
		state.CreatedAt.UTC().Format(time.RFC3339Nano),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteArchive) Get(ctx context.Context, generation int) (*domain.BrainState, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT generation, status, performance, zombie_count, parent_generation,
		       weights, learned_patterns, decision_history, created_at, updated_at
		FROM brain_generations WHERE generation = ?
	`, generation)

	state, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return state, nil
}

func (s *SQLiteArchive) Latest(ctx context.Context) (*domain.BrainState, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT generation, status, performance, zombie_count, parent_generation,
		       weights, learned_patterns, decision_history, created_at, updated_at
		FROM brain_generations ORDER BY generation DESC LIMIT 1
	`)

	state, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return state, nil
}

func (s *SQLiteArchive) Range(ctx context.Context, from, to int) ([]domain.BrainState, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT generation, status, performance, zombie_count, parent_generation,
		       weights, learned_patterns, decision_history, created_at, updated_at
		FROM brain_generations
		WHERE generation >= ? AND generation <= ?
		ORDER BY generation ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.BrainState
	for rows.Next() {
		state, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func (s *SQLiteArchive) Aggregate(ctx context.Context) (*domain.ArchiveStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	stats := &domain.ArchiveStats{CountByStatus: make(map[domain.Status]int)}

	var avg, max, min sql.NullFloat64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(performance), MAX(performance), MIN(performance)
		FROM brain_generations
	`).Scan(&stats.Count, &avg, &max, &min)
	if err != nil {
		return nil, err
	}
	stats.AvgPerformance = avg.Float64
	stats.MaxPerformance = max.Float64
	stats.MinPerformance = min.Float64

	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM brain_generations GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.CountByStatus[domain.Status(status)] = count
	}
	return stats, rows.Err()
}

// RecentPerformance returns the performance scores of the newest n
// archived generations, newest first.
func (s *SQLiteArchive) RecentPerformance(ctx context.Context, n int) ([]float64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT performance FROM brain_generations
		ORDER BY generation DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		scores = append(scores, p)
	}
	return scores, rows.Err()
}

func (s *SQLiteArchive) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("archive is not initialized")
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*domain.BrainState, error) {
	var (
		state     domain.BrainState
		status    string
		parent    sql.NullInt64
		weights   []byte
		patterns  []byte
		decisions []byte
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&state.Generation, &status, &state.Performance, &state.ZombieCount,
		&parent, &weights, &patterns, &decisions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	state.Status = domain.Status(status)
	if parent.Valid {
		p := int(parent.Int64)
		state.ParentGeneration = &p
	}
	if err := json.Unmarshal(weights, &state.Weights); err != nil {
		return nil, fmt.Errorf("%w: weights for generation %d: %v", ErrCorruptState, state.Generation, err)
	}
	if err := json.Unmarshal(patterns, &state.LearnedPatterns); err != nil {
		return nil, fmt.Errorf("%w: learned patterns for generation %d: %v", ErrCorruptState, state.Generation, err)
	}
	if err := json.Unmarshal(decisions, &state.DecisionHistory); err != nil {
		return nil, fmt.Errorf("%w: decision history for generation %d: %v", ErrCorruptState, state.Generation, err)
	}

	var err error
	if state.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("%w: created_at for generation %d: %v", ErrCorruptState, state.Generation, err)
	}
	if state.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at for generation %d: %v", ErrCorruptState, state.Generation, err)
	}
	return &state, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS brain_generations (
			generation INTEGER PRIMARY KEY,
			status TEXT NOT NULL,
			performance REAL NOT NULL,
			zombie_count INTEGER NOT NULL,
			parent_generation INTEGER,
			weights TEXT NOT NULL,
			learned_patterns TEXT NOT NULL,
			decision_history TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	return err
}
