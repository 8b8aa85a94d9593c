package domain

import "context"

// FastStore holds exactly one record: the current generation. Save must
// be atomic — a crash-interrupted write leaves either the fully-previous
// or fully-new record on disk, never a partial one.
type FastStore interface {
	Load(ctx context.Context) (*BrainState, error)
	Save(ctx context.Context, state *BrainState) error
}

// ArchiveStats are aggregates over every archived generation.
type ArchiveStats struct {
	Count          int            `json:"count"`
	AvgPerformance float64        `json:"avg_performance"`
	MaxPerformance float64        `json:"max_performance"`
	MinPerformance float64        `json:"min_performance"`
	CountByStatus  map[Status]int `json:"count_by_status"`
}

// ArchiveStore is the append/upsert history of all generations, keyed by
// generation number. Upsert is idempotent; there is no delete path.
type ArchiveStore interface {
	Upsert(ctx context.Context, state *BrainState) error
	Get(ctx context.Context, generation int) (*BrainState, error)
	Range(ctx context.Context, from, to int) ([]BrainState, error)
	Latest(ctx context.Context) (*BrainState, error)
	Aggregate(ctx context.Context) (*ArchiveStats, error)
	// RecentPerformance returns the newest n generations' scores,
	// newest first.
	RecentPerformance(ctx context.Context, n int) ([]float64, error)
}
