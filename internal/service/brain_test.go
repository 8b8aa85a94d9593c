package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/scoutlabs/brain/internal/domain"
	"github.com/scoutlabs/brain/internal/store"
	"go.uber.org/zap"
)

type mockFastStore struct {
	state   *domain.BrainState
	loadErr error
	saveErr error
	saves   int
	backups int
}

func (m *mockFastStore) Load(ctx context.Context) (*domain.BrainState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	return m.state.Clone(), nil
}

func (m *mockFastStore) Save(ctx context.Context, state *domain.BrainState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state.Clone()
	m.saves++
	return nil
}

func (m *mockFastStore) Backup() error {
	m.backups++
	return nil
}

type mockArchiveStore struct {
	rows      map[int]*domain.BrainState
	upsertErr error
	upserts   int
}

func newMockArchiveStore() *mockArchiveStore {
	return &mockArchiveStore{rows: make(map[int]*domain.BrainState)}
}

func (m *mockArchiveStore) Upsert(ctx context.Context, state *domain.BrainState) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.rows[state.Generation] = state.Clone()
	m.upserts++
	return nil
}

func (m *mockArchiveStore) Get(ctx context.Context, generation int) (*domain.BrainState, error) {
	state, ok := m.rows[generation]
	if !ok {
		return nil, store.ErrNotFound
	}
	return state.Clone(), nil
}

func (m *mockArchiveStore) Latest(ctx context.Context) (*domain.BrainState, error) {
	latest := -1
	for gen := range m.rows {
		if gen > latest {
			latest = gen
		}
	}
	if latest < 0 {
		return nil, store.ErrNotFound
	}
	return m.rows[latest].Clone(), nil
}

func (m *mockArchiveStore) Range(ctx context.Context, from, to int) ([]domain.BrainState, error) {
	var gens []int
	for gen := range m.rows {
		if gen >= from && gen <= to {
			gens = append(gens, gen)
		}
	}
	sort.Ints(gens)
	states := make([]domain.BrainState, 0, len(gens))
	for _, gen := range gens {
		states = append(states, *m.rows[gen].Clone())
	}
	return states, nil
}

func (m *mockArchiveStore) Aggregate(ctx context.Context) (*domain.ArchiveStats, error) {
	stats := &domain.ArchiveStats{CountByStatus: make(map[domain.Status]int)}
	first := true
	for _, state := range m.rows {
		stats.Count++
		stats.AvgPerformance += state.Performance
		stats.CountByStatus[state.Status]++
		if first || state.Performance > stats.MaxPerformance {
			stats.MaxPerformance = state.Performance
		}
		if first || state.Performance < stats.MinPerformance {
			stats.MinPerformance = state.Performance
		}
		first = false
	}
	if stats.Count > 0 {
		stats.AvgPerformance /= float64(stats.Count)
	}
	return stats, nil
}

func (m *mockArchiveStore) RecentPerformance(ctx context.Context, n int) ([]float64, error) {
	var gens []int
	for gen := range m.rows {
		gens = append(gens, gen)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(gens)))
	if len(gens) > n {
		gens = gens[:n]
	}
	scores := make([]float64, 0, len(gens))
	for _, gen := range gens {
		scores = append(scores, m.rows[gen].Performance)
	}
	return scores, nil
}

func setupManager(t *testing.T) (*BrainManager, *mockFastStore, *mockArchiveStore) {
	t.Helper()
	fast := &mockFastStore{}
	archive := newMockArchiveStore()
	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), DefaultBrainConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, fast, archive
}

func TestBrainManager_InitializesGenerationZero(t *testing.T) {
	manager, fast, archive := setupManager(t)

	snap := manager.Snapshot()
	if snap.Generation != 0 || snap.Status != domain.StatusAlive {
		t.Fatalf("fresh brain: generation=%d status=%s", snap.Generation, snap.Status)
	}
	if fast.state == nil || fast.state.Generation != 0 {
		t.Fatal("generation 0 not persisted to fast store")
	}
	if _, ok := archive.rows[0]; !ok {
		t.Fatal("generation 0 not archived")
	}
}

func TestBrainManager_LoadsExistingState(t *testing.T) {
	existing := domain.NewBrainState(testNow())
	existing.Generation = 12
	existing.Status = domain.StatusZombie
	existing.ZombieCount = 3
	fast := &mockFastStore{state: existing}
	archive := newMockArchiveStore()

	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), DefaultBrainConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	snap := manager.Snapshot()
	if snap.Generation != 12 || snap.Status != domain.StatusZombie || snap.ZombieCount != 3 {
		t.Fatalf("loaded generation=%d status=%s zombie=%d", snap.Generation, snap.Status, snap.ZombieCount)
	}
}

func TestBrainManager_CorruptFastStoreFallsBackToArchive(t *testing.T) {
	// Scenario: the JSON file is unparsable but history survives in the
	// archive; the manager resumes from the newest archived generation.
	fast := &mockFastStore{loadErr: store.ErrCorruptState}
	archive := newMockArchiveStore()
	for gen := 0; gen <= 8; gen++ {
		state := domain.NewBrainState(testNow())
		state.Generation = gen
		archive.rows[gen] = state
	}

	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), DefaultBrainConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := manager.Snapshot().Generation; got != 8 {
		t.Fatalf("recovered generation = %d, want 8", got)
	}
	if fast.state == nil || fast.state.Generation != 8 {
		t.Fatal("recovered state not written back to fast store")
	}
}

func TestBrainManager_CorruptFastStoreEmptyArchive(t *testing.T) {
	fast := &mockFastStore{loadErr: store.ErrCorruptState}
	archive := newMockArchiveStore()

	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), DefaultBrainConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := manager.Snapshot().Generation; got != 0 {
		t.Fatalf("fresh generation = %d, want 0", got)
	}
}

func TestBrainManager_EvolveArchivesEveryGeneration(t *testing.T) {
	manager, fast, archive := setupManager(t)
	ctx := context.Background()

	const cycles = 150
	for i := 0; i < cycles; i++ {
		if _, err := manager.Evolve(ctx, 0.6, domain.LearningData{}); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	// Every cycle leaves a row behind, plus the initial generation 0.
	states, err := manager.HistoryRange(ctx, 0, cycles)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != cycles+1 {
		t.Fatalf("archive has %d rows, want %d", len(states), cycles+1)
	}
	for i, state := range states {
		if state.Generation != i {
			t.Fatalf("states[%d].Generation = %d: generations must be contiguous", i, state.Generation)
		}
	}

	// Fast store holds exactly the latest record.
	if fast.state.Generation != cycles {
		t.Fatalf("fast store generation = %d, want %d", fast.state.Generation, cycles)
	}
	if len(archive.rows) != cycles+1 {
		t.Fatalf("archive row count = %d, want %d", len(archive.rows), cycles+1)
	}
}

func TestBrainManager_KillArchivesBothRecords(t *testing.T) {
	manager, fast, archive := setupManager(t)
	ctx := context.Background()

	// Drive straight through the grace period: the fifth sub-threshold
	// cycle pushes zombieCount to 5, killing generation 5 and rebirthing
	// generation 6.
	for i := 0; i < 5; i++ {
		if _, err := manager.Evolve(ctx, 0.1, domain.LearningData{}); err != nil {
			t.Fatal(err)
		}
	}

	snap := manager.Snapshot()
	if snap.Generation != 6 || snap.Status != domain.StatusAlive {
		t.Fatalf("after kill: generation=%d status=%s, want 6/alive", snap.Generation, snap.Status)
	}

	killed, ok := archive.rows[5]
	if !ok {
		t.Fatal("killed generation 5 missing from archive")
	}
	if killed.Status != domain.StatusKilled {
		t.Fatalf("archived generation 5 status = %s, want killed", killed.Status)
	}
	if fast.state.Generation != 6 {
		t.Fatalf("fast store generation = %d: killed record must never be current", fast.state.Generation)
	}
}

func TestBrainManager_EvolveRejectsBadPerformance(t *testing.T) {
	manager, _, _ := setupManager(t)

	if _, err := manager.Evolve(context.Background(), 1.5, domain.LearningData{}); !errors.Is(err, ErrInvalidPerformance) {
		t.Fatalf("expected ErrInvalidPerformance, got %v", err)
	}
}

func TestBrainManager_EvolveSurfacesPersistError(t *testing.T) {
	manager, fast, _ := setupManager(t)
	fast.saveErr = errors.New("disk full")

	snap, err := manager.Evolve(context.Background(), 0.6, domain.LearningData{})
	if err == nil {
		t.Fatal("expected persist error")
	}
	// In-memory state stays valid and servable.
	if snap == nil || snap.Generation != 1 {
		t.Fatalf("snapshot after failed persist = %+v", snap)
	}
	if got := manager.Snapshot().Generation; got != 1 {
		t.Fatalf("current generation = %d, want 1", got)
	}
}

func TestBrainManager_RecordDecisionRingBuffer(t *testing.T) {
	fast := &mockFastStore{}
	archive := newMockArchiveStore()
	cfg := DefaultBrainConfig()
	cfg.DecisionHistoryCap = 3
	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	for _, symbol := range []string{"AAAA", "BBBB", "CCCC", "DDDD", "EEEE"} {
		if err := manager.RecordDecision(symbol, domain.ActionBuy, 0.8); err != nil {
			t.Fatal(err)
		}
	}

	history := manager.Snapshot().DecisionHistory
	if len(history) != 3 {
		t.Fatalf("history length = %d, want cap 3", len(history))
	}
	if history[0].Symbol != "CCCC" || history[2].Symbol != "EEEE" {
		t.Fatalf("oldest entries not evicted: %s..%s", history[0].Symbol, history[2].Symbol)
	}
}

func TestBrainManager_RecordDecisionValidation(t *testing.T) {
	manager, _, _ := setupManager(t)

	if err := manager.RecordDecision("ABCD", "SHORT", 0.5); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if err := manager.RecordDecision("ABCD", domain.ActionSell, 1.7); !errors.Is(err, ErrInvalidConfidence) {
		t.Fatalf("expected ErrInvalidConfidence, got %v", err)
	}
	if err := manager.RecordDecision("", domain.ActionHold, 0.5); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}

func TestBrainManager_DecisionsBatchedUntilFlush(t *testing.T) {
	manager, fast, _ := setupManager(t)
	savesAfterInit := fast.saves

	if err := manager.RecordDecision("ABCD", domain.ActionBuy, 0.9); err != nil {
		t.Fatal(err)
	}
	if fast.saves != savesAfterInit {
		t.Fatal("RecordDecision persisted eagerly")
	}
	if !manager.Dirty() {
		t.Fatal("manager not marked dirty after decision")
	}

	if err := manager.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fast.saves != savesAfterInit+1 {
		t.Fatal("flush did not persist")
	}
	if manager.Dirty() {
		t.Fatal("manager still dirty after flush")
	}
	if len(fast.state.DecisionHistory) != 1 {
		t.Fatal("decision missing from persisted record")
	}
}

func TestBrainManager_Statistics(t *testing.T) {
	manager, _, _ := setupManager(t)
	ctx := context.Background()

	scores := []float64{0.6, 0.8, 0.7}
	for _, score := range scores {
		if _, err := manager.Evolve(ctx, score, domain.LearningData{}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := manager.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Generation != 3 || stats.Status != domain.StatusAlive {
		t.Fatalf("stats generation=%d status=%s", stats.Generation, stats.Status)
	}
	if stats.Performance != 0.7 {
		t.Fatalf("performance = %f, want 0.7", stats.Performance)
	}
	if stats.TotalArchived != 4 {
		t.Fatalf("total archived = %d, want 4 (initial + 3 cycles)", stats.TotalArchived)
	}
	// Window covers gen 0 (0.0) plus the three scored cycles.
	wantAvg := (0.0 + 0.6 + 0.8 + 0.7) / 4
	if math.Abs(stats.AvgPerformance-wantAvg) > 1e-9 {
		t.Fatalf("avg performance = %f, want %f", stats.AvgPerformance, wantAvg)
	}
	if stats.StatusDistribution[domain.StatusAlive] != 4 {
		t.Fatalf("status distribution = %v", stats.StatusDistribution)
	}
}

func TestBrainManager_StatisticsWindowIsBounded(t *testing.T) {
	fast := &mockFastStore{}
	archive := newMockArchiveStore()
	cfg := DefaultBrainConfig()
	cfg.AvgPerformanceWindow = 2
	manager, err := NewBrainManager(context.Background(), fast, archive, newTestEngine(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, score := range []float64{0.9, 0.5, 0.7} {
		if _, err := manager.Evolve(ctx, score, domain.LearningData{}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := manager.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(stats.AvgPerformance-0.6) > 1e-9 {
		t.Fatalf("windowed avg = %f, want 0.6 over newest two", stats.AvgPerformance)
	}
}

func TestBrainManager_HotSwitchIsIdempotent(t *testing.T) {
	manager, fast, _ := setupManager(t)
	ctx := context.Background()

	if _, err := manager.Evolve(ctx, 0.6, domain.LearningData{}); err != nil {
		t.Fatal(err)
	}

	first, err := manager.HotSwitchToSqlite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Every generation is archived on evolve, so there is nothing left
	// to migrate.
	if first.MigratedCount != 0 || first.AlreadyActive {
		t.Fatalf("first switch = %+v", first)
	}
	if fast.backups != 1 {
		t.Fatalf("backups = %d, want 1", fast.backups)
	}

	second, err := manager.HotSwitchToSqlite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.MigratedCount != 0 || !second.AlreadyActive {
		t.Fatalf("second switch = %+v", second)
	}
	if fast.backups != 1 {
		t.Fatal("repeat switch performed another backup")
	}
}

func TestBrainManager_HotSwitchMigratesUnarchivedCurrent(t *testing.T) {
	manager, _, archive := setupManager(t)
	ctx := context.Background()

	// Simulate an archive that missed the current generation.
	delete(archive.rows, manager.Snapshot().Generation)

	result, err := manager.HotSwitchToSqlite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.MigratedCount != 1 {
		t.Fatalf("migrated = %d, want 1", result.MigratedCount)
	}
	if _, ok := archive.rows[manager.Snapshot().Generation]; !ok {
		t.Fatal("current generation still missing from archive")
	}
}

func TestBrainManager_HistoricalStateRouting(t *testing.T) {
	manager, _, _ := setupManager(t)
	ctx := context.Background()

	if _, err := manager.Evolve(ctx, 0.6, domain.LearningData{}); err != nil {
		t.Fatal(err)
	}
	if err := manager.RecordDecision("ABCD", domain.ActionBuy, 0.9); err != nil {
		t.Fatal(err)
	}

	// Before the switch the current generation is served from memory:
	// the unflushed decision is visible.
	state, err := manager.HistoricalState(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.DecisionHistory) != 1 {
		t.Fatal("in-memory current not served before switch")
	}

	if _, err := manager.HotSwitchToSqlite(ctx); err != nil {
		t.Fatal(err)
	}

	// After the switch the archive is the sole source of truth; the
	// archived row predates the decision.
	state, err = manager.HistoricalState(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.DecisionHistory) != 0 {
		t.Fatal("archive row should not include the unflushed decision")
	}

	if _, err := manager.HistoricalState(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown generation, got %v", err)
	}
}

func TestBrainManager_AutosaveFlushesDirtyState(t *testing.T) {
	manager, fast, _ := setupManager(t)

	autosave := NewAutosaveService(manager, zap.NewNop())
	autosave.SetInterval(10 * time.Millisecond)
	autosave.Start()
	defer autosave.Stop()

	if err := manager.RecordDecision("ABCD", domain.ActionBuy, 0.8); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !manager.Dirty() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if manager.Dirty() {
		t.Fatal("autosave never flushed the dirty state")
	}
	if len(fast.state.DecisionHistory) != 1 {
		t.Fatal("flushed record missing the decision")
	}
}
