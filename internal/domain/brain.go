package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvariantViolation marks a programming-logic fault (generation
// collision, weight outside its bounds after clamping). Callers should
// treat it as fatal rather than recover.
var ErrInvariantViolation = errors.New("brain invariant violation")

type Status string

const (
	StatusAlive  Status = "alive"
	StatusZombie Status = "zombie"
	// StatusKilled is transient: a killed generation is archived for
	// history but never persisted as the current record.
	StatusKilled Status = "killed"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusAlive, StatusZombie, StatusKilled:
		return true
	}
	return false
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionPass Action = "PASS"
)

func ValidAction(a string) bool {
	switch Action(a) {
	case ActionBuy, ActionSell, ActionHold, ActionPass:
		return true
	}
	return false
}

// Decision is one scouting call recorded against the current generation.
type Decision struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PatternStats accumulates observed outcomes for one learned pattern.
// Entries are additive: merges only ever increase Observations.
type PatternStats struct {
	Observations int       `json:"observations"`
	Successes    int       `json:"successes"`
	TotalReturn  float64   `json:"total_return"`
	LastSeen     time.Time `json:"last_seen"`
}

// BrainState is one generation of the evolving parameter set. Generation
// and ParentGeneration are assigned at creation and never change.
type BrainState struct {
	Generation       int                     `json:"generation"`
	Status           Status                  `json:"status"`
	Performance      float64                 `json:"performance"`
	ZombieCount      int                     `json:"zombie_count"`
	Weights          map[string]float64      `json:"weights"`
	LearnedPatterns  map[string]PatternStats `json:"learned_patterns"`
	DecisionHistory  []Decision              `json:"decision_history"`
	ParentGeneration *int                    `json:"parent_generation,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// NewBrainState returns generation 0 with the default weight table.
func NewBrainState(now time.Time) *BrainState {
	return &BrainState{
		Generation:      0,
		Status:          StatusAlive,
		Performance:     0,
		ZombieCount:     0,
		Weights:         DefaultWeights(),
		LearnedPatterns: make(map[string]PatternStats),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy so snapshots handed to callers cannot alias
// the manager's authoritative state.
func (b *BrainState) Clone() *BrainState {
	c := *b
	c.Weights = make(map[string]float64, len(b.Weights))
	for k, v := range b.Weights {
		c.Weights[k] = v
	}
	c.LearnedPatterns = make(map[string]PatternStats, len(b.LearnedPatterns))
	for k, v := range b.LearnedPatterns {
		c.LearnedPatterns[k] = v
	}
	c.DecisionHistory = make([]Decision, len(b.DecisionHistory))
	copy(c.DecisionHistory, b.DecisionHistory)
	if b.ParentGeneration != nil {
		p := *b.ParentGeneration
		c.ParentGeneration = &p
	}
	return &c
}

// RecordDecision appends to the bounded decision history, evicting the
// oldest entry once cap is reached.
func (b *BrainState) RecordDecision(d Decision, capacity int) {
	if capacity <= 0 {
		return
	}
	b.DecisionHistory = append(b.DecisionHistory, d)
	if len(b.DecisionHistory) > capacity {
		b.DecisionHistory = b.DecisionHistory[len(b.DecisionHistory)-capacity:]
	}
}

// Validate checks the cross-field invariants a persisted record must hold.
func (b *BrainState) Validate() error {
	if b.Generation < 0 {
		return errors.New("negative generation")
	}
	if !ValidStatus(string(b.Status)) {
		return errors.New("unknown status")
	}
	if b.Status == StatusAlive && b.ZombieCount != 0 {
		return errors.New("alive state with nonzero zombie count")
	}
	if b.ZombieCount < 0 {
		return errors.New("negative zombie count")
	}
	if b.Performance < 0 || b.Performance > 1 {
		return errors.New("performance outside [0,1]")
	}
	if b.Weights == nil {
		return errors.New("missing weights")
	}
	return nil
}
