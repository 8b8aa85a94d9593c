package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/scoutlabs/brain/internal/domain"
	"github.com/scoutlabs/brain/internal/service"
	"github.com/scoutlabs/brain/internal/store"
)

type BrainHandler struct {
	manager *service.BrainManager
}

func NewBrainHandler(manager *service.BrainManager) *BrainHandler {
	return &BrainHandler{manager: manager}
}

type evolveRequest struct {
	Performance float64             `json:"performance"`
	Learning    domain.LearningData `json:"learning,omitempty"`
}

type evolveResponse struct {
	Generation  int           `json:"generation"`
	Status      domain.Status `json:"status"`
	Performance float64       `json:"performance"`
	ZombieCount int           `json:"zombie_count"`
	Parent      *int          `json:"parent_generation,omitempty"`
	Reborn      bool          `json:"reborn"`
}

// Evolve runs one evolution cycle against the reported performance
// score and returns the resulting generation.
func (h *BrainHandler) Evolve(w http.ResponseWriter, r *http.Request) {
	var req evolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prev := h.manager.Snapshot()
	state, err := h.manager.Evolve(r.Context(), req.Performance, req.Learning)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPerformance):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInvariantViolation):
			writeError(w, http.StatusInternalServerError, "evolution produced an invalid state")
		default:
			writeError(w, http.StatusInternalServerError, "failed to evolve")
		}
		return
	}

	writeJSON(w, http.StatusOK, evolveResponse{
		Generation:  state.Generation,
		Status:      state.Status,
		Performance: state.Performance,
		ZombieCount: state.ZombieCount,
		Parent:      state.ParentGeneration,
		// A kill consumes two generation numbers in one cycle.
		Reborn: state.Generation == prev.Generation+2,
	})
}

type recordDecisionRequest struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// RecordDecision buffers a scouting decision against the current
// generation. Durability rides along with the next evolve or autosave.
func (h *BrainHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req recordDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.manager.RecordDecision(req.Symbol, domain.Action(req.Action), req.Confidence); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAction),
			errors.Is(err, service.ErrInvalidConfidence):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *BrainHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *BrainHandler) HotSwitch(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.HotSwitchToSqlite(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hot-switch failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetGeneration serves a single historical generation by number.
func (h *BrainHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	generation, err := strconv.Atoi(chi.URLParam(r, "generation"))
	if err != nil || generation < 0 {
		writeError(w, http.StatusBadRequest, "invalid generation")
		return
	}

	state, err := h.manager.HistoricalState(r.Context(), generation)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load generation")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListGenerations serves an inclusive range of archived generations,
// ascending. Both from and to are required.
func (h *BrainHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
	to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil || from < 0 || from > to {
		writeError(w, http.StatusBadRequest, "from and to must form a valid range")
		return
	}

	states, err := h.manager.HistoryRange(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load generations")
		return
	}
	if states == nil {
		states = []domain.BrainState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generations": states,
		"count":       len(states),
	})
}
