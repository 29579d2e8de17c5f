package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/types"
)

type statusResponse struct {
	LastTick     int           `json:"lastTick"`
	StorageLevel float64       `json:"storageLevel"`
	Clients      int           `json:"clients"`
	Summary      types.Summary `json:"summary"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		LastTick:     s.controller.LastTick(),
		StorageLevel: s.controller.StorageLevel(),
		Clients:      s.hub.ClientCount(),
		Summary:      s.controller.Summary(),
	})
}

// handleLedger returns the in-memory ledger for the current run, or a
// persisted tick range when start/end query params are given. The range is
// half-open: [start, end).
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" && endStr == "" {
		entries := s.controller.Ledger()
		if entries == nil {
			entries = []types.LedgerEntry{}
		}
		writeJSON(w, entries)
		return
	}

	start, err := strconv.Atoi(startStr)
	if err != nil || start < 0 {
		writeJSONError(w, "invalid start tick", http.StatusBadRequest)
		return
	}
	end, err := strconv.Atoi(endStr)
	if err != nil || end < start {
		writeJSONError(w, "invalid end tick", http.StatusBadRequest)
		return
	}

	entries, err := s.storage.GetLedgerHistory(r.Context(), start, end)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load ledger history", slog.Any("error", err))
		writeJSONError(w, "failed to load ledger history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	writeJSON(w, entries)
}

// handleHistory returns the per-tick audit rows for the current run, or a
// persisted tick range when start/end query params are given.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" && endStr == "" {
		rows := s.controller.History()
		if rows == nil {
			rows = []types.TickRecord{}
		}
		writeJSON(w, rows)
		return
	}

	start, err := strconv.Atoi(startStr)
	if err != nil || start < 0 {
		writeJSONError(w, "invalid start tick", http.StatusBadRequest)
		return
	}
	end, err := strconv.Atoi(endStr)
	if err != nil || end < start {
		writeJSONError(w, "invalid end tick", http.StatusBadRequest)
		return
	}

	rows, err := s.storage.GetTickHistory(r.Context(), start, end)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load tick history", slog.Any("error", err))
		writeJSONError(w, "failed to load tick history", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []types.TickRecord{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	slots := s.controller.Schedule()
	if slots == nil {
		slots = []types.ScheduledSlot{}
	}
	writeJSON(w, slots)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.Summary())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.settings)
}

// handleUpdateSettings validates and persists a new set of tunables. The
// running controller keeps its current settings; the new values take effect
// on the next restart.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// start from the current settings so omitted fields keep their values
	next := s.settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeJSONError(w, "invalid settings body", http.StatusBadRequest)
		return
	}
	if err := next.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load settings version", slog.Any("error", err))
		writeJSONError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	if err := s.storage.SetSettings(ctx, next, version+1); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist settings", slog.Any("error", err))
		writeJSONError(w, "failed to persist settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.Int("version", version+1))
	writeJSON(w, struct {
		Version  int            `json:"version"`
		Settings types.Settings `json:"settings"`
	}{Version: version + 1, Settings: next})
}
