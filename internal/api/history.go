package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"albion-flipper/internal/db"
	"albion-flipper/internal/engine"
	"albion-flipper/internal/logger"
	"albion-flipper/internal/refresh"
)

// History stores a summary and the global ranking of each refresh.
type History interface {
	InsertHistory(ctx context.Context, rec db.SnapshotRecord, flips []engine.FlipResult) (int64, error)
	GetHistory(ctx context.Context, limit int) ([]db.SnapshotRecord, error)
	GetHistoryByID(ctx context.Context, id int64) (db.SnapshotRecord, bool, error)
	GetFlipResults(ctx context.Context, scanID int64) ([]engine.FlipResult, error)
	DeleteHistory(ctx context.Context, id int64) error
	ClearHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SetHistory enables the /api/history endpoints.
func (s *Server) SetHistory(h History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

func (s *Server) historyStore() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// RecordHook returns a refresh hook that appends every snapshot to the history.
func (s *Server) RecordHook() refresh.Hook {
	return func(ctx context.Context, snap *refresh.Snapshot) {
		h := s.historyStore()
		if h == nil {
			return
		}
		rec := db.SnapshotRecord{
			SnapshotID: snap.ID,
			Timestamp:  snap.BuiltAt,
			Categories: snap.Categories,
			ItemCount:  snap.ItemCount(),
			RouteCount: len(snap.AllRoutes),
			DurationMs: snap.Took.Milliseconds(),
		}
		if _, err := h.InsertHistory(ctx, rec, snap.Report.TopGlobal); err != nil {
			logger.Warn("History", fmt.Sprintf("Saving snapshot %s failed: %v", snap.ID, err))
		}
	}
}

// withHistory resolves the store and the {id} parameter when present.
func (s *Server) withHistory(w http.ResponseWriter, r *http.Request, needID bool) (History, int64, bool) {
	h := s.historyStore()
	if h == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return nil, 0, false
	}
	if !needID {
		return h, 0, true
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid id")
		return nil, 0, false
	}
	return h, id, true
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.withHistory(w, r, false)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	records, err := h.GetHistory(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleGetHistoryByID(w http.ResponseWriter, r *http.Request) {
	h, id, ok := s.withHistory(w, r, true)
	if !ok {
		return
	}
	rec, found, err := h.GetHistoryByID(r.Context(), id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !found {
		writeError(w, 404, "not found")
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleGetHistoryFlips(w http.ResponseWriter, r *http.Request) {
	h, id, ok := s.withHistory(w, r, true)
	if !ok {
		return
	}
	if _, found, err := h.GetHistoryByID(r.Context(), id); err != nil || !found {
		writeError(w, 404, "not found")
		return
	}
	flips, err := h.GetFlipResults(r.Context(), id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, flips)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	h, id, ok := s.withHistory(w, r, true)
	if !ok {
		return
	}
	if err := h.DeleteHistory(r.Context(), id); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.withHistory(w, r, false)
	if !ok {
		return
	}
	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if req.OlderThanDays < 0 {
		writeError(w, 400, "older_than_days must not be negative")
		return
	}
	n, err := h.ClearHistory(r.Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}
