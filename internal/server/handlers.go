package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/archive"
	"github.com/perigee-labs/groundwork/internal/run"
)

const maxTaskBodyBytes = 1 << 20

type taskRequest struct {
	Task     string `json:"task"`
	Location string `json:"location,omitempty"`
	Model    string `json:"model,omitempty"`
}

// runEnvelope wraps a state with its derived status so callers do not
// have to recompute it from the raw fields.
type runEnvelope struct {
	Status string     `json:"status"`
	Run    *run.State `json:"run"`
}

// handleCreateTask runs one task synchronously and returns the final
// state. The run is archived before the response goes out so an
// immediate lookup by run id succeeds.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTaskBodyBytes)

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	state, runErr := s.runTask(ctx, req.Task, req.Location, req.Model)
	s.archiveRun(state)

	if runErr != nil {
		s.logger.Error("Task run failed", zap.Error(runErr))
		payload := map[string]string{"error": fmt.Sprintf("run failed: %v", runErr)}
		if state != nil {
			payload["run_id"] = state.RunID
		}
		s.writeJSON(w, http.StatusInternalServerError, payload)
		return
	}

	s.writeJSON(w, http.StatusOK, runEnvelope{Status: state.Status(), Run: state})
}

// archiveRun persists a finished run. The write uses its own context
// so a client disconnect cannot lose the record, and failures only
// warn; the caller still gets the run back.
func (s *Server) archiveRun(state *run.State) {
	if s.store == nil || state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := s.store.SaveRun(ctx, state); err != nil {
		s.logger.Warn("Failed to archive run",
			zap.String("run_id", state.RunID),
			zap.Error(err))
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run archive is not configured")
		return
	}
	runID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	state, err := s.store.LoadRun(ctx, runID)
	if errors.Is(err, archive.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("Run lookup failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.writeJSON(w, http.StatusOK, runEnvelope{Status: state.Status(), Run: state})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run archive is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("Run listing failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run archive is not configured")
		return
	}
	runID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	events, err := s.store.LoadEvents(ctx, runID)
	if err != nil {
		s.logger.Error("Event lookup failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run events")
		return
	}
	// An aborted run can archive with no audit entries, so an empty
	// result needs the run itself checked before answering 404.
	if len(events) == 0 {
		if _, lookupErr := s.store.LoadRun(ctx, runID); lookupErr != nil {
			if errors.Is(lookupErr, archive.ErrRunNotFound) {
				s.writeError(w, http.StatusNotFound, "run not found")
				return
			}
			s.logger.Error("Run lookup failed", zap.String("run_id", runID), zap.Error(lookupErr))
			s.writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
