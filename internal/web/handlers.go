package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/svommelab/lapcounter/internal/export"
	"github.com/svommelab/lapcounter/internal/ledger"
	"github.com/svommelab/lapcounter/pkg/detect"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleState returns the engine's live snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleHistory returns every session with its laps, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessionsWithLaps(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleExportCSV streams the full lap history as a CSV download.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="laps.csv"`)
	if err := export.WriteCSV(r.Context(), s.store, w); err != nil {
		// Headers may already be out; best we can do is log via middleware
		// and cut the stream.
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleResetSession closes the open session and starts a fresh one.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetSession(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleSetCounting pauses or resumes counting.
func (s *Server) handleSetCounting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"active\": bool}"))
		return
	}
	s.engine.SetCounting(*req.Active)
	w.WriteHeader(http.StatusNoContent)
}

// handleClearHistory deletes every session and lap.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearLapHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteSession deletes one closed session with its laps.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("session id must be an integer"))
		return
	}
	if id == s.engine.Snapshot().SessionID {
		writeError(w, http.StatusConflict, errors.New("cannot delete the open session; reset it first"))
		return
	}
	if err := s.store.DeleteSessionWithLaps(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roiResponse struct {
	Facing detect.Facing `json:"facing"`
	ROI    detect.ROI    `json:"roi"`
}

type roiRequest struct {
	Facing detect.Facing `json:"facing"`
	ROI    detect.ROI    `json:"roi"`
}

// handleGetROI returns the active camera facing and its region of interest.
func (s *Server) handleGetROI(w http.ResponseWriter, _ *http.Request) {
	if s.rois == nil {
		writeError(w, http.StatusNotFound, errors.New("camera detector disabled"))
		return
	}
	writeJSON(w, http.StatusOK, roiResponse{Facing: s.rois.Facing(), ROI: s.rois.Active()})
}

// handlePutROI updates the region of interest for one facing and, when that
// facing is the active one, takes effect on the next analyzed frame.
func (s *Server) handlePutROI(w http.ResponseWriter, r *http.Request) {
	if s.rois == nil {
		writeError(w, http.StatusNotFound, errors.New("camera detector disabled"))
		return
	}
	var req roiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rois.SetForFacing(req.Facing, req.ROI); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, roiResponse{Facing: req.Facing, ROI: req.ROI})
}
