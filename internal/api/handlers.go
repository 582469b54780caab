package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
)

// StartCallRequest is the payload for POST /calls.
type StartCallRequest struct {
	CallType string                  `json:"call_type"`
	CallSid  string                  `json:"call_sid,omitempty"`
	Customer *models.CustomerContext `json:"customer,omitempty"`
}

// TurnRequest is the payload for POST /calls/{id}/turns.
type TurnRequest struct {
	Utterance string `json:"utterance"`
}

// InterruptionRequest is the payload for POST /calls/{id}/interruptions.
type InterruptionRequest struct {
	Type models.InterruptionType `json:"type"`
}

// startCallHandler handles POST /calls.
func (s *Server) startCallHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("startCallHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req StartCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("startCallHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.CallType == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("call_type is required"))
		return
	}

	sessionID, err := s.orchestrator.Start(req.CallType, req.Customer)
	if err != nil {
		slog.Error("startCallHandler start failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start call session"))
		return
	}

	if req.CallSid != "" && s.opts.BindCall != nil {
		s.opts.BindCall(req.CallSid, sessionID)
	}

	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"session_id": sessionID}))
}

// turnHandler handles POST /calls/{id}/turns: one recognized speech segment
// in, the next system utterance out.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("turnHandler invoked", "sessionID", sessionID)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Utterance == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("utterance is required"))
		return
	}

	result, err := s.orchestrator.ProcessCustomerInput(r.Context(), sessionID, req.Utterance)
	if err != nil {
		switch {
		case errors.Is(err, orchestration.ErrSessionNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		case errors.Is(err, orchestration.ErrSessionBusy):
			writeJSONResponse(w, http.StatusConflict, models.Error("A turn is already in progress for this session"))
		default:
			slog.Error("turnHandler turn failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// interruptionHandler handles POST /calls/{id}/interruptions.
func (s *Server) interruptionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req InterruptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Type == "" {
		req.Type = models.InterruptionSilence
	}

	result, err := s.orchestrator.HandleInterruption(r.Context(), sessionID, req.Type)
	if err != nil {
		if errors.Is(err, orchestration.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("interruptionHandler failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to handle interruption"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// finalizeHandler handles POST /calls/{id}/finalize: runs the exactly-once
// finalization and hands the record to the persistence store.
func (s *Server) finalizeHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("finalizeHandler invoked", "sessionID", sessionID)

	outcomes, err := s.orchestrator.FinalizeConversation(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, orchestration.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("finalizeHandler failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to finalize call"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(outcomes))
}

// callStatusHandler handles GET /calls/{id}.
func (s *Server) callStatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	state, err := s.orchestrator.SessionState(sessionID)
	if err != nil {
		if errors.Is(err, orchestration.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// recordsHandler handles GET /records.
func (s *Server) recordsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.st.ListCallRecords(r.Context(), limit)
	if err != nil {
		slog.Error("recordsHandler list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list call records"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// recordHandler handles GET /records/{id}.
func (s *Server) recordHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	record, err := s.st.GetCallRecord(r.Context(), sessionID)
	if err != nil {
		slog.Error("recordHandler get failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load call record"))
		return
	}
	if record == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Call record not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(record))
}

// metricsHandler handles GET /metrics: the per-flow performance aggregates.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.orchestrator.Metrics()))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
