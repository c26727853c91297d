package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"localchat/internal/chat"
	"localchat/internal/orchestrator"
)

// ========== Send Endpoints ==========

// handleSend streams the pipeline as newline-delimited JSON events.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orchestrator.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	events, err := s.orc.Send(r.Context(), req)
	if err != nil {
		s.sendErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.log.Debug("client went away mid-stream", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleSendAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orchestrator.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := s.orc.SendAsync(r.Context(), req)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	jsonResp(w, map[string]string{"job_id": jobID})
}

// handleJob returns one job record of a session.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := s.orc.Job(r.URL.Query().Get("session_id"), r.PathValue("job_id"))
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		jsonErr(w, "Job not found", http.StatusNotFound)
	case err != nil:
		s.sendErr(w, err)
	default:
		jsonResp(w, job)
	}
}

func (s *Server) sendErr(w http.ResponseWriter, err error) {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, chat.ErrSessionIDRequired):
		jsonErr(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("send failed", zap.Error(err))
		jsonErr(w, err.Error(), http.StatusInternalServerError)
	}
}
