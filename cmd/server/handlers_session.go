package main

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"localchat/internal/chat"
	"localchat/internal/orchestrator"
	"localchat/internal/retention"
)

// ========== Session Endpoints ==========

// handleSessions lists (GET) or creates (POST) sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, map[string]interface{}{"sessions": s.sessions.List()})

	case http.MethodPost:
		id, err := s.sessions.Create("")
		if err != nil {
			s.log.Error("failed to save session", zap.String("session", id), zap.Error(err))
		}
		s.log.Info("session created", zap.String("session", id))
		jsonResp(w, map[string]string{"session_id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeleteSession archives a session and forgets it.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := s.sessions.Delete(r.PathValue("session_id"))
	if err != nil {
		s.log.Error("session delete failed", zap.String("session", id), zap.Error(err))
	}
	jsonResp(w, map[string]string{"deleted": id})
}

// handleDeleteArchive removes the newest archived copy of a session. Only
// available with DEBUG_SINGLE_DELETE=1.
func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := chat.SanitizeID(r.PathValue("session_id"))
	removed, err := s.archiver.DeleteNewest(id, s.cfg.Debug.SingleDelete)
	switch {
	case errors.Is(err, retention.ErrSingleDeleteDisabled):
		jsonErr(w, err.Error(), http.StatusForbidden)
	case err != nil:
		jsonErr(w, err.Error(), http.StatusInternalServerError)
	default:
		jsonResp(w, map[string]interface{}{"session_id": id, "removed": removed})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.sessions.Get(r.URL.Query().Get("session_id"))
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResp(w, map[string]interface{}{"history": st.History})
}

// ========== Upload Endpoint ==========

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		jsonErr(w, "session_id is required", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		// Try singular "file" field
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		jsonErr(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	files := make([]orchestrator.UploadFile, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			s.log.Warn("skipping unreadable upload", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			s.log.Warn("skipping unreadable upload", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		files = append(files, orchestrator.UploadFile{Name: fh.Filename, Data: data})
	}

	res, err := s.orc.Upload(sessionID, files)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("upload received", zap.String("session", sessionID), zap.Int("files", res.LoadedFiles))
	jsonResp(w, res)
}
