package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"localchat/internal/config"
)

// settingsFields maps the JSON fields of the settings form to key names.
var settingsFields = map[string]string{
	"ollama_api_key": config.KeyOllama,
	"brave_api_key":  config.KeyBrave,
	"google_api_key": config.KeyGoogle,
	"google_cse_id":  config.KeyGoogleCSEID,
	"openai_api_key": config.KeyOpenAI,
}

// ========== Settings Endpoint ==========

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		masked := s.keys.Masked()
		resp := map[string]interface{}{
			"backend":          s.cfg.OpenAI.Backend,
			"force_model":      s.cfg.ForcedModel(),
			"show_reasoning":   s.cfg.App.ShowReasoning,
			"search_providers": s.search.Providers(),
		}
		for field, name := range settingsFields {
			resp[field] = masked[name]
		}
		jsonResp(w, resp)

	case http.MethodPost:
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}

		for field, name := range settingsFields {
			// masked values ("abcd...wxyz") come back unchanged and are ignored by Set
			if err := s.keys.Set(name, req[field]); err != nil {
				s.log.Error("failed to persist api key", zap.String("key", name), zap.Error(err))
				jsonErr(w, "Failed to save settings", http.StatusInternalServerError)
				return
			}
		}

		s.log.Info("settings updated", zap.Strings("configured", s.keys.Names()))
		jsonResp(w, map[string]string{"status": "saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
