package main

import (
	"net/http"
	"strconv"

	"localchat/internal/endpoint"
)

// handleHistorySearch runs a full-text query over stored conversation turns.
func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonErr(w, "q is required", http.StatusBadRequest)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hits, err := s.history.Search(q, r.URL.Query().Get("session_id"), size)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]interface{}{"hits": hits})
}

// handleRoute reports which model endpoint a request sent now would use.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ep, err := s.resolver.Resolve(r.Context())
	if err != nil {
		jsonErr(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	jsonResp(w, map[string]interface{}{
		"model":            ep.Model,
		"url":              ep.URL,
		"kind":             ep.Kind,
		"cloud":            ep.Cloud,
		"route":            endpoint.Describe(ep),
		"search_providers": s.search.Providers(),
	})
}
