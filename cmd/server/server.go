package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"localchat/internal/chat"
	"localchat/internal/config"
	"localchat/internal/endpoint"
	"localchat/internal/gather"
	"localchat/internal/indexer"
	"localchat/internal/logger"
	"localchat/internal/orchestrator"
	"localchat/internal/prompt"
	"localchat/internal/retention"
	"localchat/internal/search"
)

// Server holds all shared state.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	keys     *config.KeyStore
	sessions *chat.Store
	archiver *retention.Archiver
	history  *indexer.HistoryIndex
	search   *search.Chain
	resolver *endpoint.Resolver
	orc      *orchestrator.Orchestrator

	upgrader websocket.Upgrader
	webDir   string
}

// newServer wires every component from configuration. Close releases what it
// opened.
func newServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	keys, err := config.NewKeyStore(cfg.KeysPath(), cfg)
	if err != nil {
		log.Warn("ignoring unreadable key store", zap.Error(err))
	}

	sessions, err := chat.NewStore(cfg.SessionsDir(), logger.Component(log, "sessions"))
	if err != nil {
		return nil, err
	}

	archiver, err := retention.New(cfg.DeletedDir(), cfg.Retention.Days, logger.Component(log, "retention"))
	if err != nil {
		return nil, err
	}
	sessions.SetArchiver(archiver)

	history, err := indexer.Open(cfg.IndexPath())
	if err != nil {
		log.Warn("history index unavailable on disk, using memory", zap.Error(err))
		if history, err = indexer.NewMemOnly(); err != nil {
			return nil, fmt.Errorf("history index: %w", err)
		}
	}
	sessions.OnDelete(func(id string) {
		if err := history.DeleteSession(id); err != nil {
			log.Warn("failed to drop session from history index", zap.String("session", id), zap.Error(err))
		}
	})

	chain := newSearchChain(cfg, keys, logger.Component(log, "search"))
	resolver := endpoint.NewResolver(cfg, keys, logger.Component(log, "endpoint"))

	orc := orchestrator.New(orchestrator.Options{
		Sessions:        sessions,
		Gatherer:        gather.New(chain),
		Resolver:        resolver,
		Indexer:         history,
		Prompt:          prompt.NewBuilder(cfg.App.ShowReasoning),
		Log:             logger.Component(log, "orchestrator"),
		SearchBudget:    config.SearchTimeBudget,
		GenerateTimeout: config.GenerateTimeout,
		HistoryLimit:    config.HistoryLimit,
		UploadsDir:      cfg.UploadsDir(),
	})

	return &Server{
		cfg:      cfg,
		log:      log,
		keys:     keys,
		sessions: sessions,
		archiver: archiver,
		history:  history,
		search:   chain,
		resolver: resolver,
		orc:      orc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		webDir: "web",
	}, nil
}

// newSearchChain orders the providers Brave, Google CSE, DuckDuckGo. Keys are
// read on every search so settings changes apply without a restart.
func newSearchChain(cfg *config.Config, keys *config.KeyStore, log *zap.Logger) *search.Chain {
	return search.NewChain(log,
		&search.Brave{
			Endpoint: cfg.Search.BraveEndpoint,
			Key:      func() string { return keys.Get(config.KeyBrave) },
		},
		&search.Google{
			Key: func() string { return keys.Get(config.KeyGoogle) },
			CX:  func() string { return keys.Get(config.KeyGoogleCSEID) },
		},
		&search.DuckDuckGo{Endpoint: cfg.Search.SearchURL},
	)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/send_async", s.handleSendAsync)
	mux.HandleFunc("/api/jobs/{job_id}", s.handleJob)
	mux.HandleFunc("/api/ws", s.handleWS)

	// Sessions
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("/api/archive/{session_id}", s.handleDeleteArchive)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/search", s.handleHistorySearch)
	mux.HandleFunc("/api/upload", s.handleUpload)

	// Settings & diagnostics
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/route", s.handleRoute)

	// Static files
	mux.HandleFunc("/favicon.ico", handleFavicon)
	mux.Handle("/", http.FileServer(http.Dir(s.webDir)))

	return corsMiddleware(mux)
}

// Close waits for in-flight generations and closes the history index.
func (s *Server) Close() error {
	s.orc.Wait()
	return s.history.Close()
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

const favicon = `<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 64 64'>
<circle cx='32' cy='32' r='30' fill='#0c98c7' stroke='#0b1d30' stroke-width='4'/>
<circle cx='32' cy='26' r='10' fill='#0b1d30'/>
<path d='M16 52c4-14 14-18 16-18s12 4 16 18' fill='#0b1d30'/>
</svg>`

func handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write([]byte(favicon))
}
