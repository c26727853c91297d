package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"localchat/internal/config"
	"localchat/internal/endpoint"
	"localchat/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port, webDir string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, webDir)
		},
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	serveCmd.Flags().StringVar(&webDir, "web", "web", "directory holding the static shell")

	rootCmd := &cobra.Command{
		Use:          "localchat",
		Short:        "Local/cloud LLM chat front-end",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd, newRouteCmd(), newPurgeCmd(), newReindexCmd())
	return rootCmd
}

// ========== serve ==========

func runServe(port, webDir string) error {
	cfg := config.Load()
	if port != "" {
		cfg.App.Port = port
	}
	log := logger.New(cfg.App.LogFilePath, cfg.IsProduction())
	defer log.Sync()

	srv, err := newServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to init server: %w", err)
	}
	if webDir != "" {
		srv.webDir = webDir
	}

	if n, err := srv.archiver.PurgeExpired(); err != nil {
		log.Warn("startup purge failed", zap.Error(err))
	} else if n > 0 {
		log.Info("startup purge", zap.Int("removed", n))
	}
	purger, err := srv.archiver.Schedule(cfg.Retention.PurgeSchedule)
	if err != nil {
		log.Warn("purge schedule disabled", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.ListenAndServe()
	}()

	color.Cyan("localchat listening on http://localhost:%s", cfg.App.Port)
	log.Info("server started",
		zap.String("port", cfg.App.Port),
		zap.String("data_dir", cfg.App.DataDir),
		zap.Strings("search_providers", srv.search.Providers()),
	)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if purger != nil {
		purger.Stop()
	}
	return srv.Close()
}

// ========== route ==========

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Print the model endpoint a request would use right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			keys, err := config.NewKeyStore(cfg.KeysPath(), cfg)
			if err != nil {
				color.Yellow("warning: %v", err)
			}
			resolver := endpoint.NewResolver(cfg, keys, zap.NewNop())

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Ollama.StartupWait+10*time.Second)
			defer cancel()
			ep, err := resolver.Resolve(ctx)
			if err != nil {
				color.Red("✗ %v", err)
				return err
			}
			color.Green("✓ %s", endpoint.Describe(ep))
			return nil
		},
	}
}

// ========== purge ==========

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete archived sessions older than RETENTION_DAYS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			srv, err := newOfflineServer(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			n, err := srv.archiver.PurgeExpired()
			if err != nil {
				return err
			}
			color.Green("✓ removed %d archived session(s)", n)
			return nil
		},
	}
}

// ========== reindex ==========

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the history search index from session files",
		Long:  "Rebuild the history search index from session files. Stop the server first: the index is locked while it runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			srv, err := newOfflineServer(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			n, err := srv.reindex()
			if err != nil {
				color.Red("✗ %v", err)
				return err
			}
			color.Green("✓ indexed %d session(s)", n)
			return nil
		},
	}
}

// newOfflineServer wires the components for maintenance commands.
func newOfflineServer(cfg *config.Config) (*Server, error) {
	log := logger.New(cfg.App.LogFilePath, true)
	return newServer(cfg, log)
}

// reindex replaces every session's documents in the history index.
func (s *Server) reindex() (int, error) {
	n := 0
	for _, id := range s.sessions.List() {
		st, err := s.sessions.Get(id)
		if err != nil {
			return n, err
		}
		if err := s.history.DeleteSession(id); err != nil {
			return n, fmt.Errorf("reindex %s: %w", id, err)
		}
		if err := s.history.IndexSession(id, st.History); err != nil {
			return n, fmt.Errorf("reindex %s: %w", id, err)
		}
		n++
	}
	s.log.Info("history reindexed", zap.Int("sessions", n))
	return n, nil
}
