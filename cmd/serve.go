package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/rules"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/syncer"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/wrangler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the record store over HTTP for the UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &apiServer{w: env.Wrangler}

		r := chi.NewRouter()
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Serve.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", srv.health)
		r.Get("/records", srv.listRecords)
		r.Get("/records/{id}", srv.getRecord)
		r.Patch("/records/{id}/annotation", srv.patchAnnotation)
		r.Post("/rules/apply", srv.applyRules)
		r.Get("/conflicts", srv.listConflicts)
		r.Post("/conflicts/local/{id}/resolve", srv.resolveLocal)
		r.Delete("/conflicts/local/{id}", srv.clearLocal)
		r.Post("/conflicts/canonical/{id}/resolve", srv.resolveCanonical)
		r.Post("/sync", srv.startSync)
		r.Delete("/sync", srv.cancelSync)
		r.Get("/sync/status", srv.syncStatus)

		port := servePort
		if port == 0 {
			port = cfg.Serve.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type apiServer struct {
	w *wrangler.Wrangler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) listRecords(w http.ResponseWriter, r *http.Request) {
	records := s.w.Records()
	out := records
	if r.URL.Query().Get("dirty") == "true" {
		out = out[:0:0]
		for _, rec := range records {
			if s.w.IsDirty(rec.ID) {
				out = append(out, rec)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": out,
		"dirty":   s.w.DirtyCount(),
	})
}

func (s *apiServer) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.w.Record(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) patchAnnotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Patch  map[model.Key]any `json:"patch"`
		Source model.Source      `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}

	applied, err := s.w.MutateAnnotation(chi.URLParam(r, "id"), wrangler.Patch(req.Patch), req.Source)
	if err != nil {
		if errors.Is(err, wrangler.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (s *apiServer) applyRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	rs, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	changed := s.w.ApplyRules(rs, req.Force)
	writeJSON(w, http.StatusOK, map[string]int{
		"changed": changed,
		"dirty":   s.w.DirtyCount(),
	})
}

func (s *apiServer) listConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.w.Conflicts())
}

func (s *apiServer) resolveLocal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CanonicalID string `json:"canonicalId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CanonicalID == "" {
		writeError(w, http.StatusBadRequest, "canonicalId is required")
		return
	}
	n := s.w.ResolveLocalConflict(chi.URLParam(r, "id"), req.CanonicalID)
	writeJSON(w, http.StatusOK, map[string]int{"records": n})
}

func (s *apiServer) clearLocal(w http.ResponseWriter, r *http.Request) {
	n := s.w.ClearLocalConflict(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]int{"records": n})
}

func (s *apiServer) resolveCanonical(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalCaseID string `json:"localCaseId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocalCaseID == "" {
		writeError(w, http.StatusBadRequest, "localCaseId is required")
		return
	}
	n := s.w.ResolveCanonicalConflict(chi.URLParam(r, "id"), req.LocalCaseID)
	writeJSON(w, http.StatusOK, map[string]int{"records": n})
}

func (s *apiServer) startSync(w http.ResponseWriter, r *http.Request) {
	// The job outlives the request, so detach its context.
	if err := s.w.StartSync(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a sync job is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *apiServer) cancelSync(w http.ResponseWriter, r *http.Request) {
	s.w.CancelSync()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *apiServer) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"progress": s.w.SyncStatus(),
		"report":   s.w.SyncReport(),
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
