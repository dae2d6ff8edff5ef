// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

// ServeCmd starts the HTTP server exposing run_research as POST /runs
// (spec §6's external interface, served instead of invoked from the CLI).
type ServeCmd struct {
	Port            int           `help:"HTTP listen port." default:"8080"`
	ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"Grace period for in-flight runs on shutdown." default:"30s"`
}

// runRequest is the POST /runs body.
type runRequest struct {
	Question string `json:"question"`
}

// runResponse summarizes a finished run; the full artifact set lives on
// disk under RunDir (spec §6), not duplicated into the HTTP response.
type runResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	AbortReason string  `json:"abort_reason,omitempty"`
	RunDir      string  `json:"run_dir"`
	TotalCost   float64 `json:"total_cost_dollars"`
	TaskCount   int     `json:"task_count"`
	EntityCount int     `json:"entity_count"`
	ClaimCount  int     `json:"claim_count"`
	Report      string  `json:"report_markdown"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, closeCfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer closeCfg()

	obs, err := observability.NewFromConfig(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	e, err := newEngine(cfg, obs.Metrics())
	if err != nil {
		return err
	}
	defer e.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(obs.Tracer(), obs.Metrics()))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs.MetricsEnabled() {
		r.Handle(obs.MetricsEndpoint(), obs.MetricsHandler())
	}
	r.Post("/runs", handleRun(e))

	addr := fmt.Sprintf(":%d", c.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("deepresearch server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func handleRun(e *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body runRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if body.Question == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}

		run, err := e.orch.Run(req.Context(), body.Question)
		if err != nil {
			http.Error(w, fmt.Sprintf("research run failed: %v", err), http.StatusInternalServerError)
			return
		}

		dir, err := e.writer.WriteRun(e.cfg, run)
		if err != nil {
			http.Error(w, fmt.Sprintf("writing run directory: %v", err), http.StatusInternalServerError)
			return
		}

		resp := toRunResponse(run, dir)
		w.Header().Set("Content-Type", "application/json")
		if run.Status == model.RunAborted {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func toRunResponse(run *model.Run, dir string) runResponse {
	return runResponse{
		ID:          run.ID,
		Status:      string(run.Status),
		AbortReason: run.AbortReason,
		RunDir:      dir,
		TotalCost:   run.Cost.TotalDollars,
		TaskCount:   len(run.Tasks),
		EntityCount: len(run.Entities),
		ClaimCount:  len(run.Claims),
		Report:      run.ReportMarkdown,
	}
}
