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

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the control-surface routes.
func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", handleCreateJob(env))
		r.Get("/", handleListJobs(env))
		r.Get("/{jobID}", handleGetJob(env))
		r.Delete("/{jobID}", handleDeleteJob(env))
		r.Post("/{jobID}/start", handleStartJob(env))
		r.Post("/{jobID}/cancel", handleCancelJob(env))
		r.Get("/{jobID}/leads", handleListJobLeads(env))
	})

	r.Route("/steps", func(r chi.Router) {
		r.Post("/{stepID}/pass", handlePassLeads(env))
		r.Post("/{stepID}/retry", handleRetryLeads(env))
	})

	r.Route("/leads", func(r chi.Router) {
		r.Get("/{leadID}", handleGetLead(env))
		r.Patch("/{leadID}", handleEditLead(env))
		r.Delete("/{leadID}", handleDeleteLead(env))
	})

	r.Post("/convert", handleConvert(env))

	return r
}

func handleCreateJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg model.JobConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, model.NewValidationError("", "invalid request body"))
			return
		}
		job, err := env.Orchestrator.CreateJob(r.Context(), cfg)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func handleListJobs(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		jobs, err := env.Store.ListJobs(r.Context(), store.JobFilter{
			Status:   model.JobStatus(q.Get("status")),
			Platform: q.Get("platform"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleGetJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := env.Store.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		steps, err := env.Store.ListSteps(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			*model.Job
			Steps []model.Step `json:"steps"`
		}{job, steps})
	}
}

func handleDeleteJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := env.Orchestrator.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleStartJob kicks the run off asynchronously: a job runs to its next
// operator stop, which can take minutes, so the request returns 202 and
// progress is polled via GET /jobs/{id}.
func handleStartJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		job, err := env.Store.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		if job.Status != model.JobStatusDraft {
			writeError(w, &model.InvalidStateError{
				Entity: "job", ID: job.ID, State: string(job.Status), Op: "start"})
			return
		}

		go func() {
			if err := env.Orchestrator.StartJob(context.Background(), jobID); err != nil {
				zap.L().Error("async job run failed",
					zap.String("job_id", jobID), zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"job_id": jobID,
		})
	}
}

func handleCancelJob(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if err := env.Orchestrator.CancelJob(r.Context(), jobID); err != nil {
			writeError(w, err)
			return
		}
		job, err := env.Store.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleListJobLeads(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		leads, err := env.Store.ListLeads(r.Context(), store.LeadFilter{
			JobID:       chi.URLParam(r, "jobID"),
			Progression: model.Progression(q.Get("progression")),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, leads)
	}
}

type leadIDsRequest struct {
	LeadIDs []string `json:"lead_ids"`
}

func handlePassLeads(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req leadIDsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.LeadIDs) == 0 {
			writeError(w, model.NewValidationError("lead_ids", "lead_ids is required"))
			return
		}
		result, err := env.Orchestrator.PassLeads(r.Context(), chi.URLParam(r, "stepID"), req.LeadIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleRetryLeads(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req leadIDsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.LeadIDs) == 0 {
			writeError(w, model.NewValidationError("lead_ids", "lead_ids is required"))
			return
		}
		result, err := env.Orchestrator.RetryLeads(r.Context(), chi.URLParam(r, "stepID"), req.LeadIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleGetLead(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lead, err := env.Store.GetLead(r.Context(), chi.URLParam(r, "leadID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func handleEditLead(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || len(fields) == 0 {
			writeError(w, model.NewValidationError("", "expected a non-empty field map"))
			return
		}
		lead, err := editLead(r.Context(), env.Store, chi.URLParam(r, "leadID"), fields)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func handleDeleteLead(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := env.Store.DeleteLead(r.Context(), chi.URLParam(r, "leadID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleConvert(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Converter == nil {
			writeError(w, eris.New("place store not configured"))
			return
		}
		var req struct {
			LeadIDs     []string `json:"lead_ids"`
			ConvertedBy string   `json:"converted_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.LeadIDs) == 0 {
			writeError(w, model.NewValidationError("lead_ids", "lead_ids is required"))
			return
		}
		result, err := env.Converter.Convert(r.Context(), req.LeadIDs, req.ConvertedBy)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var valErr *model.ValidationError
	var stateErr *model.InvalidStateError
	var conflictErr *model.ConflictError
	switch {
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
	case store.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &stateErr), errors.As(err, &conflictErr):
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
