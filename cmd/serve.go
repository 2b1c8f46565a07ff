package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for runs and lead management",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := func() {
			if _, err := env.pipeline.Run(ctx); err != nil {
				zap.L().Error("api-triggered run failed", zap.Error(err))
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env.store, runner),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API. runner executes one pipeline cycle; the POST
// /api/runs handler fires it in the background.
func newRouter(st store.Store, runner func()) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := st.ListRuns(req.Context(), 50)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if runs == nil {
				runs = []model.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			go runner()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/leads", func(w http.ResponseWriter, req *http.Request) {
			leads, err := st.ListLeads(req.Context(), 100)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if leads == nil {
				leads = []model.Lead{}
			}
			writeJSON(w, http.StatusOK, leads)
		})

		r.Get("/leads/{id}", func(w http.ResponseWriter, req *http.Request) {
			lead, err := st.GetLead(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, lead)
		})

		r.Patch("/leads/{id}/status", func(w http.ResponseWriter, req *http.Request) {
			handleLeadStatus(w, req, st)
		})
	})

	return r
}

func handleLeadStatus(w http.ResponseWriter, req *http.Request, st store.Store) {
	id := chi.URLParam(req, "id")

	var body struct {
		Status string `json:"status"`
		Event  string `json:"event"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
		return
	}

	next, ok := model.ParseLeadStatus(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown status %q", body.Status))
		return
	}

	lead, err := st.GetLead(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if !lead.Status.CanTransition(next) {
		writeError(w, http.StatusConflict,
			eris.Errorf("cannot move lead from %s to %s", lead.Status, next))
		return
	}

	event := body.Event
	if event == "" {
		event = "status_changed"
	}
	if err := st.UpdateLeadStatus(req.Context(), id, next, event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	updated, err := st.GetLead(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
