// Package api exposes sync jobs over HTTP with Server-Sent Events progress.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mailsync/internal/app"
	"mailsync/internal/config"
	"mailsync/internal/events"
	"mailsync/internal/job"
	"mailsync/internal/mailbox"
	"mailsync/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Syncer runs and stops sync jobs
type Syncer interface {
	Start(ctx context.Context, req app.Request) (<-chan events.Event, error)
	Stop(jobID string) error
	Running(jobID string) bool
	TestConnection(ctx context.Context, cfg mailbox.Config) error
}

// API serves the sync endpoints
type API struct {
	cfg     *config.Config
	syncer  Syncer
	metrics *metrics.Collector
	logger  *zap.Logger
	limiter *ipLimiter
}

// New creates the HTTP API
func New(cfg *config.Config, syncer Syncer, metricsCollector *metrics.Collector, logger *zap.Logger) *API {
	a := &API{
		cfg:     cfg,
		syncer:  syncer,
		metrics: metricsCollector,
		logger:  logger,
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateWindowSec > 0 {
		a.limiter = newIPLimiter(cfg.Server.RateLimit, time.Duration(cfg.Server.RateWindowSec)*time.Second)
	}
	return a
}

// Handler returns a http handler for the API.
//
// Implemented routes:
// - POST /api/sync
// - POST /api/stop
// - GET  /api/status/{sync_id}
// - GET  /api/stats
// - POST /api/stats/reset
// - POST /api/test-connection
// - GET  /metrics
// - GET  /healthz
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequest)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	if a.cfg.Server.Metrics {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.middleware)
		}
		r.Post("/sync", a.syncHandler)
		r.Post("/stop", a.stopHandler)
		r.Get("/status/{sync_id}", a.statusHandler)
		r.Get("/stats", a.statsHandler)
		r.Post("/stats/reset", a.resetStatsHandler)
		r.Post("/test-connection", a.testConnectionHandler)
	})
	return r
}

func (a *API) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (a *API) syncHandler(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var payload syncRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.logger.Warn("Error parsing sync body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "can't unmarshal body", Message: err.Error()})
		return
	}

	req, err := a.mapSyncRequest(&payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload", Message: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, err := a.syncer.Start(r.Context(), req)
	if errors.Is(err, job.ErrJobExists) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Job already running"})
		return
	}
	if err != nil {
		a.logger.Error("Failed to start sync", zap.String("sync_id", req.JobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	a.logger.Info("Sync requested",
		zap.String("sync_id", req.JobID),
		zap.String("source", req.Source.Addr()),
		zap.String("target", req.Target.Addr()),
		zap.Bool("dry_run", req.Options.DryRun),
	)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Sync-Id", req.JobID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream is drained to the end even after the client has gone;
	// the syncer notices the cancelled request context and stops the job.
	for e := range stream {
		data, err := json.Marshal(e)
		if err != nil {
			a.logger.Error("Failed to encode event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			continue
		}
		flusher.Flush()
	}
}

func (a *API) mapSyncRequest(p *syncRequest) (app.Request, error) {
	since, err := app.ParseSinceDate(p.SinceDate)
	if err != nil {
		return app.Request{}, err
	}

	id := p.SyncID
	if id == "" {
		id = uuid.New().String()
	}

	req := app.Request{
		JobID:       id,
		Concurrency: app.ClampConcurrency(p.Concurrency.or(1), a.cfg.Engine.MaxWorkers),
		Source: a.cfg.MailboxConfig(p.SrcHost, p.SrcPort.or(mailbox.DefaultPort),
			p.SrcUser, p.SrcPass, p.SrcSecure.or(true)),
		Target: a.cfg.MailboxConfig(p.DestHost, p.DestPort.or(mailbox.DefaultPort),
			p.DestUser, p.DestPass, p.DestSecure.or(true)),
		Options: app.Options{
			DryRun:         p.DryRun.or(false),
			Since:          since,
			ExcludeFolders: app.ParseExcludeFolders(p.ExcludeFolders),
		},
	}

	if err := req.Source.Validate(); err != nil {
		return app.Request{}, fmt.Errorf("source: %w", err)
	}
	if !req.Options.DryRun {
		if err := req.Target.Validate(); err != nil {
			return app.Request{}, fmt.Errorf("destination: %w", err)
		}
	}
	return req, nil
}

func (a *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var payload stopRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "can't unmarshal body", Message: err.Error()})
		return
	}

	if err := a.syncer.Stop(payload.SyncID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, statusResponse{Status: "error", Message: "Job not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (a *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sync_id")
	if !a.syncer.Running(id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{Status: "running", Active: true})
}

func (a *API) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.metrics.Stats())
}

func (a *API) resetStatsHandler(w http.ResponseWriter, _ *http.Request) {
	a.metrics.ResetStats()
	writeJSON(w, http.StatusOK, connectionResponse{Success: true})
}

func (a *API) testConnectionHandler(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var payload connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "can't unmarshal body", Message: err.Error()})
		return
	}
	if payload.Host == "" || payload.User == "" || payload.Pass == "" {
		writeJSON(w, http.StatusOK, connectionResponse{Error: "Missing Host, User or Password"})
		return
	}

	cfg := a.cfg.MailboxConfig(payload.Host, payload.Port.or(mailbox.DefaultPort), payload.User, payload.Pass, payload.Secure.or(true))
	if err := a.syncer.TestConnection(r.Context(), cfg); err != nil {
		a.logger.Info("Connection test failed", zap.String("host", cfg.Addr()), zap.Error(err))
		writeJSON(w, http.StatusOK, connectionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
