package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	publish "pet-adoption-pipeline/06_publish"
	"pet-adoption-pipeline/history"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/pipeline"
	"pet-adoption-pipeline/types"
)

const maxBodyBytes = 1 << 20

// Generator runs one generation request
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (types.RenderResult, error)
}

// Publisher dispatches a finished video to platforms
type Publisher interface {
	Publish(ctx context.Context, post publish.Post, targets []string) map[string]publish.Outcome
}

// History is the subset of the history store the API reads and writes
type History interface {
	ListRenders(limit int) ([]history.Render, error)
	GetRender(jobID string) (history.Render, error)
	ListPublishes(jobID string) ([]history.Publish, error)
	RecordPublish(p history.Publish) (history.Publish, error)
}

// Options configure the API
type Options struct {
	RequestTimeout time.Duration
	// InputRoots bound pet_dir, clips_dir, clips, music_dir and sticker
	// paths; OutputRoot bounds out and video_path. Empty means the working
	// directory.
	InputRoots []string
	OutputRoot string
}

// App serves the HTTP API
type App struct {
	router   *chi.Mux
	gen      Generator
	pub      Publisher
	store    History
	validate *validator.Validate
	logger   zerolog.Logger
	timeout  time.Duration
	inputs   roots
	outputs  roots
}

// NewApp wires the routes. pub and store may be nil; their routes then
// answer 503.
func NewApp(gen Generator, pub Publisher, store History, opts Options) *App {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	a := &App{
		router:   chi.NewRouter(),
		gen:      gen,
		pub:      pub,
		store:    store,
		validate: validator.New(),
		logger:   logging.WithComponent("server"),
		timeout:  timeout,
		inputs:   newRoots(opts.InputRoots...),
		outputs:  newRoots(opts.OutputRoot),
	}
	a.registerRoutes()
	return a
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(a.requestLogger)
	a.router.Use(middleware.Recoverer)

	a.router.Get("/healthz", a.health)

	a.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(a.timeout))
		r.Post("/generate", a.generate)
		r.Post("/publish", a.publish)
		r.Get("/renders", a.listRenders)
		r.Get("/renders/{id}", a.getRender)
	})
}

// Serve listens on addr until ctx ends, then shuts down gracefully
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (a *App) generate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.checkRequest(req); err != nil {
		a.logger.Warn().Err(err).Msg("generate rejected")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.gen.Generate(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		a.logger.Warn().Err(err).Int("status", status).Msg("generate failed")
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type publishRequest struct {
	JobID       string   `json:"job_id"`
	VideoPath   string   `json:"video_path" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Targets     []string `json:"targets" validate:"required,min=1,dive,required"`
}

func (a *App) publish(w http.ResponseWriter, r *http.Request) {
	if a.pub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("publishing is not configured"))
		return
	}
	var req publishRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.outputs.check("video_path", req.VideoPath); err != nil {
		a.logger.Warn().Err(err).Msg("publish rejected")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	post := publish.Post{
		VideoPath:   req.VideoPath,
		Title:       req.Title,
		Description: req.Description,
		Hashtags:    req.Hashtags,
	}
	outcomes := a.pub.Publish(r.Context(), post, req.Targets)

	if a.store != nil {
		for _, o := range outcomes {
			if _, err := a.store.RecordPublish(history.Publish{
				JobID:     req.JobID,
				Platform:  o.Platform,
				Success:   o.Success,
				Message:   o.Message,
				URL:       o.URL,
				VideoPath: o.VideoPath,
				CreatedAt: o.At,
			}); err != nil {
				a.logger.Warn().Err(err).Msg("could not record publish history")
			}
		}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (a *App) listRenders(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history is not configured"))
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}
	renders, err := a.store.ListRenders(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if renders == nil {
		renders = []history.Render{}
	}
	writeJSON(w, http.StatusOK, renders)
}

func (a *App) getRender(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history is not configured"))
		return
	}
	id := chi.URLParam(r, "id")
	render, err := a.store.GetRender(id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pubs, err := a.store.ListPublishes(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"render": render, "publishes": pubs})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// statusFor maps pipeline errors to HTTP statuses
func statusFor(err error) int {
	var (
		validation validator.ValidationErrors
		meta       *types.InsufficientMetadataError
		noClips    *types.NoClipsAvailableError
		conflict   *types.OutputConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &meta), errors.As(err, &noClips):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
