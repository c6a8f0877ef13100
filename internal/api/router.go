// Package api exposes the extraction process and the aggregating service
// over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/aggregate"
	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/extract"
	"github.com/cleared-dev/harvest/internal/store"
)

// NewExtractorRouter serves the extraction process: POST /extract streams
// progress chunks for one account.
func NewExtractorRouter(coord *extract.Coordinator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	h := &extractorHandler{coord: coord, logger: logger.With(zap.String("component", "ExtractorHTTPHandler"))}
	registerHealth(r, logger)
	r.Get("/banks", h.banks)
	r.Post("/extract", h.extract)
	return r
}

// NewServiceRouter serves the aggregating service: accounts, lifecycle
// records, the bank catalog and the out-of-band MFA channel.
func NewServiceRouter(svc *aggregate.Service, db *store.Store, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	h := &serviceHandler{svc: svc, db: db, logger: logger.With(zap.String("component", "ServiceHTTPHandler"))}
	registerHealth(r, logger)
	r.Get("/banks", h.banks)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Get("/{id}/transactions", h.listTransactions)
	})

	r.Route("/extractions", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/", h.listExtractions)
		r.Get("/{id}", h.getExtraction)
	})

	r.Route("/mfa/{bank}", func(r chi.Router) {
		r.Get("/", h.getChallenge)
		r.Put("/", h.putChallenge)
		r.Post("/", h.submitChallenge)
		r.Delete("/", h.deleteChallenge)
	})
	return r
}

func registerHealth(r chi.Router, logger *zap.Logger) {
	startedAt := time.Now()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, logger, http.StatusOK, "ok", map[string]string{
			"status": "ok",
			"uptime": time.Since(startedAt).Truncate(time.Second).String(),
		})
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("component", "HTTP"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrUnknownBank):
		return http.StatusBadRequest
	case errors.Is(err, aggregate.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, aggregate.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
