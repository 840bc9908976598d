package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/pairpad/internal/metrics"
)

// NewRouter mounts the REST endpoints, metrics and the websocket handler
func NewRouter(a *API, wsHandler http.HandlerFunc, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(a.log),
		middleware.Recoverer,
		metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	r.Get("/health", a.HealthHandler)
	r.Get("/api/stats", a.StatsHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", a.CreateRoomHandler)
		r.Get("/", a.ListRoomsHandler)
		r.Get("/{id}", a.GetRoomHandler)
	})

	r.Post("/autocomplete", a.AutocompleteHandler)

	r.Get("/ws/{roomID}", wsHandler)

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
