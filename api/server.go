/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind a proxy
  3. Logger:     Structured request log through zerolog
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for a back-office frontend

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /metrics              Prometheus exposition
  /api/inventory/*      Movements and transaction lifecycle
  /api/stores/*         Position and history queries
  /api/events           Master ledger feed
  /api/transfers/*      Transfer documents
  /api/counts/*         Count documents

SECURITY NOTE:
  No authentication middleware. The actor header is trusted.

SEE ALSO:
  - handlers.go, documents.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	AllowedOrigins []string
	Metrics        http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/receipts", h.Receive)
			r.Post("/sales", h.Sell)
			r.Post("/adjustments", h.Adjust)

			r.Route("/transactions/{id}", func(r chi.Router) {
				r.Get("/", h.GetTransaction)
				r.Post("/approve", h.ApproveTransaction)
				r.Post("/post", h.PostTransaction)
				r.Post("/cancel", h.CancelTransaction)
			})
		})

		r.Route("/stores/{store}/products/{product}", func(r chi.Router) {
			r.Get("/position", h.GetPosition)
			r.Get("/history", h.GetHistory)
		})

		r.Get("/events", h.ListEvents)

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.CreateTransfer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTransfer)
				r.Post("/lines", h.AddTransferLine)
				r.Post("/approve", h.ApproveTransfer)
				r.Post("/ship", h.ShipTransfer)
				r.Post("/receive", h.ReceiveTransfer)
				r.Post("/cancel", h.CancelTransfer)
			})
		})

		r.Route("/counts", func(r chi.Router) {
			r.Post("/", h.CreateCount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCount)
				r.Post("/lines", h.AddCountLine)
				r.Post("/approve", h.ApproveCount)
				r.Post("/post", h.PostCount)
				r.Post("/cancel", h.CancelCount)
			})
		})
	})

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
