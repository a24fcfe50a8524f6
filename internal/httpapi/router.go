package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the transaction-ingestion and rule-authoring
// surface (§6) behind request-id tagging, recovery, and permissive
// CORS for the rule-authoring UI.
func NewRouter(h *Handlers, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(gzhttp.GzipHandler)
	r.Use(validateSchema(newSchemaRouter()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/transactions", h.HandleIngestTransaction)

	r.Route("/rules", func(r chi.Router) {
		r.Post("/validate", h.HandleValidateRule)
		r.Post("/", h.HandleCreateRule)
		r.Get("/", h.HandleListRules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetRule)
			r.Patch("/", h.HandlePatchRule)
			r.Delete("/", h.HandleDeleteRule)
			r.Get("/history", h.HandleRuleHistory)
		})
	})

	return r
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
