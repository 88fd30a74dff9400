package api

import (
	"net/http"

	"github.com/RichardoC/office-gpt/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSOrigin string
	// Limiter may be nil to disable rate limiting.
	Limiter *RateLimiter
}

// NewRouter registers the API routes and wraps them in the middleware chain.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	// Router middleware only runs on matched routes.
	r.NotFoundHandler = metrics.Middleware(http.HandlerFunc(notFound))
	r.MethodNotAllowedHandler = metrics.Middleware(http.HandlerFunc(methodNotAllowed))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/conversations/user/{userId}", h.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/detail/{id}", h.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", h.UpdateConversation).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/chat", h.HandleMessage).Methods(http.MethodPost)

	var handler http.Handler = r
	if cfg.Limiter != nil {
		handler = cfg.Limiter.Middleware(handler)
	}
	handler = CORS(cfg.CORSOrigin)(handler)
	handler = AccessLog(logger)(handler)
	handler = RequestID(handler)
	handler = Recover(logger)(handler)
	return handler
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeStaticError(w, http.StatusNotFound, `{"error":"Not found"}`)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeStaticError(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
}

func writeStaticError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body + "\n"))
}
