package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/infra/auth"
)

// MessageHandler: конвейер шлюза (engine.Gateway).
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) domain.Reply
}

// Deps: зависимости локального API. Audit, Gatherer и Chat могут быть nil.
type Deps struct {
	Gateway      MessageHandler
	Audit        audit.Reader
	Gatherer     prometheus.Gatherer
	APIKey       auth.TokenValidator
	MaxSendBytes int64
	// Chat включает /v1/inbox
	Chat Chat
}

// Server: локальный HTTP API шлюза.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	deps   Deps
}

func NewServer(d Deps, logger *zap.Logger) *Server {
	if d.APIKey == nil {
		d.APIKey = denyAll{}
	}
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("http-api"),
		deps:   d,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// Публичные
	r.Group(func(r chi.Router) {
		r.Get("/health", s.health)
		if s.deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		}
	})

	// Только с ключом API
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.deps.APIKey, s.logger))

		r.Post("/v1/messages", s.postMessage)
		r.Get("/v1/audit", s.getAudit)
		if s.deps.Chat != nil {
			r.Post("/v1/inbox", s.postInbox)
		}
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// denyAll закрывает /v1/*, если ключ API не задан.
type denyAll struct{}

func (denyAll) Verify(string) bool { return false }
