// Package server exposes the bridge over HTTP: the OAuth callback, health
// and metrics endpoints, and a small JSON API over the cached state.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/bridge"
	"github.com/joshp123/nibebridge/internal/oauth"
)

// Config wires a Server.
type Config struct {
	Addr       string
	Bridge     *bridge.Service
	Correlator *oauth.Correlator
	Session    *oauth.Session
	Logger     *zap.Logger
}

type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{
		bridge:     cfg.Bridge,
		correlator: cfg.Correlator,
		session:    cfg.Session,
		log:        log,
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/oauth/authorize", h.authorize)
	r.Get("/oauth/callback", h.callback)

	r.Route("/api", func(r chi.Router) {
		r.Use(gziphandler.GzipHandler)
		r.Get("/systems", h.listSystems)
		r.Route("/systems/{systemID}", func(r chi.Router) {
			r.Get("/", h.getSystem)
			r.Get("/status", h.getStatus)
			r.Get("/notifications", h.getNotifications)
			r.Get("/units", h.getUnits)
			r.Get("/units/{unitID}/categories", h.getCategories)
			r.Get("/parameters/{parameterID}", h.getParameter)
			r.Put("/parameters/{parameterID}", h.putParameter)
			r.Get("/smarthome/mode", h.getSmartHomeMode)
			r.Put("/smarthome/mode", h.putSmartHomeMode)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
