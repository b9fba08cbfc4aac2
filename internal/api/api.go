// Package api provides the management HTTP API for VentaBot.
//
// It exposes endpoints for flows, orders, auto replies, business bot control,
// unanswered messages and daily metrics. Customers never talk to this API;
// it serves the business dashboard and operator tooling.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/session"
	"github.com/nrojasv/ventabot/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server is the management API server.
type Server struct {
	st         store.Store
	orders     *orders.Service
	sessions   *session.Registry
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates an API server over the given store, order service and
// session registry.
func NewServer(st store.Store, orderSvc *orders.Service, sessions *session.Registry, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		st:       st,
		orders:   orderSvc,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/flows", s.flowsHandler)
	s.mux.HandleFunc("/flows/", s.flowByIDHandler)
	s.mux.HandleFunc("/orders", s.ordersHandler)
	s.mux.HandleFunc("/orders/", s.orderByIDHandler)
	s.mux.HandleFunc("/order-config", s.orderConfigHandler)
	s.mux.HandleFunc("/auto-replies", s.autoRepliesHandler)
	s.mux.HandleFunc("/auto-replies/", s.autoReplyByIDHandler)
	s.mux.HandleFunc("/businesses/", s.businessHandler)
	s.mux.HandleFunc("/unanswered", s.unansweredHandler)
	s.mux.HandleFunc("/metrics", s.metricsHandler)
}

// RegisterHandler mounts an extra handler on the server's mux. Used to attach
// transport webhooks (e.g. the Twilio inbound webhook) before Run.
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("API server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// requireBusinessID extracts the business_id query parameter. Writes a 400
// response and returns false when it is missing.
func requireBusinessID(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := r.URL.Query().Get("business_id")
	if businessID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("business_id query parameter is required"))
		return "", false
	}
	return businessID, true
}
