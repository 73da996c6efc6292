// Package server assembles the router, middleware stack and huma API, and
// runs the HTTP server until its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/janisto/greetings-api/internal/http/v1/routes"
	"github.com/janisto/greetings-api/internal/platform/config"
	applog "github.com/janisto/greetings-api/internal/platform/logging"
	"github.com/janisto/greetings-api/internal/platform/metrics"
	appmiddleware "github.com/janisto/greetings-api/internal/platform/middleware"
	"github.com/janisto/greetings-api/internal/platform/ratelimit"
	"github.com/janisto/greetings-api/internal/platform/respond"
)

const (
	title       = "Greetings API"
	docsPath    = "/api-docs"
	openAPIPath = "/openapi"
	schemasPath = "/schemas"
	metricsPath = "/metrics"
)

type options struct {
	version  string
	registry *prometheus.Registry
}

// Option customizes New.
type Option func(*options)

// WithVersion sets the API version reported in the OpenAPI document.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Server is a configured, not yet running, HTTP server. When metrics are
// enabled a second server exposes them on the metrics address.
type Server struct {
	cfg           config.Config
	router        chi.Router
	api           huma.API
	httpServer    *http.Server
	metricsServer *http.Server
}

// New validates cfg and builds the handler tree.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	router.Use(
		appmiddleware.Security(docsPath),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Forwarded-For and X-Real-IP. Only deploy behind a
		// proxy that overwrites them.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(cfg.MaxBodyBytes),
		applog.RequestLogger(),
		applog.AccessLogger(),
	)

	var onReject func()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(o.registry)
		router.Use(m.Middleware())
		onReject = m.RateLimitRejected
	}
	router.Use(
		ratelimit.Middleware(cfg.RateLimit, cfg.RateLimitBurst, onReject),
		respond.Recoverer(),
	)

	humaCfg := huma.DefaultConfig(title, o.version)
	humaCfg.OpenAPIPath, humaCfg.DocsPath, humaCfg.SchemasPath = "", "", ""
	if cfg.DocsEnabled {
		humaCfg.OpenAPIPath, humaCfg.DocsPath, humaCfg.SchemasPath = openAPIPath, docsPath, schemasPath
	}
	// Drop the $schema link transformer: greeting bodies carry only their
	// documented fields.
	humaCfg.CreateHooks = nil
	api := humachi.New(router, humaCfg)

	api.OpenAPI().OnAddOperation = append(api.OpenAPI().OnAddOperation, addCBORContent)

	routes.Register(api)

	s := &Server{
		cfg:        cfg,
		router:     router,
		api:        api,
		httpServer: newHTTPServer(cfg, cfg.Addr(), router),
	}
	if m != nil {
		s.metricsServer = newHTTPServer(cfg, cfg.MetricsAddr, metricsRouter(m))
	}
	return s, nil
}

func newHTTPServer(cfg config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// metricsRouter serves only the exposition endpoint. Scrapes are not counted
// in the API metrics and never hit the rate limiter.
func metricsRouter(m *metrics.Metrics) http.Handler {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())
	router.Use(respond.Recoverer())
	router.Method(http.MethodGet, metricsPath, m.Handler())
	return router
}

// addCBORContent documents application/cbor next to every JSON body.
func addCBORContent(_ *huma.OpenAPI, op *huma.Operation) {
	if op.RequestBody != nil && op.RequestBody.Content != nil {
		if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
			op.RequestBody.Content["application/cbor"] = jsonContent
		}
	}
	for _, resp := range op.Responses {
		if resp.Content == nil {
			continue
		}
		if jsonContent, ok := resp.Content["application/json"]; ok {
			resp.Content["application/cbor"] = jsonContent
		}
	}
}

// Handler returns the root handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics listener's handler, or nil when metrics
// are disabled.
func (s *Server) MetricsHandler() http.Handler {
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.Handler
}

// API returns the huma API the routes are registered on.
func (s *Server) API() huma.API {
	return s.api
}

// Run listens on the API address, and on the metrics address when metrics
// are enabled, and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	var metricsLn net.Listener
	if s.metricsServer != nil {
		metricsLn, err = lc.Listen(ctx, "tcp", s.metricsServer.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on %s: %w", s.metricsServer.Addr, err)
		}
	}
	return s.Serve(ctx, ln, metricsLn)
}

// Serve accepts API connections on ln, and metrics connections on metricsLn
// when metrics are enabled, until ctx is done. Both servers then shut down
// gracefully within the configured shutdown timeout. A nil error means a
// clean shutdown. If either server fails the other is shut down too.
func (s *Server) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	if s.metricsServer != nil && metricsLn == nil {
		_ = ln.Close()
		return errors.New("metrics enabled but no metrics listener given")
	}
	if s.metricsServer == nil && metricsLn != nil {
		_ = metricsLn.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	s.serve(ctx, gctx, g, "api", s.httpServer, ln)
	if s.metricsServer != nil {
		s.serve(ctx, gctx, g, "metrics", s.metricsServer, metricsLn)
	}
	return g.Wait()
}

func (s *Server) serve(ctx, gctx context.Context, g *errgroup.Group, name string, srv *http.Server, ln net.Listener) {
	g.Go(func() error {
		applog.LogInfo(ctx, "server listening", zap.String("server", name), zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s serve: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		applog.LogInfo(ctx, "shutting down server", zap.String("server", name), zap.Duration("timeout", s.cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		applog.LogInfo(ctx, "server exited", zap.String("server", name))
		return nil
	})
}
