// Package api provides the HTTP REST API and WebSocket server for Verdant Core.
//
// It exposes kit registry operations, the live measurement publish/subscribe
// channel, and account management endpoints to kits (plant-monitoring
// stations) and dashboard viewers.
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
	"github.com/verdantlab/verdant-core/internal/infrastructure/influxdb"
	"github.com/verdantlab/verdant-core/internal/infrastructure/logging"
	"github.com/verdantlab/verdant-core/internal/kit"
	"github.com/verdantlab/verdant-core/internal/measurement"
	"github.com/verdantlab/verdant-core/internal/stream"
)

// In-flight requests get this long to finish once Close is called.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds everything the API server needs. Influx is the only optional
// entry; measurements still persist and fan out without it.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Kits       *kit.Registry
	Users      auth.UserRepository
	Resolver   *auth.Resolver
	Normalizer *measurement.Normalizer
	Store      measurement.Store
	Streams    *stream.Registry
	Influx     *influxdb.Client
	Version    string
}

func (d Deps) check() error {
	missing := ""
	switch {
	case d.Logger == nil:
		missing = "logger"
	case d.Kits == nil:
		missing = "kit registry"
	case d.Users == nil:
		missing = "user repository"
	case d.Resolver == nil:
		missing = "identity resolver"
	case d.Normalizer == nil:
		missing = "measurement normalizer"
	case d.Store == nil:
		missing = "measurement store"
	case d.Streams == nil:
		missing = "stream registry"
	default:
		return nil
	}
	return fmt.Errorf("%s is required", missing)
}

// Server is the HTTP API server for Verdant Core. It owns the listener,
// routes, middleware, and the WebSocket hub. Create with New, run with
// Start, stop with Close.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	kits       *kit.Registry
	users      auth.UserRepository
	resolver   *auth.Resolver
	normalizer *measurement.Normalizer
	store      measurement.Store
	streams    *stream.Registry
	influx     *influxdb.Client
	version    string
	server     *http.Server
	hub        *Hub
	tickets    *ticketStore
	cancel     context.CancelFunc // stops background goroutines on Close()
}

// New validates deps and returns a server ready for Start.
func New(deps Deps) (*Server, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		kits:       deps.Kits,
		users:      deps.Users,
		resolver:   deps.Resolver,
		normalizer: deps.Normalizer,
		store:      deps.Store,
		streams:    deps.Streams,
		influx:     deps.Influx,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}, nil
}

// Start launches the WebSocket hub, the ticket janitor, and the HTTP
// listener. The listener runs in a background goroutine; a failed bind
// surfaces in the log rather than here, matching the other long-running
// components.
func (s *Server) Start(ctx context.Context) error {
	// Derive an internal context so Close() can stop the background
	// goroutines independently of the parent.
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	readTimeout := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go s.serve()
	return nil
}

func (s *Server) serve() {
	var err error
	if s.cfg.TLS.Enabled {
		s.logger.Info("API server starting with TLS",
			"address", s.server.Addr,
			"cert", s.cfg.TLS.CertFile,
		)
		err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server error", "error", err)
	}
}

// Close drains in-flight requests for up to gracefulShutdownTimeout, then
// forcefully closes whatever remains.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
