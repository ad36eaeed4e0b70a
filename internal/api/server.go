package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/audit"
	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/logging"
	"github.com/Kenox00/door-lock-sub001/internal/notify"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher is the part of the dispatch manager the API drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.DispatchRequest) (dispatch.DispatchResult, error)
	GetStatus(deviceID string) (dispatch.ConnectionSnapshot, bool)
	ListConnected() []dispatch.ConnectionSnapshot
	GetCommand(commandID string) (dispatch.PendingSnapshot, bool)
	ListPending(deviceID string) []dispatch.PendingSnapshot
	Stats() dispatch.Stats
}

// DeviceChannel is the lock-facing WebSocket endpoint.
type DeviceChannel interface {
	http.Handler
	ConnectionCount() int
}

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Session  config.SessionConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	DB       *database.DB
	Devices  *device.Registry
	Users    auth.UserRepository
	Audit    audit.Repository
	Dispatch Dispatcher
	Hub      *notify.Hub

	// DeviceChannel is mounted at Session.Path when set.
	DeviceChannel DeviceChannel

	// Broker is optional; it only feeds metrics and health.
	Broker BrokerStatus

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	sessionCfg    config.SessionConfig
	secCfg        config.SecurityConfig
	logger        *logging.Logger
	db            *database.DB
	devices       *device.Registry
	users         auth.UserRepository
	auditRepo     audit.Repository
	auditCh       chan *audit.AuditLog
	dispatcher    Dispatcher
	hub           *notify.Hub
	deviceChannel DeviceChannel
	broker        BrokerStatus
	tickets       *ticketStore
	version       string
	startTime     time.Time
	server        *http.Server
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Dispatch == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("notification hub is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		sessionCfg:    deps.Session,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		db:            deps.DB,
		devices:       deps.Devices,
		users:         deps.Users,
		auditRepo:     deps.Audit,
		dispatcher:    deps.Dispatch,
		hub:           deps.Hub,
		deviceChannel: deps.DeviceChannel,
		broker:        deps.Broker,
		tickets:       newTicketStore(),
		version:       deps.Version,
		startTime:     time.Now(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the ticket cleanup and audit writer goroutines and launches
// the listener in the background. Stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.cleanTicketsLoop(srvCtx)
	if s.auditCh != nil {
		go func() {
			defer close(s.done)
			s.drainAuditLog(srvCtx)
		}()
	} else {
		close(s.done)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
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
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
