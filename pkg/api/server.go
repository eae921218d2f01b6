package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/metrics"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// ControlPlane is the slice of the orchestrator the API serves.
// Satisfied by orchestrator.Orchestrator.
type ControlPlane interface {
	DeployInfrastructure(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error)
	AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) error
	Status() types.SystemStatus
	Running() bool
	Budget(workspaceID string) types.BudgetConfig
	SetBudget(workspaceID string, cfg types.BudgetConfig) error
	CheckQuota(workspaceID string, estimatedCost float64) types.QuotaDecision
}

// AuditLog is the slice of the audit recorder the API reads.
// Satisfied by audit.Recorder.
type AuditLog interface {
	Query(since time.Time, limit int) ([]*events.Event, error)
}

// Deps carries the collaborators the server exposes. Control is
// required; the rest are optional and their endpoints answer 503 when
// absent.
type Deps struct {
	Control ControlPlane
	Store   storage.Store
	Broker  *events.Broker
	Audit   AuditLog
	Metrics *metrics.Metrics
}

// Config tunes the HTTP surface.
type Config struct {
	// BindAddress is the host:port the server listens on.
	BindAddress string

	// AuthToken protects /api/v1 when set. Empty disables auth for
	// local use.
	AuthToken string

	// Version is reported by /healthz.
	Version string

	// RequestsPerSecond caps each client's request rate on /api/v1.
	// Zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// Server is the REST transport over the control plane. Handlers
// translate between HTTP and orchestrator calls and do no business
// logic of their own.
type Server struct {
	control ControlPlane
	store   storage.Store
	broker  *events.Broker
	audit   AuditLog
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cfg     Config
	engine  *gin.Engine
	limiter *clientLimiter
	stopCh  chan struct{}

	mu   sync.Mutex
	http *http.Server
	addr string
}

// New builds a stopped server with all routes registered.
func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Control == nil {
		return nil, fmt.Errorf("api server needs a control plane")
	}

	s := &Server{
		control: deps.Control,
		store:   deps.Store,
		broker:  deps.Broker,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  log.WithComponent("api"),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newClientLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), otelgin.Middleware("mobius"))
	if s.metrics != nil {
		engine.Use(s.requestMetrics())
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/readyz", s.readyz)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")
	v1.Use(s.bearerAuth())
	if s.limiter != nil {
		v1.Use(s.rateLimit())
	}
	v1.POST("/deployments", s.createDeployment)
	v1.GET("/deployments", s.listDeployments)
	v1.GET("/deployments/:id", s.getDeployment)
	v1.GET("/status", s.getStatus)
	v1.POST("/recovery", s.triggerRecovery)
	v1.GET("/recovery/history", s.recoveryHistory)
	v1.GET("/budget", s.getBudget)
	v1.PUT("/budget", s.putBudget)
	v1.GET("/events", s.listEvents)
	v1.GET("/events/ws", s.streamEvents)

	s.engine = engine
	return s, nil
}

// Start listens on the configured address and serves in the
// background. The listen happens here so a bad address fails fast.
// Starting a running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return errdefs.NewConfiguration(
			fmt.Sprintf("failed to listen on %s", s.cfg.BindAddress), err).
			WithHint("check the api bind address and that the port is free")
	}

	// No WriteTimeout: the event stream holds its connection open.
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.http = srv
	s.addr = lis.Addr().String()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Str("error", err.Error()).Msg("api server failed")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Bool("auth", s.cfg.AuthToken != "").Msg("api server listening")
	return nil
}

// Stop drains in-flight requests until ctx expires and tells event
// stream connections to finish. Stopping a stopped server is a no-op;
// a stopped server cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	if srv == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	s.logger.Info().Msg("api server stopped")
	return err
}

// Addr returns the bound address once started, useful when the
// configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}
