// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/service"
)

// Service interfaces for dependency injection and testing

// LeaderboardServiceInterface defines the read operations of the dashboard
type LeaderboardServiceInterface interface {
	ParseLeaderboardRequest(sortBy, limit, location string) (service.LeaderboardRequest, error)
	GetLeaderboard(ctx context.Context, req service.LeaderboardRequest) (*service.LeaderboardResult, error)
	Status(ctx context.Context) (*service.StatusResult, error)
	Debug(ctx context.Context) (*service.DebugResult, error)
}

// SyncServiceInterface triggers a leaderboard rebuild
type SyncServiceInterface interface {
	Sync(ctx context.Context) (*models.SyncSummary, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router             *mux.Router
	httpServer         *http.Server
	leaderboardService LeaderboardServiceInterface
	syncService        SyncServiceInterface
	health             HealthChecker
	rateLimiter        *RateLimiter
	logger             *logging.Logger
	config             *ServerConfig
	stopSweep          chan struct{}
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerSecond and Burst bound each client address
	RequestsPerSecond int
	Burst             int
	// TrustProxy keys rate limits by X-Forwarded-For
	TrustProxy bool
}

// limiterIdle is how long a client's token bucket outlives its last request
const limiterIdle = 10 * time.Minute

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	logger *logging.Logger,
	leaderboardService LeaderboardServiceInterface,
	syncService SyncServiceInterface,
	health HealthChecker,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:             mux.NewRouter(),
		leaderboardService: leaderboardService,
		syncService:        syncService,
		health:             health,
		rateLimiter:        NewRateLimiter(config.RequestsPerSecond, config.Burst, config.TrustProxy),
		logger:             logger.WithField("component", "api"),
		config:             config,
		stopSweep:          make(chan struct{}),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: the logger must wrap recovery so panics are logged
	// with the request id
	s.router.Use(RequestLoggerMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(s.rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/customers", s.handleGetCustomers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/debug", s.handleDebug).Methods(http.MethodGet)

	// Unmatched requests get the same JSON envelope as handler errors
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(handleNotFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondFailure(w, http.StatusNotFound, fmt.Sprintf("Route %s not found", r.URL.Path))
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path))
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Health check failed")
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]string{
		"status":  status,
		"service": "loyalty-leaderboard",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	go s.sweepLimiters()
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) sweepLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.rateLimiter.Sweep(limiterIdle); n > 0 {
				s.logger.WithField("clients", n).Debug("Dropped idle rate limiters")
			}
		case <-s.stopSweep:
			return
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	close(s.stopSweep)
	return s.httpServer.Shutdown(ctx)
}
