// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbialek/projectledger/internal/billing"
	"github.com/mbialek/projectledger/internal/circuitbreaker"
	"github.com/mbialek/projectledger/internal/config"
	"github.com/mbialek/projectledger/internal/currency"
	"github.com/mbialek/projectledger/internal/health"
	"github.com/mbialek/projectledger/internal/idgen"
	"github.com/mbialek/projectledger/internal/logging"
	"github.com/mbialek/projectledger/internal/metrics"
	"github.com/mbialek/projectledger/internal/notify"
	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/project"
	"github.com/mbialek/projectledger/internal/quota"
	"github.com/mbialek/projectledger/internal/ratelimit"
	"github.com/mbialek/projectledger/internal/report"
	"github.com/mbialek/projectledger/internal/security"
	"github.com/mbialek/projectledger/internal/tenant"
	"github.com/mbialek/projectledger/internal/validation"
	"github.com/mbialek/projectledger/internal/vault"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	tenants        tenant.Store
	plans          plan.Store
	projects       project.Store
	billingStore   billing.Store
	billingService *billing.Service
	processor      *billing.Processor
	gateway        billing.Gateway
	evaluator      *quota.Evaluator
	reporter       *report.Reporter
	rates          *currency.Cache
	vault          *vault.Vault
	notifier       notify.Notifier
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g billing.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// WithNotifier sets a custom notifier (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/notifier/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// The vault key is a startup invariant: a server that cannot open its
	// own ciphertexts must not take traffic.
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	s.vault, err = vault.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	if err := s.vault.SelfTest(); err != nil {
		return nil, fmt.Errorf("vault self-test failed: %w", err)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		tenantStore := tenant.NewPostgresStore(db)
		if err := tenantStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate tenant store", "error", err)
		}
		s.tenants = tenantStore

		planStore := plan.NewPostgresStore(db)
		if err := planStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate plan store", "error", err)
		}
		s.plans = planStore

		projectStore := project.NewPostgresStore(db)
		if err := projectStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate project store", "error", err)
		}
		s.projects = projectStore

		billingStore := billing.NewPostgresStore(db)
		if err := billingStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate billing store", "error", err)
		}
		s.billingStore = billingStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.tenants = tenant.NewMemoryStore()
		s.plans = plan.NewMemoryStore()
		s.projects = project.NewMemoryStore()
		s.billingStore = billing.NewMemoryStore(s.tenants, s.plans)
	}

	// Exchange-rate cache for report normalization
	provider := currency.NewHTTPProvider(cfg.RatesURL)
	s.rates = currency.NewCache(provider, time.Duration(cfg.RatesTTLHours)*time.Hour, s.logger)

	// Quota evaluator gates project and member creation
	s.evaluator = quota.NewEvaluator(s.tenants, s.plans, s.projects, s.logger)

	// Income/expense summaries normalized to the reporting currency
	s.reporter = report.NewReporter(s.projects, s.rates, cfg.ReportingCurrency)

	// Payment gateway behind a circuit breaker
	if s.gateway == nil {
		breaker := circuitbreaker.New("stripe", 5, 30*time.Second)
		s.gateway = billing.NewStripeGateway(cfg.StripeSecretKey, breaker)
	}

	// Past-due notifications (skipped when POSTMARK_TOKEN is unset)
	if s.notifier == nil {
		s.notifier = notify.NewMailer(cfg.PostmarkToken, cfg.MailFrom, cfg.MailAPIURL, s.logger)
	}

	s.billingService = billing.NewService(billing.ServiceConfig{
		Store:      s.billingStore,
		Tenants:    s.tenants,
		Plans:      s.plans,
		Gateway:    s.gateway,
		Vault:      s.vault,
		Counter:    s.projects,
		Logger:     s.logger,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	})

	s.processor = billing.NewProcessor(billing.ProcessorConfig{
		Store:         s.billingStore,
		Tenants:       s.tenants,
		Plans:         s.plans,
		Gateway:       s.gateway,
		Vault:         s.vault,
		Notifier:      s.notifier,
		Logger:        s.logger,
		WebhookSecret: cfg.StripeWebhookSecret,
	})

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupHealthChecks() {
	s.healthReg = health.NewRegistry()

	s.healthReg.Register("vault", func(ctx context.Context) health.Status {
		if err := s.vault.SelfTest(); err != nil {
			return health.Fail("vault", err)
		}
		return health.OK("vault")
	})

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Fail("database", err)
			}
			return health.OK("database")
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	limitCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// tenantAuthMiddleware resolves the calling tenant and stores its id in the
// gin context. Identity itself terminates upstream (the API gateway verifies
// the session and asserts the tenant in X-Tenant-ID); this layer only checks
// that the asserted tenant exists.
func (s *Server) tenantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader("X-Tenant-ID")
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing tenant identity",
			})
			return
		}
		if _, err := s.tenants.Get(c.Request.Context(), tenantID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Unknown tenant",
			})
			return
		}
		c.Set("tenantID", tenantID)
		c.Next()
	}
}

// adminAuthMiddleware guards plan administration with a shared secret.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Admin-Secret")
		if s.cfg.AdminSecret == "" ||
			subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	tenantHandler := tenant.NewHandler(s.tenants)
	planHandler := plan.NewHandler(s.plans)
	projectHandler := project.NewHandler(s.projects, s.evaluator)
	reportHandler := report.NewHandler(s.reporter)
	billingHandler := billing.NewHandler(s.billingService, s.processor)

	// PUBLIC ROUTES (no tenant identity required)
	tenantHandler.RegisterPublicRoutes(v1) // registration
	planHandler.RegisterRoutes(v1)         // plan catalogue

	// The webhook authenticates by signature, never by tenant identity
	billingHandler.RegisterWebhookRoutes(v1)

	// TENANT-SCOPED ROUTES
	scoped := v1.Group("")
	scoped.Use(s.tenantAuthMiddleware())
	{
		tenantHandler.RegisterRoutes(scoped)
		projectHandler.RegisterRoutes(scoped)
		reportHandler.RegisterRoutes(scoped)
		billingHandler.RegisterRoutes(scoped)
	}

	// ADMIN ROUTES (plan catalogue management)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	planHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":              "ProjectLedger",
		"description":       "Multi-tenant project ledger with subscription billing",
		"version":           "0.1.0",
		"reportingCurrency": s.cfg.ReportingCurrency,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
