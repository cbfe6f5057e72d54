// Package server implements the HTTP API: the root liveness endpoint, the
// report generation endpoints and the JSON status/history API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/seawatch/reportd/app/guard"
	"github.com/seawatch/reportd/app/health"
	"github.com/seawatch/reportd/app/pool"
	"github.com/seawatch/reportd/app/report/charts"
	"github.com/seawatch/reportd/app/server/persistence"
)

// Persistence defines storage operations for report history
type Persistence interface {
	RecordReport(rec persistence.ReportRecord) error
	ListReports(limit int) ([]persistence.ReportRecord, error)
	Totals() (persistence.Totals, error)
}

// HealthReporter exposes the current probe state for the status endpoint
type HealthReporter interface {
	Status() health.Status
}

// Notifier delivers failure alerts
type Notifier interface {
	OnFailure(ctx context.Context, flavor string, cause error)
}

// Server represents the web server
type Server struct {
	store           Persistence
	pool            *pool.Pool
	prober          HealthReporter
	notifier        Notifier
	guard           guard.Limits
	chartStyle      charts.Style
	tempDir         string
	outputDir       string
	maxObservations int
	maxBodySize     int64
	requestTimeout  time.Duration
	rateLimit       float64
	authHash        string
	version         string
	started         time.Time
}

// Config holds server configuration
type Config struct {
	Version         string
	TempDir         string
	OutputDir       string
	MaxObservations int           // observations accepted per request
	MaxBodySize     int64         // request body limit in bytes
	RequestTimeout  time.Duration // per-report generation deadline, from the pool
	RateLimit       float64       // req/sec for generation endpoints, 0 disables
	AuthHash        string        // bcrypt hash protecting status/history, empty disables
	ChartStyle      charts.Style
	Pool            *pool.Pool
	Store           Persistence
	Health          HealthReporter
	Notifier        Notifier // optional
	Guard           guard.Limits
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("web server initialization failed: worker pool is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: persistence store is required")
	}

	if cfg.MaxObservations <= 0 {
		cfg.MaxObservations = 10000
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 16 * 1024 * 1024
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}

	return &Server{
		store:           cfg.Store,
		pool:            cfg.Pool,
		prober:          cfg.Health,
		notifier:        cfg.Notifier,
		guard:           cfg.Guard,
		chartStyle:      cfg.ChartStyle,
		tempDir:         cfg.TempDir,
		outputDir:       cfg.OutputDir,
		maxObservations: cfg.MaxObservations,
		maxBodySize:     cfg.MaxBodySize,
		requestTimeout:  cfg.RequestTimeout,
		rateLimit:       cfg.RateLimit,
		authHash:        cfg.AuthHash,
		version:         cfg.Version,
		started:         time.Now(),
	}, nil
}

// Run starts the web server
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// write timeout covers report generation plus response delivery
		WriteTimeout: s.requestTimeout + 30*time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("reportd", "seawatch", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(s.maxBodySize),
		corsMiddleware,
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// root endpoint doubles as the health probe target
	router.HandleFunc("GET /", s.handleIndex)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		// generation endpoints are the expensive ones, rate limit applies
		// to them only
		gen := api
		if s.rateLimit > 0 {
			gen = api.With(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(s.rateLimit, nil)))
		}
		gen.HandleFunc("POST /generate-reports/sightings", s.handleGenerateSightings)
		gen.HandleFunc("POST /generate-reports/reportings", s.handleGenerateReportings)

		api.HandleFunc("GET /schema", s.handleSchema)

		// operational endpoints, optionally behind basic auth
		ops := api
		if s.authHash != "" {
			log.Printf("[INFO] authentication enabled for status and history endpoints")
			ops = api.With(s.authMiddleware)
		}
		ops.HandleFunc("GET /status", s.handleStatus)
		ops.HandleFunc("GET /reports", s.handleReports)
	})

	return router
}

// corsMiddleware mirrors the submission frontend's access policy: any
// origin, GET/POST plus preflight, Content-Type header, 1h preflight cache.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
