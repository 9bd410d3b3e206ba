// Package api serves the choropleth service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/monitoring"
	"github.com/sells-group/choropleth/internal/service"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	CORSOrigins  []string
	RateRPS      float64 // <= 0 disables rate limiting
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Gatherer     prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

// Server exposes the service's read API, health and metrics.
type Server struct {
	svc        *service.Service
	metrics    *monitoring.Metrics
	router     chi.Router
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds the router. metrics may be nil.
func NewServer(svc *service.Service, metrics *monitoring.Metrics, opts Options) *Server {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		svc:     svc,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(opts.CORSOrigins)))
	r.Use(s.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(opts.RateRPS, opts.RateBurst))
			r.Get("/counties", s.handleCounties)
			r.Get("/villages/{county}", s.handleVillages)
			r.Get("/village_salary/{village}", s.handleVillageSalary)
			r.Get("/village_population/{village}", s.handleVillagePopulation)
			r.Get("/bivariate_colors", s.handleBivariateColors)
			r.Get("/clinics/{county}", s.handleClinics)
			r.Get("/clinic_specialties", s.handleClinicSpecialties)
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens until Shutdown. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("api: listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
