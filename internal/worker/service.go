// Package worker provides the HTTP service in front of the clustering engine.
package worker

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thebtf/clusterlens/internal/config"
	"github.com/thebtf/clusterlens/internal/engine"
	"github.com/thebtf/clusterlens/internal/worker/sse"
)

// Service is the worker HTTP service.
type Service struct {
	startTime      time.Time
	config         *config.Config
	engine         *engine.Engine
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	version        string
	maxUpload      int64
	ready          atomic.Bool
}

// NewService wires the routes over an engine. The broadcaster should be the
// engine's Notifier so stream clients see its events.
func NewService(version string, cfg *config.Config, eng *engine.Engine, broadcaster *sse.Broadcaster) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = config.DefaultMaxUploadMB
	}

	svc := &Service{
		version:        version,
		config:         cfg,
		engine:         eng,
		sseBroadcaster: broadcaster,
		router:         chi.NewRouter(),
		startTime:      time.Now(),
		maxUpload:      int64(maxMB) << 20,
	}
	svc.setupRoutes()
	return svc
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// MountMetrics serves h at /metrics.
func (s *Service) MountMetrics(h http.Handler) {
	s.router.Method(http.MethodGet, "/metrics", h)
}

// SetReady marks the service as able to serve traffic.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Post("/upload", s.handleUpload)
	r.Post("/items", s.handleIngest)

	r.Get("/images", s.handleListImages)
	r.Delete("/images/{id}", s.handleDeleteImage)
	r.Delete("/clear", s.handleClear)

	r.Get("/cluster", s.handleCluster)
	r.Get("/cluster/stats/{id}", s.handleClusterStats)
	r.Get("/cluster/runs/latest", s.handleLatestRun)
	r.Get("/download/cluster/{id}", s.handleDownloadCluster)
	r.Get("/uploads/{key}", s.handleServeUpload)

	if s.sseBroadcaster != nil {
		r.Get("/events", s.sseBroadcaster.HandleSSE)
	}
}
