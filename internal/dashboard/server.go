package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mdfeed/config"
	"mdfeed/internal/feed"
	"mdfeed/internal/metrics"
	"mdfeed/internal/stats"
	"mdfeed/logger"
)

// FeedSource is the part of a feed session the dashboard reads.
type FeedSource interface {
	Stats() *stats.Aggregator
	ExpectedSequence() uint64
	Subscribe(feed.EventHandler) func()
}

// Server hosts the monitoring API for a running feed session.
type Server struct {
	cfg             config.DashboardConfig
	appName         string
	source          FeedSource
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	events          *eventHub
	metricHandler   metrics.MetricHandlerID
	unsubscribe     func()
	httpServer      *http.Server
	resourceSampler *resourceSampler
	startedAt       time.Time
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, appName string, source FeedSource, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if source == nil {
		return nil, errors.New("dashboard: feed source is required")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = 500
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	events := newEventHub(cfg.EventHistory, log)

	s := &Server{
		cfg:             cfg,
		appName:         appName,
		source:          source,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		events:          events,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		unsubscribe:     source.Subscribe(events.publish),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, cfg.DiskPath, log),
		startedAt:       time.Now(),
	}
	return s, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		s.events.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.logStore.close()
	s.resourceSampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", s.handleHealth)
	router.GET("/api/stats", s.handleStats)
	router.GET("/api/metrics", s.handleMetrics)
	router.GET("/api/logs", s.handleLogs)
	router.GET("/api/resources", s.handleResources)
	router.GET("/api/events", s.handleEvents)
	router.GET("/ws/events", s.events.serveWS)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.source.Stats().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"app":               s.appName,
		"uptime_seconds":    time.Since(s.startedAt).Seconds(),
		"last_sequence":     st.LastSequence,
		"expected_sequence": s.source.ExpectedSequence(),
		"messages_received": st.MessagesReceived,
		"gaps_detected":     st.GapsDetected,
		"websocket_clients": s.events.clientCount(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Stats().Snapshot())
}

func (s *Server) handleMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.events.recent()})
}

// normalizeAddress turns user supplied listen addresses (":9090", "host",
// "http://host:port") into host:port, defaulting to 0.0.0.0:8080.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	return net.JoinHostPort(strings.Trim(addr, "[]"), "8080")
}
