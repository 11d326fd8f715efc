// Package status serves a read-only JSON view of the tracked books.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/internal/report"
	"depthwatch/logger"
)

const defaultPort = "2112"

// Server hosts the status API.
type Server struct {
	cfg             config.StatusConfig
	log             *logger.Log
	books           *bookStore
	metricStore     *metricStore
	problemStore    *problemStore
	metricHandler   metrics.MetricHandlerID
	resourceSampler *resourceSampler
	httpServer      *http.Server
	started         time.Time
}

// NewServer returns nil when the status API is disabled. The returned
// server's Observer must be handed to the reporter to fill the history.
func NewServer(cfg config.StatusConfig, history int, books []*orderbook.Book, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)

	metricStore := newMetricStore(200)
	problems := newProblemStore(200)
	log.AddHook(problems)

	return &Server{
		cfg:             cfg,
		log:             log,
		books:           newBookStore(books, history),
		metricStore:     metricStore,
		problemStore:    problems,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(history, 5*time.Second, log),
		started:         time.Now(),
	}
}

// Observer records reported volume changes for the /books endpoints.
func (s *Server) Observer() report.VolumeObserver {
	return s.books
}

// Address reports the listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	sampleCtx, stopSampling := context.WithCancel(ctx)
	s.resourceSampler.start(sampleCtx)
	defer func() {
		stopSampling()
		s.resourceSampler.stop()
	}()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("status").WithFields(logger.Fields{"address": s.cfg.Address}).Info("status server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
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
	s.problemStore.close()
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		stale := 0
		for _, b := range s.books.snapshot() {
			if b.Stale {
				stale++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"app":         appName,
			"status":      "ok",
			"uptime":      time.Since(s.started).Round(time.Second).String(),
			"books":       len(s.books.books),
			"stale_books": stale,
		})
	})

	router.GET("/books", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"books": s.books.snapshot()})
	})

	router.GET("/books/:symbol", func(c *gin.Context) {
		st, ok := s.books.find(strings.ToUpper(c.Param("symbol")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	router.GET("/events", func(c *gin.Context) {
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
		c.JSON(http.StatusOK, gin.H{"metrics": payload, "problems": s.problemStore.snapshot()})
	})

	router.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

// normalizeAddress accepts host, host:port, :port or a URL and returns a
// host:port listen address.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort("127.0.0.1", defaultPort)
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "*" {
			host = ""
		}
		if port == "" {
			port = defaultPort
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}
