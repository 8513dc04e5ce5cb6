// Package server exposes the rendering engine over HTTP: one-shot renders,
// a websocket channel for remote viewers, health, and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/document"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/monitoring"
	"github.com/livdocs/engine/internal/renderer"
	"github.com/livdocs/engine/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP router and the rendering dependencies.
type Server struct {
	router  *gin.Engine
	cfg     *config.Config
	orch    *renderer.Orchestrator
	logger  *logging.Logger
	metrics *monitoring.Metrics

	httpSrv *http.Server
}

// New builds the router and registers all routes.
func New(cfg *config.Config, orch *renderer.Orchestrator, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		router:  router,
		cfg:     cfg,
		orch:    orch,
		logger:  logger.Named("server"),
		metrics: metrics,
	}

	wsHandler := ws.NewHandler(cfg.Session, logger)

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/render", s.handleRender)
	router.GET("/ws", wsHandler.HandleConnection)

	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.metrics != nil {
		resp["uptime"] = s.metrics.Uptime().String()
	}
	c.JSON(http.StatusOK, resp)
}

// renderResponse is the one-shot render result returned to callers. The html
// field always carries something displayable, including on failure.
type renderResponse struct {
	RenderID string   `json:"render_id"`
	Phase    string   `json:"phase"`
	HTML     string   `json:"html"`
	Fallback bool     `json:"fallback"`
	Errors   []string `json:"errors,omitempty"`
	RenderMS int64    `json:"render_ms"`
}

func (s *Server) handleRender(c *gin.Context) {
	var doc document.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed document: " + err.Error()})
		return
	}

	r, err := s.orch.Render(c.Request.Context(), &doc)
	if r == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer r.Close()

	resp := renderResponse{
		RenderID: r.ID().String(),
		Phase:    string(r.Phase()),
		HTML:     r.HTML(),
		Fallback: r.Metrics().FallbackUsed,
		Errors:   r.Errors(),
		RenderMS: r.Metrics().RenderTime.Milliseconds(),
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}
