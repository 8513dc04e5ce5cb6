package ws

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/engine"
	"github.com/livdocs/engine/internal/logging"
)

// Handler exposes the sandbox execution engine to remote hosts. Each
// connection gets its own runner pair, so one viewer cannot see or exhaust
// another's modules.
type Handler struct {
	limits config.SessionConfig
	logger *logging.Logger
}

// NewHandler creates a websocket handler with per-connection limits.
func NewHandler(limits config.SessionConfig, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{limits: limits, logger: logger.Named("ws")}
}

// HandleConnection upgrades the request and serves the message loop until the
// peer disconnects or sends a destroy control.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()

	runner, err := engine.NewAutoRunner(ctx, h.limits.MaxMemoryMB, h.limits.Timeout)
	if err != nil {
		h.logger.Error("runner setup failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer runner.Close(ctx)

	conduit := NewConduit(conn, h.logger)
	defer conduit.Close()

	host := engine.NewHost(conduit, nil, runner, h.logger)
	h.logger.Info("viewer connected", zap.String("remote", c.Request.RemoteAddr))
	host.Run(ctx)
	h.logger.Info("viewer disconnected", zap.String("remote", c.Request.RemoteAddr))
}
