// Command renderd serves the document rendering engine over HTTP.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/engine"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/monitoring"
	"github.com/livdocs/engine/internal/protocol"
	"github.com/livdocs/engine/internal/renderer"
	"github.com/livdocs/engine/internal/sandbox"
	"github.com/livdocs/engine/internal/security"
	"github.com/livdocs/engine/internal/server"
)

func main() {
	port := flag.String("port", "", "Listen port (overrides PORT)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := renderer.NewOrchestrator(cfg.Renderer, sessionFactory(ctx, cfg, logger, metrics), logger, metrics)
	srv := server.New(cfg, orch, logger, metrics)

	logger.Info("renderd starting",
		zap.String("port", cfg.Server.Port),
		zap.Duration("render_budget", cfg.Renderer.MaxRenderTime))

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("renderd stopped")
}

// sessionFactory wires each sandbox session to an in-process engine host over
// a pipe conduit. Compression and encryption follow the transport config; the
// per-process encryption key is ephemeral since both ends live here.
func sessionFactory(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) renderer.SessionFactory {
	var key []byte
	if cfg.Transport.EnableEncryption {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			logger.Warn("encryption key generation failed, disabling", zap.Error(err))
			cfg.Transport.EnableEncryption = false
		}
	}

	return func(policy security.SecurityPolicy) (*sandbox.Session, error) {
		tcfg := protocol.DefaultConfig()
		tcfg.MaxMessageSize = cfg.Transport.MaxMessageSize
		tcfg.HeartbeatInterval = cfg.Transport.HeartbeatInterval
		tcfg.ResponseTimeout = cfg.Session.Timeout
		tcfg.ReconnectAttempts = cfg.Transport.ReconnectAttempts
		tcfg.ReconnectDelay = cfg.Transport.ReconnectDelay
		tcfg.EnableCompression = cfg.Transport.EnableCompression
		tcfg.EnableEncryption = cfg.Transport.EnableEncryption
		tcfg.EncryptionKey = key

		codec, err := protocol.CodecFor(tcfg)
		if err != nil {
			return nil, err
		}

		runner, err := engine.NewAutoRunner(ctx, cfg.Session.MaxMemoryMB, cfg.Session.Timeout)
		if err != nil {
			return nil, err
		}

		hostEnd, sandboxEnd := protocol.NewPipe(64)
		host := engine.NewHost(sandboxEnd, codec, runner, logger)
		go host.Run(ctx)

		tr, err := protocol.New(hostEnd, tcfg, logger, metrics)
		if err != nil {
			hostEnd.Close()
			return nil, err
		}
		return sandbox.NewSession(tr, policy, cfg.Session, logger, metrics), nil
	}
}
