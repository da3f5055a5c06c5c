package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/agentrunner"
	"github.com/nextlevelbuilder/agentgateway/internal/config"
	"github.com/nextlevelbuilder/agentgateway/internal/envstore"
	"github.com/nextlevelbuilder/agentgateway/internal/gateway"
	"github.com/nextlevelbuilder/agentgateway/internal/httpapi"
	"github.com/nextlevelbuilder/agentgateway/internal/projects"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionlog"
	"github.com/nextlevelbuilder/agentgateway/internal/watch"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.Port = port
	}

	registry := projects.New(cfg.AgentRoot(), cfg.SidecarPath())
	reader := sessionlog.New(cfg.AgentRoot())
	envStore := envstore.New()
	runner := agentrunner.New(cfg.AgentBinary, cfg.HomeDir, cfg.AgentName, envStore, func() int64 {
		return time.Now().UnixMilli()
	})

	broadcaster := watch.NewBroadcaster()
	watcher, err := watch.New(cfg.AgentRoot(), registry, broadcaster, func() int64 {
		return time.Now().UnixMilli()
	})
	if err != nil {
		slog.Error("failed to start filesystem watcher", "error", err)
		os.Exit(1)
	}
	if err := watcher.Start(); err != nil {
		slog.Error("failed to start filesystem watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	server := gateway.NewServer(gateway.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
	}, registry, runner, broadcaster)

	mux := server.Mux()
	httpapi.NewEnvHandler(envStore).RegisterRoutes(mux)
	httpapi.NewProjectsHandler(registry).RegisterRoutes(mux)
	httpapi.NewSessionsHandler(reader).RegisterRoutes(mux)
	httpapi.NewFilesHandler(registry).RegisterRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("agentgateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"addr", cfg.Host, "port", cfg.Port,
		"agentRoot", cfg.AgentRoot(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}
