package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/browser"
	"groundwork-mcp-server/internal/config"
	"groundwork-mcp-server/internal/events"
	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/logging"
	"groundwork-mcp-server/internal/mangle"
	mcpserver "groundwork-mcp-server/internal/mcp"
	"groundwork-mcp-server/internal/planner"
	"groundwork-mcp-server/internal/recorder"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
		Disable:     noWorkspace,
		ExplicitDir: workspaceDir,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ssePort != 0 {
		cfg.MCP.SSEPort = ssePort
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	// stdout carries the protocol in stdio mode, so the console core stays off there.
	opts := logging.Options{
		ServiceName: "groundwork",
		Level:       cfg.Server.LogLevel,
		File:        cfg.Server.LogFile,
		MaxSizeMB:   cfg.Server.LogMaxSizeMB,
		MaxBackups:  cfg.Server.LogMaxBackups,
	}
	if cfg.MCP.SSEPort > 0 && consoleLogs {
		opts.Console = os.Stderr
	}
	logger, flush := logging.New(opts)
	defer flush()
	if wsDir != "" {
		logger.Info("workspace config loaded", zap.String("workspace", wsDir))
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer app.Close()

	if cfg.Browser.AutoStart {
		if err := app.sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		logger.Info("browser auto-start disabled; use launch-browser to connect later")
	}

	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting SSE server", zap.Int("port", cfg.MCP.SSEPort))
		err = app.server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting stdio server")
		err = app.server.Start(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	return nil
}

// app holds the wired components so they can be closed in order.
type app struct {
	logger     *zap.Logger
	sessions   *browser.SessionManager
	controller *autonomy.Controller
	store      learning.Store
	recorder   *recorder.Recorder
	server     *mcpserver.Server
}

func buildApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	logger = logging.OrNop(logger)

	store, err := learning.Open(cfg.Learning.Backend, cfg.Learning.Path, logger.Named("learning"))
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	engine, err := mangle.NewEngine(cfg.Mangle, logger.Named("mangle"))
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("init audit engine: %w", err)
	}

	rec, err := recorder.NewRecorder(cfg.Trace.Dir, cfg.Trace.GetMaxFiles())
	if err != nil {
		logger.Warn("run traces disabled", zap.String("dir", cfg.Trace.Dir), zap.Error(err))
		rec = nil
	}

	buffer := events.NewBuffer(cfg.MCP.GetEventBufferSize())
	eventLog := logger.Named("events")
	sinks := events.Fanout{
		buffer,
		mangle.NewSink(engine, logger.Named("audit")),
		events.SinkFunc(func(evt events.Event) {
			eventLog.Debug(evt.Message,
				zap.String("type", string(evt.Type)),
				zap.String("session_id", evt.SessionID),
				zap.String("run_id", evt.RunID),
				zap.Int("step", evt.StepIndex),
			)
		}),
	}
	if rec != nil {
		sinks = append(sinks, rec)
	}

	resolver := grounding.NewResolver(grounding.WithLearning(store), grounding.WithLogger(logger.Named("grounding")))

	sessions := browser.NewSessionManager(cfg.Browser, logger.Named("browser"))
	sessions.OnNavigate(func(sessionID, url string) {
		sinks.Emit(events.Event{
			Type:      events.Notice,
			SessionID: sessionID,
			Message:   "Page changed; element ids were reset.",
			Data:      map[string]any{"url": url},
		})
	})

	pages := func(sessionID string) (autonomy.Page, error) {
		lp, err := sessions.LivePage(sessionID)
		if err != nil {
			return nil, err
		}
		return lp, nil
	}

	controller := autonomy.NewController(autonomy.Config{
		Threshold:   cfg.Autonomy.Threshold(),
		SettleDelay: cfg.Autonomy.GetSettleDelay(),
		VerifyDelay: cfg.Autonomy.GetVerifyDelay(),
		ActionDelay: cfg.Autonomy.GetActionDelay(),
	}, pages, autonomy.Deps{
		Resolver: resolver,
		Store:    store,
		Sink:     sinks,
		Logger:   logger.Named("autonomy"),
	})

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Sessions:   sessions,
		Pages:      pages,
		Controller: controller,
		Resolver:   resolver,
		Store:      store,
		Planner:    planner.FromConfig(cfg.Planner, logger.Named("planner")),
		Engine:     engine,
		Events:     buffer,
		Recorder:   rec,
		Logger:     logger,
	})
	if err != nil {
		controller.Close()
		closeStore(store)
		return nil, fmt.Errorf("init MCP server: %w", err)
	}

	return &app{
		logger:     logger,
		sessions:   sessions,
		controller: controller,
		store:      store,
		recorder:   rec,
		server:     server,
	}, nil
}

// Close stops runs before the browser goes away, then releases storage.
func (a *app) Close() {
	a.controller.Close()
	if err := a.sessions.Shutdown(context.Background()); err != nil {
		a.logger.Warn("browser shutdown failed", zap.Error(err))
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("trace close failed", zap.Error(err))
		}
	}
	closeStore(a.store)
}

func closeStore(s learning.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}
