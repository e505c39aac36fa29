package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/browser"
	"groundwork-mcp-server/internal/config"
	"groundwork-mcp-server/internal/events"
	"groundwork-mcp-server/internal/failure"
	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/guard"
	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/mangle"
	"groundwork-mcp-server/internal/planner"
	"groundwork-mcp-server/internal/recorder"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Deps are the engine components exposed through MCP. Sessions, Engine,
// Planner and Recorder may be nil; the tools that need them then fail.
type Deps struct {
	Sessions   *browser.SessionManager
	Pages      autonomy.PageFactory
	Controller *autonomy.Controller
	Resolver   *grounding.Resolver
	Store      learning.Store
	Planner    *planner.Planner
	Engine     *mangle.Engine
	Events     *events.Buffer
	Recorder   *recorder.Recorder
	Logger     *zap.Logger
}

// Server wires the MCP runtime to the grounding and execution engine.
type Server struct {
	cfg       config.Config
	deps      Deps
	filter    *guard.HallucinationFilter
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the groundwork MCP server and registers all tools.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.New("mcp server needs an autonomy controller")
	}
	if deps.Resolver == nil {
		deps.Resolver = grounding.NewResolver(grounding.WithLearning(deps.Store), grounding.WithLogger(deps.Logger))
	}
	if deps.Events == nil {
		deps.Events = events.NewBuffer(cfg.MCP.GetEventBufferSize())
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		filter:    guard.NewHallucinationFilter(),
		logger:    deps.Logger.Named("mcp"),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start launches the stdio server.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	d := s.deps

	// Browser session management
	s.registerTool(&LaunchBrowserTool{sessions: d.Sessions})
	s.registerTool(&ShutdownBrowserTool{sessions: d.Sessions, controller: d.Controller})
	s.registerTool(&ListSessionsTool{sessions: d.Sessions})
	s.registerTool(&CreateSessionTool{sessions: d.Sessions})
	s.registerTool(&AttachSessionTool{sessions: d.Sessions})

	// Grounding
	s.registerTool(&GetInteractiveElementsTool{pages: d.Pages})
	s.registerTool(&ResolveStepTool{pages: d.Pages, resolver: d.Resolver})
	s.registerTool(&CheckActionSafetyTool{})
	s.registerTool(&PageContextTool{pages: d.Pages})
	s.registerTool(&LearnMappingTool{pages: d.Pages, store: d.Store})
	s.registerTool(&RecallMappingTool{pages: d.Pages, store: d.Store})

	// Planning and autonomous execution
	runs := &runStarter{controller: d.Controller, recorder: d.Recorder, logger: s.logger}
	s.registerTool(&PlanTaskTool{pages: d.Pages, planner: d.Planner, filter: s.filter, runs: runs})
	s.registerTool(&StartAutonomousTool{runs: runs})
	s.registerTool(&ControlRunTool{controller: d.Controller})
	s.registerTool(&GetRunStateTool{controller: d.Controller, events: d.Events, engine: d.Engine})

	// Audit
	s.registerTool(&QueryAuditTool{engine: d.Engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(string(marshalToolError(tool.Name(), err)))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

// marshalToolError keeps the failure kind and next step visible to the
// presentation layer.
func marshalToolError(toolName string, err error) []byte {
	body := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s failed: %v", toolName, err),
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		body["kind"] = fe.Kind
		body["next_step"] = fe.NextStep
		body["message"] = fe.Message
	}
	return marshalToolPayload(toolName, body)
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
