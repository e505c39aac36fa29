package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"groundwork://about",
			"Groundwork About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, tool catalogue and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"groundwork://session/{sessionId}/events{?limit}",
			"Session Events",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent presentation events (notices, previews, pauses, outcomes) for one session."),
		),
		s.handleSessionEventsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"groundwork://session/{sessionId}/facts{?predicate,limit}",
			"Session Audit Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recorded audit facts for one session, optionally filtered by predicate."),
		),
		s.handleSessionFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tools := make([]string, 0, len(s.tools))
	for name := range s.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   tools,
		"autonomy": map[string]interface{}{
			"confidence_threshold": s.cfg.Autonomy.Threshold(),
			"planner_provider":     s.cfg.Planner.Provider,
			"learning_backend":     s.cfg.Learning.Backend,
			"audit_enabled":        s.deps.Engine != nil && s.cfg.Mangle.Enable,
		},
		"notes": []string{
			"Element ids (data-agent-id) are valid until the page navigates.",
			"Destructive or sensitive steps are never executed automatically.",
			"Password fields are never touched; the user types passwords.",
			"Tier 2 runs wait for control-run approve; poll get-run-state or read the events resource.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleSessionEventsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	limit := clampLimit(asInt(request.Params.Arguments["limit"]), 25, 500)
	evts := s.deps.Events.Recent(sessionID, limit)

	return jsonResource(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"limit":      limit,
		"count":      len(evts),
		"events":     evts,
	})
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.deps.Engine == nil {
		return nil, errNoEngine
	}
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := clampLimit(asInt(request.Params.Arguments["limit"]), 25, 500)
	facts := selectRecentSessionFacts(s.deps.Engine, sessionID, predicate, limit)

	return jsonResource(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"limit":      limit,
		"count":      len(facts),
		"facts":      facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// asInt reads URI template values, which arrive as strings or string slices.
func asInt(v interface{}) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	case string, []string:
		n, err := strconv.Atoi(strings.TrimSpace(argString(value)))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
