package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"groundwork-mcp-server/internal/autonomy"
	"groundwork-mcp-server/internal/roadmap"
)

var errNoPages = errors.New("no page source configured; launch the browser first")

func sessionPage(pages autonomy.PageFactory, args map[string]interface{}) (string, autonomy.Page, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return "", nil, fmt.Errorf("session_id is required")
	}
	if pages == nil {
		return sessionID, nil, errNoPages
	}
	p, err := pages(sessionID)
	if err != nil {
		return sessionID, nil, err
	}
	return sessionID, p, nil
}

// decodeArg re-encodes a loosely typed argument into out.
func decodeArg(raw interface{}, out interface{}) error {
	if raw == nil {
		return fmt.Errorf("missing value")
	}
	if s, ok := raw.(string); ok {
		return json.Unmarshal([]byte(s), out)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// stepArg reads a step either from a "step" object or from flat
// action/target_hint/target_id/value arguments.
func stepArg(args map[string]interface{}) (roadmap.Step, error) {
	var step roadmap.Step
	if raw, ok := args["step"]; ok && raw != nil {
		if err := decodeArg(raw, &step); err != nil {
			return roadmap.Step{}, fmt.Errorf("invalid step: %w", err)
		}
		return step, nil
	}
	step = roadmap.Step{
		Action:     getStringArg(args, "action"),
		TargetHint: getStringArg(args, "target_hint"),
		TargetID:   getStringArg(args, "target_id"),
		Value:      getStringArg(args, "value"),
	}
	if step.Action == "" && step.TargetHint == "" && step.TargetID == "" {
		return roadmap.Step{}, fmt.Errorf("step is required")
	}
	return step, nil
}

func getStringArg(args map[string]interface{}, key string) string {
	return getStringFromMap(args, key)
}

func getStringFromMap(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		return fallback
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func clampLimit(n, fallback, max int) int {
	if n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
