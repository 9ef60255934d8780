package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes a tool and returns its structured result payload.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name   string         `json:"tool"`
	Params map[string]any `json:"parameters"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

type Tool struct {
	Name        string
	Description string
	Signature   string // e.g. browser_navigate(url: str) -> Dict
	Example     string
	SchemaJSON  string
	Fn          ToolFunc
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

type ToolRegistry map[string]Tool

// Names returns the registered tool names in a stable order.
func (r ToolRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one tool call. Failures never escape as errors; they are
// folded into a ToolResult with Success=false.
func (r ToolRegistry) Execute(ctx context.Context, call ToolCall) ToolResult {
	t, ok := r[call.Name]
	if !ok {
		return ToolResult{Error: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	if err := t.ValidateArgs(call.Params); err != nil {
		return ToolResult{Error: err.Error()}
	}

	result, err := runTool(ctx, t, call.Params)
	if err != nil {
		return ToolResult{Error: err.Error()}
	}
	return ToolResult{Success: true, Result: result}
}

// runTool calls t.Fn, turning a panic into an error.
func runTool(ctx context.Context, t Tool, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.Fn(ctx, args)
}

// FormatToolResult renders a tool result as the message folded back into
// the working history.
func FormatToolResult(call ToolCall, res ToolResult) string {
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		payload = []byte(fmt.Sprintf("{\"success\": %t, \"error\": %q}", res.Success, res.Error))
	}
	return fmt.Sprintf("Tool %s result:\n%s", call.Name, payload)
}
