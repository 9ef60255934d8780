package engine

import (
	"encoding/json"
	"errors"
	"regexp"
)

var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ParseToolCalls extracts every tagged tool-call block from model output.
// Blocks that are not valid JSON or lack "tool"/"parameters" are returned as
// ParseErrors and otherwise ignored.
func ParseToolCalls(text string) ([]ToolCall, []*ParseError) {
	var calls []ToolCall
	var parseErrs []*ParseError

	for _, m := range toolCallPattern.FindAllStringSubmatch(text, -1) {
		block := m[1]

		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(block), &raw); err != nil {
			parseErrs = append(parseErrs, &ParseError{Block: block, Err: err})
			continue
		}

		rawTool, hasTool := raw["tool"]
		rawParams, hasParams := raw["parameters"]
		if !hasTool || !hasParams {
			parseErrs = append(parseErrs, &ParseError{Block: block, Err: errors.New(`missing "tool" or "parameters"`)})
			continue
		}

		var call ToolCall
		if err := json.Unmarshal(rawTool, &call.Name); err != nil || call.Name == "" {
			parseErrs = append(parseErrs, &ParseError{Block: block, Err: errors.New(`"tool" must be a non-empty string`)})
			continue
		}
		if err := json.Unmarshal(rawParams, &call.Params); err != nil {
			parseErrs = append(parseErrs, &ParseError{Block: block, Err: errors.New(`"parameters" must be an object`)})
			continue
		}
		if call.Params == nil {
			call.Params = map[string]any{}
		}
		calls = append(calls, call)
	}

	return calls, parseErrs
}
