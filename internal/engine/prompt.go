package engine

import (
	"fmt"
	"strings"
)

const toolCallFormat = `Tool Call Format:
When you want to use a tool, output exactly this format:
<tool_call>
{
    "tool": "tool_name",
    "parameters": {
        "param1": "value1",
        "param2": "value2"
    }
}
</tool_call>

Important:
- Always use the exact format above
- Only call tools when they are relevant to the user's request
- After calling a tool, wait for the result before continuing`

// BuildToolPrompt renders the tool catalog and call format as the system
// instruction prepended to an agent turn.
func BuildToolPrompt(reg ToolRegistry) string {
	var b strings.Builder
	b.WriteString("You can operate the user's browser with the tools below.\n\nAvailable Tools:\n")
	for i, name := range reg.Names() {
		t := reg[name]
		sig := t.Signature
		if sig == "" {
			sig = t.Name + "()"
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, sig, t.Description)
		if t.SchemaJSON != "" {
			fmt.Fprintf(&b, "   Parameters schema: %s\n", compactJSON(t.SchemaJSON))
		}
		if t.Example != "" {
			fmt.Fprintf(&b, "   Example: %s\n", t.Example)
		}
	}
	b.WriteString("\n")
	b.WriteString(toolCallFormat)
	return b.String()
}

// SummarizePrompt is appended when the round limit is exhausted.
func SummarizePrompt(question string) string {
	return "You have reached the maximum number of tool calls for this request. " +
		"Do not call any more tools. Summarize what was accomplished so far and " +
		"answer the original question as well as you can.\n\nOriginal question: " + question
}

func compactJSON(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
