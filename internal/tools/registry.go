package tools

import (
	"context"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
)

// NewToolRegistry exposes the browser tools as an engine.ToolRegistry.
func NewToolRegistry(b *Browser) engine.ToolRegistry {
	reg := make(engine.ToolRegistry)
	for _, t := range []engine.Tool{
		navigateTool(b),
		infoTool(b),
		pressKeyTool(b),
		typeTool(b),
		clickTool(b),
	} {
		reg[t.Name] = t
	}
	return reg
}

func navigateTool(b *Browser) engine.Tool {
	return engine.Tool{
		Name: "browser_navigate",
		Description: "Navigate to a URL in the user's browser and automatically retrieve page information. " +
			"Returns page title, URL, content and a unique page_id after navigation.",
		Signature:  "browser_navigate(url: str) -> Dict",
		Example:    `browser_navigate("https://finance.yahoo.com/quote/AAPL")`,
		SchemaJSON: `{"type":"object","properties":{"url":{"type":"string","minLength":1,"description":"Absolute URL to open"}},"required":["url"]}`,
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return b.Navigate(ctx, stringArg(args, "url"))
		},
	}
}

func infoTool(b *Browser) engine.Tool {
	return engine.Tool{
		Name: "browser_info",
		Description: "Get information about a specific page or the current active page. " +
			"If page_id is provided, gets info for that page; otherwise for the currently active page.",
		Signature:  "browser_info(page_id: str = None) -> Dict",
		Example:    `browser_info() or browser_info("page_1a2b3c4d")`,
		SchemaJSON: `{"type":"object","properties":{"page_id":{"type":"string","description":"Id returned by browser_navigate"}}}`,
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return b.Info(ctx, stringArg(args, "page_id"))
		},
	}
}

func pressKeyTool(b *Browser) engine.Tool {
	return engine.Tool{
		Name:        "browser_press_key",
		Description: "Press a key on the keyboard in the user's browser.",
		Signature:   "browser_press_key(key: str) -> Dict",
		Example:     `browser_press_key("Enter")`,
		SchemaJSON:  `{"type":"object","properties":{"key":{"type":"string","minLength":1}},"required":["key"]}`,
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return b.PressKey(ctx, stringArg(args, "key"))
		},
	}
}

func typeTool(b *Browser) engine.Tool {
	return engine.Tool{
		Name:        "browser_type",
		Description: "Type text in the user's browser.",
		Signature:   "browser_type(text: str) -> Dict",
		Example:     `browser_type("NVDA earnings")`,
		SchemaJSON:  `{"type":"object","properties":{"text":{"type":"string","minLength":1}},"required":["text"]}`,
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return b.Type(ctx, stringArg(args, "text"))
		},
	}
}

func clickTool(b *Browser) engine.Tool {
	return engine.Tool{
		Name:        "browser_click",
		Description: "Click on an element in the user's browser using a CSS selector.",
		Signature:   "browser_click(selector: str) -> Dict",
		Example:     `browser_click("button.search-btn")`,
		SchemaJSON:  `{"type":"object","properties":{"selector":{"type":"string","minLength":1}},"required":["selector"]}`,
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return b.Click(ctx, stringArg(args, "selector"))
		},
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
