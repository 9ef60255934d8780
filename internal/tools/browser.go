// Package tools implements the browser automation tools exposed to the model
// in agent mode. The tools never touch a browser directly: commands go out
// through an Actuator and page state comes back through a PageCache fed by
// the browser extension.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// ErrNoBrowser is returned by actuators with no connected browser.
var ErrNoBrowser = errors.New("no browser connected")

// Command is one instruction for the browser extension.
type Command struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Key      string `json:"key,omitempty"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// Data renders the command as the payload of a browser_command event.
func (c Command) Data() map[string]any {
	data := map[string]any{"type": c.Type}
	if c.URL != "" {
		data["url"] = c.URL
	}
	if c.Key != "" {
		data["key"] = c.Key
	}
	if c.Text != "" {
		data["text"] = c.Text
	}
	if c.Selector != "" {
		data["selector"] = c.Selector
	}
	return data
}

// Actuator delivers commands to the browser.
type Actuator interface {
	Send(ctx context.Context, cmd Command) error
}

// Options tunes the waits around navigation and page polling.
type Options struct {
	// NavigateWait is how long navigate waits for the new page to report.
	NavigateWait time.Duration
	// PollInterval separates browser_info attempts.
	PollInterval time.Duration
	// PollAttempts bounds browser_info attempts when no page id is given.
	PollAttempts int
	Logger       *slog.Logger
}

// DefaultOptions returns the standard waits.
func DefaultOptions() Options {
	return Options{
		NavigateWait: 2 * time.Second,
		PollInterval: 2 * time.Second,
		PollAttempts: 3,
	}
}

// Browser executes browser tool calls.
type Browser struct {
	act   Actuator
	pages *PageCache
	opts  Options
	log   *slog.Logger
}

// NewBrowser wires an actuator and the page cache it reports into.
func NewBrowser(act Actuator, pages *PageCache, opts Options) *Browser {
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Browser{act: act, pages: pages, opts: opts, log: log}
}

// Navigate opens url and, when the browser reports the page in time,
// returns its content pinned under a fresh page id.
func (b *Browser) Navigate(ctx context.Context, target string) (map[string]any, error) {
	if target == "" {
		return nil, errors.New("url parameter is required")
	}

	cleared := b.pages.Clear()
	b.log.Debug("cleared stale pages before navigation", "count", cleared)

	if err := b.act.Send(ctx, Command{Type: "browser_navigate", URL: target}); err != nil {
		return nil, fmt.Errorf("send navigate command: %w", err)
	}
	if err := sleep(ctx, b.opts.NavigateWait); err != nil {
		return nil, err
	}

	if page, ok := b.pages.Active(); ok && page.Content != "" {
		if sameHost(target, page.URL) {
			id := b.pages.Pin(page)
			title := orDefault(page.Title, "Unknown Title")
			return map[string]any{
				"action":    "navigate",
				"url":       target,
				"status":    "completed",
				"title":     title,
				"final_url": orDefault(page.URL, target),
				"content":   truncateContent(page.Content),
				"timestamp": page.Timestamp.UnixMilli(),
				"page_id":   id,
				"message":   fmt.Sprintf("Successfully navigated to %s and retrieved page information: %s (Page ID: %s)", target, title, id),
			}, nil
		}
		b.log.Warn("page url mismatch after navigation", "expected", target, "got", page.URL)
	}

	return map[string]any{
		"action":  "navigate",
		"url":     target,
		"status":  "completed",
		"message": fmt.Sprintf("Successfully navigated to %s. Page information will be available shortly.", target),
	}, nil
}

// Info returns a pinned page by id, or polls for the active page.
func (b *Browser) Info(ctx context.Context, pageID string) (map[string]any, error) {
	if pageID != "" {
		page, ok := b.pages.ByID(pageID)
		if !ok {
			return nil, fmt.Errorf("page ID %s not found in cache", pageID)
		}
		res := pageResult(page)
		res["page_id"] = pageID
		res["message"] = fmt.Sprintf("Successfully retrieved cached page information for %s: %s", pageID, res["title"])
		return res, nil
	}

	for attempt := 1; attempt <= b.opts.PollAttempts; attempt++ {
		if page, ok := b.pages.Active(); ok && page.Content != "" {
			res := pageResult(page)
			res["message"] = fmt.Sprintf("Successfully retrieved current page information: %s", res["title"])
			return res, nil
		}
		b.log.Debug("no page information yet", "attempt", attempt, "cached", b.pages.Len())
		if attempt < b.opts.PollAttempts {
			if err := sleep(ctx, b.opts.PollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, errors.New("no page information available after waiting; ensure the page is loaded and the extension is connected")
}

// PressKey sends a key press.
func (b *Browser) PressKey(ctx context.Context, key string) (map[string]any, error) {
	if err := b.act.Send(ctx, Command{Type: "browser_press_key", Key: key}); err != nil {
		return nil, fmt.Errorf("send key press command: %w", err)
	}
	return map[string]any{
		"action":  "press_key",
		"key":     key,
		"status":  "completed",
		"message": fmt.Sprintf("Successfully sent key press command: %s", key),
	}, nil
}

// Type sends text to the focused element.
func (b *Browser) Type(ctx context.Context, text string) (map[string]any, error) {
	if err := b.act.Send(ctx, Command{Type: "browser_type", Text: text}); err != nil {
		return nil, fmt.Errorf("send type command: %w", err)
	}
	return map[string]any{
		"action":  "type",
		"text":    text,
		"status":  "completed",
		"message": fmt.Sprintf("Successfully sent type command: %s", text),
	}, nil
}

// Click clicks the element matching a CSS selector.
func (b *Browser) Click(ctx context.Context, selector string) (map[string]any, error) {
	if err := b.act.Send(ctx, Command{Type: "browser_click", Selector: selector}); err != nil {
		return nil, fmt.Errorf("send click command: %w", err)
	}
	return map[string]any{
		"action":   "click",
		"selector": selector,
		"status":   "completed",
		"message":  fmt.Sprintf("Successfully sent click command for: %s", selector),
	}, nil
}

func pageResult(p Page) map[string]any {
	return map[string]any{
		"action":    "get_info",
		"status":    "completed",
		"title":     orDefault(p.Title, "Unknown Title"),
		"url":       orDefault(p.URL, "Unknown URL"),
		"content":   truncateContent(p.Content),
		"timestamp": p.Timestamp.UnixMilli(),
	}
}

// sameHost compares hosts ignoring a leading "www." and accepting
// subdomain redirects in either direction.
func sameHost(a, b string) bool {
	ha, hb := host(a), host(b)
	if ha == "" || hb == "" {
		return false
	}
	return ha == hb || strings.HasSuffix(ha, "."+hb) || strings.HasSuffix(hb, "."+ha)
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
