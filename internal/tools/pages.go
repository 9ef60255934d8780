package tools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxPageContent caps page text returned to the model.
const maxPageContent = 3000

// Page is the browser's view of one tab as last reported by the extension.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsActive  bool      `json:"is_active"`

	seq uint64
}

// PageLookup answers questions about pages the browser has reported.
type PageLookup interface {
	// Active returns the newest active page, else the newest page.
	Active() (Page, bool)
	// ByID returns a page pinned by an earlier navigation.
	ByID(pageID string) (Page, bool)
}

// PageCache keeps one entry per URL plus pages pinned under an id.
// It is safe for concurrent use.
type PageCache struct {
	mu     sync.Mutex
	pages  map[string]Page
	pinned map[string]Page
	seq    uint64
}

// NewPageCache returns an empty cache.
func NewPageCache() *PageCache {
	return &PageCache{
		pages:  make(map[string]Page),
		pinned: make(map[string]Page),
	}
}

// Update records a page report, replacing any earlier report for the URL.
func (c *PageCache) Update(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	p.seq = c.seq
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	c.pages[p.URL] = p
}

// Active implements PageLookup.
func (c *PageCache) Active() (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best, bestActive Page
	var found, foundActive bool
	for _, p := range c.pages {
		if !found || newer(p, best) {
			best, found = p, true
		}
		if p.IsActive && (!foundActive || newer(p, bestActive)) {
			bestActive, foundActive = p, true
		}
	}
	if foundActive {
		return bestActive, true
	}
	return best, found
}

func newer(a, b Page) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.seq > b.seq
}

// ByID implements PageLookup.
func (c *PageCache) ByID(pageID string) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pinned[pageID]
	return p, ok
}

// Pin stores a snapshot of p under a fresh page id and returns the id.
func (c *PageCache) Pin(p Page) string {
	id := NewPageID()
	c.mu.Lock()
	c.pinned[id] = p
	c.mu.Unlock()
	return id
}

// Clear drops every reported page. Pinned pages are kept.
func (c *PageCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pages)
	c.pages = make(map[string]Page)
	return n
}

// Len reports how many URLs are cached.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// NewPageID returns an id of the form "page_" plus eight hex digits.
func NewPageID() string {
	return "page_" + uuid.NewString()[:8]
}

func truncateContent(s string) string {
	r := []rune(s)
	if len(r) <= maxPageContent {
		return s
	}
	return string(r[:maxPageContent]) + "..."
}
