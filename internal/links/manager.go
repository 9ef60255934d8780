// Package links stores the user's preferred URLs as a JSON document.
package links

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the document's name inside the data directory.
const FileName = "preferred_links.json"

const documentVersion = "1.0"

// Document is the on-disk format.
type Document struct {
	Version        string   `json:"version"`
	PreferredLinks []string `json:"preferred_links"`
	Metadata       Metadata `json:"metadata"`
}

// Metadata summarizes the document.
type Metadata struct {
	LastUpdated *time.Time `json:"last_updated"`
	TotalLinks  int        `json:"total_links"`
}

// Manager reads and writes the preferred-links document. It is safe for
// concurrent use.
type Manager struct {
	path string
	log  *slog.Logger
	now  func() time.Time

	mu  sync.RWMutex
	doc Document
}

// NewManager opens the document at path, creating an empty one if needed.
// An unreadable document is replaced with an empty one.
func NewManager(path string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create links dir: %w", err)
	}
	m := &Manager{path: path, log: log, now: time.Now}

	if err := m.Reload(); err != nil {
		log.Warn("resetting preferred links", "path", path, "error", err)
		m.doc = emptyDocument()
		if err := m.write(m.doc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func emptyDocument() Document {
	return Document{Version: documentVersion, PreferredLinks: []string{}}
}

// Path returns the document location.
func (m *Manager) Path() string { return m.path }

// Reload rereads the document from disk. A missing file yields an empty
// document, written back.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.doc = emptyDocument()
		m.log.Info("initialized preferred links storage", "path", m.path)
		return m.write(m.doc)
	}
	if err != nil {
		return fmt.Errorf("failed to read links file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse links json: %w", err)
	}
	if doc.PreferredLinks == nil {
		doc.PreferredLinks = []string{}
	}
	if doc.Version == "" {
		doc.Version = documentVersion
	}

	m.mu.Lock()
	m.doc = doc
	m.mu.Unlock()
	return nil
}

// Links returns a copy of the preferred links in order.
func (m *Manager) Links() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.doc.PreferredLinks...)
}

// Document returns a copy of the whole document.
func (m *Manager) Document() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := m.doc
	doc.PreferredLinks = append([]string{}, m.doc.PreferredLinks...)
	return doc
}

// Set replaces the list. Blank entries and duplicates are dropped, first
// occurrence wins.
func (m *Manager) Set(links []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(links)
}

func (m *Manager) setLocked(links []string) error {
	unique := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		unique = append(unique, l)
	}

	now := m.now()
	doc := Document{
		Version:        documentVersion,
		PreferredLinks: unique,
		Metadata:       Metadata{LastUpdated: &now, TotalLinks: len(unique)},
	}
	if err := m.write(doc); err != nil {
		return err
	}
	m.doc = doc
	m.log.Info("updated preferred links", "count", len(unique))
	return nil
}

// Add appends link unless it is blank or already present. It reports
// whether the list changed.
func (m *Manager) Add(link string) (bool, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.doc.PreferredLinks {
		if l == link {
			return false, nil
		}
	}
	links := append(append([]string{}, m.doc.PreferredLinks...), link)
	return true, m.setLocked(links)
}

// Remove deletes link. It reports whether the list changed.
func (m *Manager) Remove(link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := make([]string, 0, len(m.doc.PreferredLinks))
	for _, l := range m.doc.PreferredLinks {
		if l != link {
			links = append(links, l)
		}
	}
	if len(links) == len(m.doc.PreferredLinks) {
		return false, nil
	}
	return true, m.setLocked(links)
}

// Sync replaces the list with links from the client. An empty list leaves
// the stored links untouched.
func (m *Manager) Sync(links []string) error {
	if len(links) == 0 {
		return nil
	}
	return m.Set(links)
}

// write stores doc atomically. Callers hold m.mu or own m exclusively.
func (m *Manager) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal links: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".links-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp links file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write links file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write links file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace links file: %w", err)
	}
	return nil
}
