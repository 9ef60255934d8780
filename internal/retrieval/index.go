// Package retrieval indexes ingested web content per session and answers
// keyword queries over it with BM25 scoring.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/r2c"
)

const (
	// maxPassage bounds the runes of one indexed passage.
	maxPassage = 1000
	// snippetLen bounds the runes of a returned snippet.
	snippetLen = 300
	// deletePage is how many documents one delete pass fetches.
	deletePage = 500
)

// Index is a bleve index of web passages keyed by session.
type Index struct {
	index bleve.Index
	path  string
	log   *slog.Logger
}

var _ engine.Retriever = (*Index)(nil)

// Open creates or opens an index at path. An empty path keeps the index in
// memory. A corrupted index on disk is deleted and recreated.
func Open(path string, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create memory index: %w", err)
		}
		return &Index{index: idx, log: log}, nil
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create web index: %w", err)
		}
		log.Info("web index created", "path", path)
	default:
		log.Warn("web index appears corrupted, recreating", "path", path, "error", err)
		if idx != nil {
			idx.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted index: %w", err)
		}
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate web index: %w", err)
		}
	}
	return &Index{index: idx, path: path, log: log}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	passage := bleve.NewDocumentMapping()

	for _, name := range []string{"session_id", "url"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = true
		passage.AddFieldMappingsAt(name, f)
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true
	text.Index = true
	passage.AddFieldMappingsAt("text", text)

	indexMapping.DefaultMapping = passage
	return indexMapping
}

// Add indexes page text for a session, replacing anything indexed earlier
// for the same URL. It returns the number of passages written.
func (x *Index) Add(ctx context.Context, sessionID, url, text string) (int, error) {
	if sessionID == "" || url == "" {
		return 0, errors.New("session id and url are required")
	}
	if err := x.deleteWhere(ctx, sessionID, url); err != nil {
		return 0, err
	}

	passages := Passages(text)
	if len(passages) == 0 {
		return 0, nil
	}
	batch := x.index.NewBatch()
	for i, p := range passages {
		doc := map[string]any{
			"session_id": sessionID,
			"url":        url,
			"text":       p,
		}
		id := fmt.Sprintf("%s|%s#%d", sessionID, url, i)
		if err := batch.Index(id, doc); err != nil {
			return 0, fmt.Errorf("failed to add passage %s to batch: %w", id, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("index web content: %w", err)
	}
	x.log.Debug("indexed web content", "session", sessionID, "url", url, "passages", len(passages))
	return len(passages), nil
}

// Search implements engine.Retriever.
func (x *Index) Search(ctx context.Context, sessionID, query string, k int) ([]engine.Passage, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	match := bleve.NewMatchQuery(query)
	match.SetField("text")
	session := bleve.NewTermQuery(sessionID)
	session.SetField("session_id")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, session))
	req.Size = k
	req.Fields = []string{"url", "text"}

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("web content search failed: %w", err)
	}

	out := make([]engine.Passage, 0, len(res.Hits))
	for _, hit := range res.Hits {
		p := engine.Passage{Score: hit.Score}
		if u, ok := hit.Fields["url"].(string); ok {
			p.URL = u
		}
		if t, ok := hit.Fields["text"].(string); ok {
			p.Snippet = snippet(t)
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteSession drops every passage indexed for a session.
func (x *Index) DeleteSession(ctx context.Context, sessionID string) error {
	return x.deleteWhere(ctx, sessionID, "")
}

// deleteWhere removes documents of a session, optionally only those of one
// URL, in pages until none remain.
func (x *Index) deleteWhere(ctx context.Context, sessionID, url string) error {
	session := bleve.NewTermQuery(sessionID)
	session.SetField("session_id")
	for {
		var req *bleve.SearchRequest
		if url == "" {
			req = bleve.NewSearchRequest(session)
		} else {
			u := bleve.NewTermQuery(url)
			u.SetField("url")
			req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(session, u))
		}
		req.Size = deletePage

		res, err := x.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("find passages to delete: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := x.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := x.index.Batch(batch); err != nil {
			return fmt.Errorf("delete passages: %w", err)
		}
	}
}

// Count returns the number of indexed passages.
func (x *Index) Count() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}

// Passages splits page text into passages of at most maxPassage runes,
// breaking on paragraphs and then sentences.
func Passages(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	add := func(piece string) {
		if cur.Len() > 0 && len([]rune(cur.String()))+len([]rune(piece))+1 > maxPassage {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(piece)
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if len([]rune(para)) <= maxPassage {
			add(para)
			continue
		}
		for _, s := range r2c.SplitSentences(para) {
			for _, piece := range splitRunes(s, maxPassage) {
				add(piece)
			}
		}
	}
	flush()
	return out
}

func splitRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "..."
}
