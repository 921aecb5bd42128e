package stage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one ranked result from a retrieval lookup.
type Document struct {
	Title   string  `json:"title"`
	Path    string  `json:"path"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Retriever is the document-retrieval capability used by the enrichment
// stage: given a query it returns ranked documents, or nothing. It is an
// explicit dependency injected at construction; there is no process-wide
// cached instance.
type Retriever interface {
	Lookup(ctx context.Context, query string, limit int) ([]Document, error)
}

// NopRetriever always returns no documents.
type NopRetriever struct{}

// Lookup implements Retriever.
func (NopRetriever) Lookup(ctx context.Context, query string, limit int) ([]Document, error) {
	return nil, nil
}

// FileRetriever ranks markdown and text files under a directory by term
// overlap with the query. It is the default local backend; heavier
// retrieval systems implement the same interface.
type FileRetriever struct {
	Dir string
}

// Lookup implements Retriever.
func (r FileRetriever) Lookup(ctx context.Context, query string, limit int) ([]Document, error) {
	if r.Dir == "" || limit <= 0 {
		return nil, nil
	}

	terms := significantTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var docs []Document
	err := filepath.WalkDir(r.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
		default:
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		content := strings.ToLower(string(data))

		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			return nil
		}

		docs = append(docs, Document{
			Title:   strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Path:    path,
			Snippet: snippet(string(data)),
			Score:   float64(matched) / float64(len(terms)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// significantTerms lowercases and filters a query down to words worth
// matching on.
func significantTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,:;!?\"'()")
		if len(w) >= 4 {
			terms = append(terms, w)
		}
	}
	return terms
}

// snippet returns the first non-empty line of a document, truncated.
func snippet(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line == "" {
			continue
		}
		if len(line) > 120 {
			line = line[:117] + "..."
		}
		return line
	}
	return ""
}
