// Package knowledge implements keyword search over a fixed document set.
//
// The set ships embedded and can be replaced by a YAML file via
// KNOWLEDGE_FILE. Search is intentionally simple: case-insensitive substring
// match, one excerpt per matching document.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed docs.yaml
var embeddedDocs []byte

// Document is one searchable entry in the knowledge set.
type Document struct {
	Source  string `yaml:"source"`
	Content string `yaml:"content"`
}

// Result is one search hit: the document it came from and an excerpt around
// the first match.
type Result struct {
	Source  string `json:"source"`
	Excerpt string `json:"excerpt"`
}

// excerptRadius is how many bytes of context surround the matched term.
const excerptRadius = 80

// Base is an immutable searchable document set.
type Base struct {
	docs []Document
}

type docFile struct {
	Documents []Document `yaml:"documents"`
}

// Load builds the knowledge base. An empty path loads the embedded defaults.
func Load(path string) (*Base, error) {
	data := embeddedDocs
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read knowledge file: %w", err)
		}
		data = fileData
	}

	var f docFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}
	return &Base{docs: f.Documents}, nil
}

// Len returns the number of documents in the set.
func (b *Base) Len() int {
	return len(b.docs)
}

// Search returns one result per document containing query, case-insensitively.
// The result order follows document order. An empty query matches nothing.
func (b *Base) Search(query string) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	needle := strings.ToLower(query)

	var results []Result
	for _, doc := range b.docs {
		idx := strings.Index(strings.ToLower(doc.Content), needle)
		if idx < 0 {
			continue
		}
		results = append(results, Result{
			Source:  doc.Source,
			Excerpt: excerpt(doc.Content, idx, len(needle)),
		})
	}
	return results
}

// excerpt cuts a window around the match, snapped to rune boundaries, with
// ellipses marking truncation.
func excerpt(content string, matchStart, matchLen int) string {
	start := matchStart - excerptRadius
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + excerptRadius
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	out := strings.TrimSpace(content[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out += "..."
	}
	return out
}
