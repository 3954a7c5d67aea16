package source

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/saturn/pkg/pipeline"
)

// Document is one candidate publication.
type Document struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Abstract string   `yaml:"abstract" json:"abstract,omitempty"`
	FullText string   `yaml:"full_text" json:"full_text,omitempty"`
	DOI      string   `yaml:"doi" json:"doi,omitempty"`
	Year     int      `yaml:"year" json:"year,omitempty"`
	Findings []string `yaml:"findings" json:"findings,omitempty"`
}

// Text returns the text a reviewer reads: title and abstract, plus the full
// text when full is set.
func (d *Document) Text(full bool) string {
	parts := []string{d.Title, d.Abstract}
	if full && d.FullText != "" {
		parts = append(parts, d.FullText)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Manifest is a parsed document manifest.
type Manifest struct {
	Documents []Document `yaml:"documents" json:"documents"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest content. YAML is a superset of JSON,
// so both formats are accepted.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every document has a unique, non-empty id and a title.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Documents))
	for i, d := range m.Documents {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("document %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("document %d: duplicate id %q", i, id)
		}
		seen[id] = true
		if strings.TrimSpace(d.Title) == "" {
			return fmt.Errorf("document %q: title is required", id)
		}
		m.Documents[i].ID = id
	}
	return nil
}

// Items converts the manifest to pipeline items sorted by id. Each payload
// is the JSON-encoded Document.
func (m *Manifest) Items() ([]pipeline.Item, error) {
	docs := make([]Document, len(m.Documents))
	copy(docs, m.Documents)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	items := make([]pipeline.Item, 0, len(docs))
	for i := range docs {
		payload, err := json.Marshal(&docs[i])
		if err != nil {
			return nil, fmt.Errorf("encode document %q: %w", docs[i].ID, err)
		}
		items = append(items, pipeline.Item{ID: docs[i].ID, Payload: payload})
	}
	return items, nil
}

// Decode extracts the document carried by an item payload. Decode failures
// are permanent.
func Decode(item pipeline.Item) (*Document, error) {
	var d Document
	if err := json.Unmarshal(item.Payload, &d); err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("decode document %q: %w", item.ID, err))
	}
	if d.ID == "" {
		d.ID = item.ID
	}
	return &d, nil
}
