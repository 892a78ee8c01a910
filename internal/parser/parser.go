// Package parser reads schema files and extracts summaries from documents.
package parser

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/blockpatch/internal/document"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// maxTitle bounds a title derived from body text.
const maxTitle = 80

// ParseSchema decodes a YAML schema. Lists left out of the file keep their
// default entries; an explicit empty list clears them.
func ParseSchema(data []byte) (*document.Schema, error) {
	s := document.DefaultSchema()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parser: schema: %w", err)
	}
	lists := map[string][]string{
		"styles":         s.Styles,
		"lists":          s.Lists,
		"decorators":     s.Decorators,
		"annotations":    s.Annotations,
		"inline_objects": s.InlineObjects,
		"block_objects":  s.BlockObjects,
	}
	for name, items := range lists {
		seen := make(map[string]struct{}, len(items))
		for _, it := range items {
			if strings.TrimSpace(it) == "" {
				return nil, fmt.Errorf("parser: schema: empty entry in %s", name)
			}
			if _, dup := seen[it]; dup {
				return nil, fmt.Errorf("parser: schema: duplicate %q in %s", it, name)
			}
			seen[it] = struct{}{}
		}
	}
	return s, nil
}

// LoadSchema reads a schema file. An empty path yields the default schema.
func LoadSchema(path string) (*document.Schema, error) {
	if path == "" {
		return document.DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// Summary describes a document for listings.
type Summary struct {
	Title  string   `json:"title"`
	Links  []string `json:"links,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Blocks int      `json:"blocks"`
}

// Summarize extracts the title, link targets and #tags of v.
func Summarize(v document.Value) Summary {
	return Summary{
		Title:  deriveTitle(v),
		Links:  extractLinks(v),
		Tags:   extractTags(v),
		Blocks: len(v),
	}
}

// PlainText joins the span text of a text block.
func PlainText(b document.Block) string {
	var sb strings.Builder
	for _, c := range b.Children {
		if c.IsSpan() {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// deriveTitle returns the text of the first h1 block, otherwise the first
// non-empty text block, otherwise empty string.
func deriveTitle(v document.Value) string {
	for _, b := range v {
		if b.IsText() && b.Style() == "h1" {
			if t := strings.TrimSpace(PlainText(b)); t != "" {
				return t
			}
		}
	}
	for _, b := range v {
		if !b.IsText() {
			continue
		}
		t := strings.TrimSpace(PlainText(b))
		if t == "" {
			continue
		}
		if len(t) > maxTitle {
			cut := maxTitle
			for cut > 0 && !isRuneStart(t[cut]) {
				cut--
			}
			t = strings.TrimSpace(t[:cut]) + "…"
		}
		return t
	}
	return ""
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// extractLinks returns deduplicated href fields of link annotations.
func extractLinks(v document.Value) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range v {
		for _, md := range b.MarkDefs {
			if md.Type != "link" {
				continue
			}
			href, _ := md.Fields["href"].(string)
			href = strings.TrimSpace(href)
			if href == "" {
				continue
			}
			if _, ok := seen[href]; ok {
				continue
			}
			seen[href] = struct{}{}
			out = append(out, href)
		}
	}
	return out
}

// extractTags collects #tags from span text.
func extractTags(v document.Value) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range v {
		if !b.IsText() {
			continue
		}
		for _, m := range tagRe.FindAllStringSubmatch(PlainText(b), -1) {
			t := m[1]
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}
