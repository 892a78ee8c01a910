package document

import "slices"

// Schema lists the types a document may contain.
type Schema struct {
	Styles        []string `yaml:"styles" json:"styles"`
	Lists         []string `yaml:"lists" json:"lists"`
	Decorators    []string `yaml:"decorators" json:"decorators"`
	Annotations   []string `yaml:"annotations" json:"annotations"`
	InlineObjects []string `yaml:"inline_objects" json:"inlineObjects"`
	BlockObjects  []string `yaml:"block_objects" json:"blockObjects"`
}

// DefaultSchema returns the schema used when none is configured.
func DefaultSchema() *Schema {
	return &Schema{
		Styles:        []string{"normal", "h1", "h2", "h3", "h4", "blockquote"},
		Lists:         []string{"bullet", "number"},
		Decorators:    []string{"strong", "em", "code", "underline", "strike-through"},
		Annotations:   []string{"link", "comment"},
		InlineObjects: []string{"stock-ticker", "mention"},
		BlockObjects:  []string{"image", "code-block", "break"},
	}
}

// DefaultStyle is the first configured style, or "normal".
func (s *Schema) DefaultStyle() string {
	if s == nil || len(s.Styles) == 0 {
		return "normal"
	}
	return s.Styles[0]
}

// IsDecorator reports whether mark names a decorator.
func (s *Schema) IsDecorator(mark string) bool {
	return s != nil && slices.Contains(s.Decorators, mark)
}

// IsAnnotation reports whether typ names an annotation type.
func (s *Schema) IsAnnotation(typ string) bool {
	return s != nil && slices.Contains(s.Annotations, typ)
}

// IsInlineObject reports whether typ names an inline object type.
func (s *Schema) IsInlineObject(typ string) bool {
	return s != nil && slices.Contains(s.InlineObjects, typ)
}

// IsBlockObject reports whether typ names a block object type.
func (s *Schema) IsBlockObject(typ string) bool {
	return s != nil && slices.Contains(s.BlockObjects, typ)
}

// IsStyle reports whether style is configured. An empty style list accepts any.
func (s *Schema) IsStyle(style string) bool {
	if s == nil || len(s.Styles) == 0 {
		return true
	}
	return slices.Contains(s.Styles, style)
}

// Placeholder returns the single empty text block that stands in for an
// empty document.
func (s *Schema) Placeholder(keys KeyGenerator) Block {
	return NewTextBlock(keys.Next(), s.DefaultStyle(), NewSpan(keys.Next(), ""))
}

// IsPlaceholder reports whether b looks like the block Placeholder builds:
// default style, no list, no annotations and one unmarked empty span.
func (s *Schema) IsPlaceholder(b Block) bool {
	if !b.IsText() || len(b.Children) != 1 || len(b.MarkDefs) > 0 {
		return false
	}
	for k, v := range b.Props {
		if k == "style" {
			if v != s.DefaultStyle() {
				return false
			}
			continue
		}
		return false
	}
	c := b.Children[0]
	return c.IsSpan() && c.Text == "" && len(c.Marks) == 0
}

// IsEmpty reports whether v has no blocks or only the placeholder block.
func (s *Schema) IsEmpty(v Value) bool {
	if len(v) == 0 {
		return true
	}
	return len(v) == 1 && s.IsPlaceholder(v[0])
}
