// Package document defines the block tree the editor core works on: text and
// object blocks, the spans and inline objects inside text blocks, and the
// key-addressed paths that patches use to reach into the tree.
package document

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Type names that classify a node at parse time.
const (
	TextBlockType = "block"
	SpanType      = "span"
)

// BlockKind tags the two block variants.
type BlockKind uint8

const (
	KindTextBlock BlockKind = iota
	KindObjectBlock
)

func (k BlockKind) String() string {
	if k == KindTextBlock {
		return "text"
	}
	return "object"
}

// ChildKind tags the two variants that can live inside a text block.
type ChildKind uint8

const (
	KindSpan ChildKind = iota
	KindInlineObject
)

func (k ChildKind) String() string {
	if k == KindSpan {
		return "span"
	}
	return "inline object"
}

// MarkDef is an annotation scoped to the block that holds it. Spans reference
// it by putting its key in their marks.
type MarkDef struct {
	Key    string
	Type   string
	Fields map[string]any
}

// Child is a node inside a text block: a span of text or an inline object.
type Child struct {
	Kind  ChildKind
	Key   string
	Type  string
	Text  string
	Marks []string
	// Value holds the custom fields of an inline object.
	Value map[string]any
}

// Block is a top-level document node.
//
// Text blocks carry Children, MarkDefs and Props (style, listItem, level and
// any custom block field). Object blocks carry their custom fields in Value.
// A nil Children or MarkDefs slice means the field is absent, which the
// validator reports; an empty slice means present and empty.
type Block struct {
	Kind     BlockKind
	Key      string
	Type     string
	Children []Child
	MarkDefs []MarkDef
	Props    map[string]any
	Value    map[string]any
}

// Value is the whole document: an ordered list of blocks.
type Value []Block

// NewSpan returns a span child.
func NewSpan(key, text string, marks ...string) Child {
	if marks == nil {
		marks = []string{}
	}
	return Child{Kind: KindSpan, Key: key, Type: SpanType, Text: text, Marks: marks}
}

// NewInlineObject returns an inline object child.
func NewInlineObject(key, typ string, value map[string]any) Child {
	return Child{Kind: KindInlineObject, Key: key, Type: typ, Value: value}
}

// NewTextBlock returns a text block with the given style and children.
func NewTextBlock(key, style string, children ...Child) Block {
	if children == nil {
		children = []Child{}
	}
	props := map[string]any{}
	if style != "" {
		props["style"] = style
	}
	return Block{
		Kind:     KindTextBlock,
		Key:      key,
		Type:     TextBlockType,
		Children: children,
		MarkDefs: []MarkDef{},
		Props:    props,
	}
}

// NewObjectBlock returns an object block of the given type.
func NewObjectBlock(key, typ string, value map[string]any) Block {
	return Block{Kind: KindObjectBlock, Key: key, Type: typ, Value: value}
}

// IsText reports whether b is a text block.
func (b Block) IsText() bool { return b.Kind == KindTextBlock }

// IsSpan reports whether c is a span.
func (c Child) IsSpan() bool { return c.Kind == KindSpan }

// Style returns the block style or "" when unset.
func (b Block) Style() string {
	s, _ := b.Props["style"].(string)
	return s
}

// ChildIndex returns the index of the child with key, or -1.
func (b Block) ChildIndex(key string) int {
	for i, c := range b.Children {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// CountChildKey returns how many children carry key.
func (b Block) CountChildKey(key string) int {
	n := 0
	for _, c := range b.Children {
		if c.Key == key {
			n++
		}
	}
	return n
}

// MarkDefIndex returns the index of the mark definition with key, or -1.
func (b Block) MarkDefIndex(key string) int {
	for i, m := range b.MarkDefs {
		if m.Key == key {
			return i
		}
	}
	return -1
}

// IndexOf returns the index of the block with key, or -1.
func (v Value) IndexOf(key string) int {
	for i, b := range v {
		if b.Key == key {
			return i
		}
	}
	return -1
}

// CountKey returns how many blocks carry key.
func (v Value) CountKey(key string) int {
	n := 0
	for _, b := range v {
		if b.Key == key {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of c.
func (c Child) Clone() Child {
	out := c
	if c.Marks != nil {
		out.Marks = slices.Clone(c.Marks)
	}
	out.Value = cloneMap(c.Value)
	return out
}

// Clone returns a deep copy of m.
func (m MarkDef) Clone() MarkDef {
	return MarkDef{Key: m.Key, Type: m.Type, Fields: cloneMap(m.Fields)}
}

// Clone returns a deep copy of b.
func (b Block) Clone() Block {
	out := b
	if b.Children != nil {
		out.Children = make([]Child, len(b.Children))
		for i, c := range b.Children {
			out.Children[i] = c.Clone()
		}
	}
	out.MarkDefs = cloneMarkDefs(b.MarkDefs)
	out.Props = cloneMap(b.Props)
	out.Value = cloneMap(b.Value)
	return out
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	for i, b := range v {
		out[i] = b.Clone()
	}
	return out
}

func cloneMarkDefs(in []MarkDef) []MarkDef {
	if in == nil {
		return nil
	}
	out := make([]MarkDef, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = CloneAny(v)
	}
	return out
}

// CloneAny deep-copies JSON-like values (maps, slices, scalars).
func CloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneAny(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []MarkDef:
		return cloneMarkDefs(t)
	case Block:
		return t.Clone()
	case Child:
		return t.Clone()
	default:
		return v
	}
}

// Equal reports whether a and b encode to the same canonical JSON.
func Equal(a, b Block) bool {
	return EqualJSON(a, b)
}

// Equal reports whether v and w hold deep-equal blocks in the same order.
func (v Value) Equal(w Value) bool {
	if len(v) != len(w) {
		return false
	}
	for i := range v {
		if !Equal(v[i], w[i]) {
			return false
		}
	}
	return true
}

// EqualJSON compares two values through their canonical JSON encoding.
// Maps marshal with sorted keys, so field order does not matter, and numbers
// compare by value regardless of the Go type that holds them.
func EqualJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// SameMarks reports whether two mark sets hold the same members.
func SameMarks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}
