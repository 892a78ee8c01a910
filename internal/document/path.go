package document

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type segmentKind uint8

const (
	segField segmentKind = iota
	segKey
	segIndex
)

// Segment is one step of a KeyPath: a field name, a stable {_key} reference,
// or an array index.
type Segment struct {
	kind  segmentKind
	name  string
	index int
}

// KeySeg addresses an array member by its stable key.
func KeySeg(key string) Segment { return Segment{kind: segKey, name: key} }

// IndexSeg addresses an array member by position.
func IndexSeg(i int) Segment { return Segment{kind: segIndex, index: i} }

// FieldSeg addresses a field of an object.
func FieldSeg(name string) Segment { return Segment{kind: segField, name: name} }

// Key returns the key of a key segment.
func (s Segment) Key() (string, bool) { return s.name, s.kind == segKey }

// Index returns the position of an index segment.
func (s Segment) Index() (int, bool) { return s.index, s.kind == segIndex }

// Field returns the name of a field segment.
func (s Segment) Field() (string, bool) { return s.name, s.kind == segField }

// IsField reports whether s is the field segment name.
func (s Segment) IsField(name string) bool { return s.kind == segField && s.name == name }

func (s Segment) String() string {
	switch s.kind {
	case segKey:
		return fmt.Sprintf("[_key==%q]", s.name)
	case segIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	default:
		return s.name
	}
}

// MarshalJSON encodes the segment as a number, a string or {"_key": ...}.
func (s Segment) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case segKey:
		return json.Marshal(map[string]string{PropKey: s.name})
	case segIndex:
		return json.Marshal(s.index)
	default:
		return json.Marshal(s.name)
	}
}

// UnmarshalJSON accepts a number, a string, or an object carrying _key (or key).
func (s *Segment) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*s = IndexSeg(int(t))
	case string:
		*s = FieldSeg(t)
	case map[string]any:
		k, ok := t[PropKey].(string)
		if !ok {
			k, ok = t["key"].(string)
		}
		if !ok {
			return fmt.Errorf("document: path segment object without _key")
		}
		*s = KeySeg(k)
	default:
		return fmt.Errorf("document: invalid path segment %s", string(data))
	}
	return nil
}

// KeyPath locates a node or field independent of current array positions.
type KeyPath []Segment

func (p KeyPath) String() string {
	var sb strings.Builder
	for i, s := range p {
		if i > 0 && s.kind == segField {
			sb.WriteByte('.')
		}
		sb.WriteString(s.String())
	}
	return sb.String()
}

// Equal reports whether two paths hold the same segments.
func (p KeyPath) Equal(o KeyPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Append returns a copy of p extended with segs.
func (p KeyPath) Append(segs ...Segment) KeyPath {
	out := make(KeyPath, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// BlockPath addresses a block by key.
func BlockPath(blockKey string) KeyPath {
	return KeyPath{KeySeg(blockKey)}
}

// ChildrenPath addresses the children array of a block.
func ChildrenPath(blockKey string) KeyPath {
	return KeyPath{KeySeg(blockKey), FieldSeg(PropChildren)}
}

// ChildPath addresses a child of a block by key.
func ChildPath(blockKey, childKey string) KeyPath {
	return KeyPath{KeySeg(blockKey), FieldSeg(PropChildren), KeySeg(childKey)}
}

// TextPath addresses the text field of a span.
func TextPath(blockKey, childKey string) KeyPath {
	return KeyPath{KeySeg(blockKey), FieldSeg(PropChildren), KeySeg(childKey), FieldSeg(PropText)}
}
