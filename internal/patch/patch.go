// Package patch defines key-addressed document patches: the portable,
// order-independent form in which edits leave and enter the editor.
package patch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/blockpatch/internal/document"
)

// Type names a patch kind on the wire.
type Type string

const (
	TypeInsert         Type = "insert"
	TypeSet            Type = "set"
	TypeSetIfMissing   Type = "setIfMissing"
	TypeUnset          Type = "unset"
	TypeDiffMatchPatch Type = "diffMatchPatch"
)

// Position places inserted items relative to the referenced array member.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

// Origin records where a patch came from.
type Origin string

const (
	OriginLocal    Origin = "local"
	OriginRemote   Origin = "remote"
	OriginInternal Origin = "internal"
)

// Patch is one key-addressed mutation.
//
// Value carries the payload of set and setIfMissing, and the patch text of
// diffMatchPatch. Items and Position only apply to insert, whose Path names
// the array member the items go before or after.
type Patch struct {
	Type     Type
	Path     document.KeyPath
	Value    any
	Items    []any
	Position Position
	Origin   Origin
}

// Set replaces the value at path.
func Set(value any, path document.KeyPath) Patch {
	return Patch{Type: TypeSet, Path: path, Value: value}
}

// SetIfMissing stores value at path only when nothing is there yet.
func SetIfMissing(value any, path document.KeyPath) Patch {
	return Patch{Type: TypeSetIfMissing, Path: path, Value: value}
}

// Unset removes the value at path.
func Unset(path document.KeyPath) Patch {
	return Patch{Type: TypeUnset, Path: path}
}

// Insert places items before or after the array member at path.
func Insert(items []any, pos Position, path document.KeyPath) Patch {
	return Patch{Type: TypeInsert, Path: path, Items: items, Position: pos}
}

// DiffMatchPatch applies a diff-match-patch text delta to the string at path.
func DiffMatchPatch(value string, path document.KeyPath) Patch {
	return Patch{Type: TypeDiffMatchPatch, Path: path, Value: value}
}

// WithOrigin returns a copy of p tagged with origin.
func (p Patch) WithOrigin(o Origin) Patch {
	p.Origin = o
	return p
}

// Text returns the diff-match-patch text of a diffMatchPatch patch.
func (p Patch) Text() string {
	s, _ := p.Value.(string)
	return s
}

func (p Patch) String() string {
	switch p.Type {
	case TypeInsert:
		return fmt.Sprintf("insert(%d items, %s, %s)", len(p.Items), p.Position, p.Path)
	case TypeDiffMatchPatch:
		return fmt.Sprintf("diffMatchPatch(%q, %s)", strings.TrimSpace(p.Text()), p.Path)
	case TypeUnset:
		return fmt.Sprintf("unset(%s)", p.Path)
	default:
		return fmt.Sprintf("%s(%v, %s)", p.Type, p.Value, p.Path)
	}
}

type wirePatch struct {
	Type     Type             `json:"type"`
	Path     document.KeyPath `json:"path"`
	Value    json.RawMessage  `json:"value,omitempty"`
	Items    []any            `json:"items,omitempty"`
	Position Position         `json:"position,omitempty"`
	Origin   Origin           `json:"origin,omitempty"`
}

// MarshalJSON encodes the wire shape. Value is always present for patch
// kinds that carry one, so set("") survives the round trip.
func (p Patch) MarshalJSON() ([]byte, error) {
	w := wirePatch{Type: p.Type, Path: p.Path, Origin: p.Origin}
	if w.Path == nil {
		w.Path = document.KeyPath{}
	}
	switch p.Type {
	case TypeSet, TypeSetIfMissing, TypeDiffMatchPatch:
		raw, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("patch: encode value: %w", err)
		}
		w.Value = raw
	case TypeInsert:
		w.Items = p.Items
		if w.Items == nil {
			w.Items = []any{}
		}
		w.Position = p.Position
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape into generic JSON values.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w wirePatch
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("patch: decode: %w", err)
	}
	np := Patch{Type: w.Type, Path: w.Path, Items: w.Items, Position: w.Position, Origin: w.Origin}
	if np.Path == nil {
		np.Path = document.KeyPath{}
	}
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &np.Value); err != nil {
			return fmt.Errorf("patch: decode value: %w", err)
		}
	}
	switch np.Type {
	case TypeInsert:
		if np.Position != Before && np.Position != After {
			return fmt.Errorf("patch: insert position %q", np.Position)
		}
	case TypeSet, TypeSetIfMissing, TypeUnset:
	case TypeDiffMatchPatch:
		if _, ok := np.Value.(string); !ok {
			return fmt.Errorf("patch: diffMatchPatch value must be a string")
		}
	default:
		return fmt.Errorf("patch: unknown type %q", np.Type)
	}
	*p = np
	return nil
}
