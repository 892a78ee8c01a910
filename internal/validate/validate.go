// Package validate checks incoming blocks against a schema and proposes
// patches that repair them.
package validate

import (
	"fmt"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/patch"
)

// Actions offered to a user for resolutions that are not applied
// automatically.
const (
	ActionRemoveBlock  = "Remove the block"
	ActionRemoveChild  = "Remove the child"
	ActionDefaultStyle = "Use the default style"
	ActionAddKey       = "Add a key"
	ActionAddMarks     = "Add missing marks"
	ActionAddMarkDefs  = "Add missing markDefs"
	ActionAddChild     = "Add an empty span"
	ActionRemoveMarks  = "Remove orphaned marks"
	ActionRekey        = "Make the key unique"
)

// Resolution is a proposed fix for an invalid block.
type Resolution struct {
	AutoResolve bool
	Patches     []patch.Patch
	Description string
	Action      string
	Index       int
	BlockKey    string
}

// Result is the outcome of validating one block.
type Result struct {
	Valid      bool
	Resolution *Resolution
}

// Validator validates blocks against Schema. Keys generates keys for
// resolutions that add or replace one.
type Validator struct {
	Schema *document.Schema
	Keys   document.KeyGenerator
}

// ValidateBlock validates b, found at index of an incoming value, with ULID
// keys for any resolution.
func ValidateBlock(schema *document.Schema, b document.Block, index int) Result {
	v := Validator{Schema: schema, Keys: document.ULIDKeys{}}
	return v.Validate(b, index)
}

// Validate returns the first problem found in b and how to resolve it.
func (v Validator) Validate(b document.Block, index int) Result {
	for _, check := range []func(document.Block, int) *Resolution{
		v.checkKey,
		v.checkType,
		v.checkTextBlock,
		v.checkChildren,
	} {
		if r := check(b, index); r != nil {
			r.Index = index
			r.BlockKey = b.Key
			return Result{Resolution: r}
		}
	}
	return Result{Valid: true}
}

func strs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// blockSeg addresses b by key, or by index when it has none.
func blockSeg(b document.Block, index int) document.Segment {
	if b.Key == "" {
		return document.IndexSeg(index)
	}
	return document.KeySeg(b.Key)
}

func (v Validator) checkKey(b document.Block, index int) *Resolution {
	if err := validation.Validate(b.Key, validation.Required); err == nil {
		return nil
	}
	return &Resolution{
		AutoResolve: true,
		Patches: []patch.Patch{
			patch.Set(v.Keys.Next(), document.KeyPath{document.IndexSeg(index), document.FieldSeg(document.PropKey)}),
		},
		Description: fmt.Sprintf("Block at index %d is missing a key.", index),
		Action:      ActionAddKey,
	}
}

func (v Validator) checkType(b document.Block, index int) *Resolution {
	allowed := append([]any{document.TextBlockType}, strs(v.Schema.BlockObjects)...)
	err := validation.Validate(b.Type, validation.Required, validation.In(allowed...))
	if err == nil {
		return nil
	}
	return &Resolution{
		Patches:     []patch.Patch{patch.Unset(document.KeyPath{blockSeg(b, index)})},
		Description: fmt.Sprintf("Block %q has an invalid type %q: %v.", b.Key, b.Type, err),
		Action:      ActionRemoveBlock,
	}
}

func (v Validator) checkTextBlock(b document.Block, index int) *Resolution {
	if !b.IsText() {
		return nil
	}
	seg := blockSeg(b, index)
	if err := validation.Validate(b.MarkDefs, validation.NotNil); err != nil {
		return &Resolution{
			AutoResolve: true,
			Patches:     []patch.Patch{patch.Set([]any{}, document.KeyPath{seg, document.FieldSeg(document.PropMarkDefs)})},
			Description: fmt.Sprintf("Block %q is missing markDefs.", b.Key),
			Action:      ActionAddMarkDefs,
		}
	}
	if len(b.Children) == 0 {
		span := map[string]any{
			document.PropKey:   v.Keys.Next(),
			document.PropType:  document.SpanType,
			document.PropText:  "",
			document.PropMarks: []any{},
		}
		return &Resolution{
			AutoResolve: true,
			Patches:     []patch.Patch{patch.Set([]any{span}, document.KeyPath{seg, document.FieldSeg(document.PropChildren)})},
			Description: fmt.Sprintf("Block %q has no children.", b.Key),
			Action:      ActionAddChild,
		}
	}
	if len(v.Schema.Styles) > 0 {
		style, _ := b.Props["style"].(string)
		if style != "" {
			if err := validation.Validate(style, validation.In(strs(v.Schema.Styles)...)); err != nil {
				return &Resolution{
					Patches:     []patch.Patch{patch.Set(v.Schema.DefaultStyle(), document.KeyPath{seg, document.FieldSeg("style")})},
					Description: fmt.Sprintf("Block %q has an unknown style %q.", b.Key, style),
					Action:      ActionDefaultStyle,
				}
			}
		}
	}
	return nil
}

func (v Validator) checkChildren(b document.Block, index int) *Resolution {
	if !b.IsText() {
		return nil
	}
	seg := blockSeg(b, index)
	children := func(s document.Segment, rest ...document.Segment) document.KeyPath {
		return append(document.KeyPath{seg, document.FieldSeg(document.PropChildren), s}, rest...)
	}

	seen := make(map[string]bool, len(b.Children))
	for i, c := range b.Children {
		if err := validation.Validate(c.Key, validation.Required); err != nil {
			return &Resolution{
				AutoResolve: true,
				Patches:     []patch.Patch{patch.Set(v.Keys.Next(), children(document.IndexSeg(i), document.FieldSeg(document.PropKey)))},
				Description: fmt.Sprintf("Child at index %d of block %q is missing a key.", i, b.Key),
				Action:      ActionAddKey,
			}
		}
		if seen[c.Key] {
			return &Resolution{
				AutoResolve: true,
				Patches:     []patch.Patch{patch.Set(v.Keys.Next(), children(document.IndexSeg(i), document.FieldSeg(document.PropKey)))},
				Description: fmt.Sprintf("Block %q has more than one child with key %q.", b.Key, c.Key),
				Action:      ActionRekey,
			}
		}
		seen[c.Key] = true

		if !c.IsSpan() {
			if !v.Schema.IsInlineObject(c.Type) {
				return &Resolution{
					Patches:     []patch.Patch{patch.Unset(children(document.KeySeg(c.Key)))},
					Description: fmt.Sprintf("Child %q of block %q has an unknown type %q.", c.Key, b.Key, c.Type),
					Action:      ActionRemoveChild,
				}
			}
			continue
		}
		if err := validation.Validate(c.Marks, validation.NotNil); err != nil {
			return &Resolution{
				AutoResolve: true,
				Patches:     []patch.Patch{patch.Set([]any{}, children(document.KeySeg(c.Key), document.FieldSeg(document.PropMarks)))},
				Description: fmt.Sprintf("Span %q of block %q is missing marks.", c.Key, b.Key),
				Action:      ActionAddMarks,
			}
		}
		if len(v.Schema.Decorators) == 0 {
			continue
		}
		if kept := v.validMarks(b, c.Marks); len(kept) != len(c.Marks) {
			return &Resolution{
				AutoResolve: true,
				Patches:     []patch.Patch{patch.Set(strs(kept), children(document.KeySeg(c.Key), document.FieldSeg(document.PropMarks)))},
				Description: fmt.Sprintf("Span %q of block %q has marks without a decorator or markDef.", c.Key, b.Key),
				Action:      ActionRemoveMarks,
			}
		}
	}
	return nil
}

func (v Validator) validMarks(b document.Block, marks []string) []string {
	allowed := strs(v.Schema.Decorators)
	for _, md := range b.MarkDefs {
		allowed = append(allowed, md.Key)
	}
	rule := validation.In(allowed...)
	return slices.DeleteFunc(slices.Clone(marks), func(m string) bool {
		return rule.Validate(m) != nil
	})
}
