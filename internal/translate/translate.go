// Package translate turns index-addressed editor operations into key-addressed
// patches.
package translate

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

// Error reports an operation whose nodes cannot be found in the trees it was
// translated against.
type Error struct {
	Op  editor.Operation
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("translate: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errNoNode = errors.New("node not found")

// Middleware emits the patches of every local operation. Remote changes,
// selection changes and scopes with patching suppressed emit nothing. A
// translation failure is logged and emits nothing; the operation itself
// still applies.
func Middleware(ed *editor.Editor, emit func([]patch.Patch)) editor.Middleware {
	return func(next editor.ApplyFunc) editor.ApplyFunc {
		return func(op editor.Operation) error {
			if op.Type == editor.SetSelection || ed.Is(editor.Remote) || ed.Is(editor.PatchingSuppressed) {
				return next(op)
			}
			before := ed.Value()
			if err := next(op); err != nil {
				return err
			}
			patches, err := Translate(ed.Schema(), before, ed.Value(), op)
			if err != nil {
				ed.Logger().Warn("translate operation",
					slog.String("op", string(op.Type)),
					slog.Any("path", op.Path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if len(patches) > 0 {
				for i := range patches {
					patches[i].Origin = patch.OriginLocal
				}
				emit(patches)
			}
			return nil
		}
	}
}

// Translate returns the patches describing op, given the document before and
// after it was applied.
func Translate(schema *document.Schema, before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	if op.Type == editor.SetSelection {
		return nil, nil
	}
	wasEmpty := schema.IsEmpty(before)
	isEmpty := schema.IsEmpty(after)
	switch {
	case wasEmpty && isEmpty:
		return nil, nil
	case !wasEmpty && isEmpty && clearsDocument(op.Type):
		return []patch.Patch{patch.Unset(document.KeyPath{})}, nil
	}

	var patches []patch.Patch
	var err error
	if dup := ambiguousBlocks(before, after); dup {
		patches, err = wholeValue(after)
	} else {
		patches, err = translate(before, after, op)
	}
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if !wasEmpty || len(patches) == 0 {
		return patches, nil
	}
	lead := []patch.Patch{patch.SetIfMissing([]any{}, document.KeyPath{})}
	if len(before) == 1 {
		item, err := document.ToJSONValue(before[0])
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
		lead = append(lead, patch.Insert([]any{item}, patch.Before, document.KeyPath{document.IndexSeg(0)}))
	}
	return append(lead, patches...), nil
}

func clearsDocument(t editor.OpType) bool {
	switch t {
	case editor.MergeNode, editor.SetNode, editor.RemoveText, editor.RemoveNode:
		return true
	}
	return false
}

func ambiguousBlocks(vs ...document.Value) bool {
	for _, v := range vs {
		seen := make(map[string]bool, len(v))
		for _, b := range v {
			if seen[b.Key] {
				return true
			}
			seen[b.Key] = true
		}
	}
	return false
}

func ambiguousChildren(bs ...document.Block) bool {
	for _, b := range bs {
		seen := make(map[string]bool, len(b.Children))
		for _, c := range b.Children {
			if seen[c.Key] {
				return true
			}
			seen[c.Key] = true
		}
	}
	return false
}

func wholeValue(v document.Value) ([]patch.Patch, error) {
	j, err := document.ToJSONValue(v)
	if err != nil {
		return nil, err
	}
	return []patch.Patch{patch.Set(j, document.KeyPath{})}, nil
}

func wholeChildren(b document.Block) ([]patch.Patch, error) {
	j, err := document.ToJSONValue(b.Children)
	if err != nil {
		return nil, err
	}
	return []patch.Patch{patch.Set(j, document.ChildrenPath(b.Key))}, nil
}

func blockAt(v document.Value, i int) (document.Block, error) {
	if i < 0 || i >= len(v) {
		return document.Block{}, fmt.Errorf("%w: block %d", errNoNode, i)
	}
	return v[i], nil
}

func childAt(b document.Block, j int) (document.Child, error) {
	if j < 0 || j >= len(b.Children) {
		return document.Child{}, fmt.Errorf("%w: child %d of %q", errNoNode, j, b.Key)
	}
	return b.Children[j], nil
}

func translate(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	if len(op.Path) == 2 {
		bb, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		targets := []document.Block{bb}
		if op.Type == editor.MoveNode && len(op.NewPath) == 2 {
			if ab, err := blockAt(after, op.NewPath[0]); err == nil {
				targets = append(targets, ab)
			}
		} else if ab, err := blockAt(after, op.Path[0]); err == nil {
			targets = append(targets, ab)
		}
		if ambiguousChildren(targets...) {
			var out []patch.Patch
			for _, b := range targets {
				if i := after.IndexOf(b.Key); i >= 0 && !slices.ContainsFunc(out, func(p patch.Patch) bool {
					return p.Path.Equal(document.ChildrenPath(b.Key))
				}) {
					ps, err := wholeChildren(after[i])
					if err != nil {
						return nil, err
					}
					out = append(out, ps...)
				}
			}
			return out, nil
		}
	}

	switch op.Type {
	case editor.InsertText, editor.RemoveText:
		return textPatch(before, after, op)
	case editor.InsertNode:
		return insertNodePatch(before, after, op)
	case editor.RemoveNode:
		return removeNodePatch(before, op)
	case editor.SplitNode:
		return splitNodePatch(after, op)
	case editor.MergeNode:
		return mergeNodePatch(before, after, op)
	case editor.MoveNode:
		return moveNodePatch(before, after, op)
	case editor.SetNode:
		return setNodePatch(before, after, op)
	}
	return nil, fmt.Errorf("unsupported operation %q", op.Type)
}
