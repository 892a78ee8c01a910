package history

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

// rebase returns the operations of s transformed through every remote patch
// recorded after s.
func (h *History) rebase(s *Step) []editor.Operation {
	ops := cloneOps(s.Operations)
	for _, e := range h.remote {
		if e.seq < s.seq {
			continue
		}
		ops = Transform(ops, e)
		if len(ops) == 0 {
			break
		}
	}
	return ops
}

// pathMap rewrites one path. ok is false when the path no longer exists.
type pathMap func(p editor.Path) (out editor.Path, ok bool)

// Transform rewrites ops, recorded before e was applied, so they address the
// document after it. Operations on nodes e removed are dropped.
func Transform(ops []editor.Operation, e RemoteEntry) []editor.Operation {
	p := e.Patch
	switch {
	case p.Type == patch.TypeUnset && len(p.Path) == 0:
		return nil
	case len(p.Path) == 1 && p.Type == patch.TypeInsert:
		at, n := insertedAt(e.SnapshotAfter, p.Items)
		if at < 0 {
			return ops
		}
		return mapPaths(ops, func(q editor.Path) (editor.Path, bool) {
			if len(q) > 0 && q[0] >= at {
				q[0] += n
			}
			return q, true
		})
	case len(p.Path) == 1 && p.Type == patch.TypeUnset:
		key, ok := p.Path[0].Key()
		if !ok {
			return ops
		}
		idx := e.SnapshotBefore.IndexOf(key)
		if idx < 0 {
			return ops
		}
		return mapPaths(ops, func(q editor.Path) (editor.Path, bool) {
			switch {
			case len(q) == 0:
			case q[0] == idx:
				return nil, false
			case q[0] > idx:
				q[0]--
			}
			return q, true
		})
	case isChildren(p.Path) && len(p.Path) == 3 && p.Type == patch.TypeInsert:
		bi, block, ok := blockOf(e.SnapshotAfter, p.Path)
		if !ok {
			return ops
		}
		at, n := childInsertedAt(block, p.Items)
		if at < 0 {
			return ops
		}
		return mapPaths(ops, func(q editor.Path) (editor.Path, bool) {
			if len(q) == 2 && q[0] == bi && q[1] >= at {
				q[1] += n
			}
			return q, true
		})
	case isChildren(p.Path) && len(p.Path) == 3 && p.Type == patch.TypeUnset:
		bi, block, ok := blockOf(e.SnapshotBefore, p.Path)
		if !ok {
			return ops
		}
		ck, _ := p.Path[2].Key()
		ci := block.ChildIndex(ck)
		if ci < 0 {
			return ops
		}
		return mapPaths(ops, func(q editor.Path) (editor.Path, bool) {
			if len(q) != 2 || q[0] != bi {
				return q, true
			}
			switch {
			case q[1] == ci:
				return nil, false
			case q[1] > ci:
				q[1]--
			}
			return q, true
		})
	case isText(p.Path) && (p.Type == patch.TypeDiffMatchPatch || p.Type == patch.TypeSet):
		return transformText(ops, e)
	}
	return ops
}

func isChildren(path document.KeyPath) bool {
	return len(path) >= 2 && path[1].IsField("children")
}

func isText(path document.KeyPath) bool {
	return len(path) == 4 && isChildren(path) && path[3].IsField("text")
}

func itemKey(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	k, _ := m["_key"].(string)
	return k
}

// insertedAt returns where the first inserted block landed and how many
// blocks were inserted.
func insertedAt(after document.Value, items []any) (int, int) {
	if len(items) == 0 {
		return -1, 0
	}
	k := itemKey(items[0])
	if k == "" {
		return -1, 0
	}
	return after.IndexOf(k), len(items)
}

func childInsertedAt(b document.Block, items []any) (int, int) {
	if len(items) == 0 {
		return -1, 0
	}
	k := itemKey(items[0])
	if k == "" {
		return -1, 0
	}
	return b.ChildIndex(k), len(items)
}

func blockOf(v document.Value, path document.KeyPath) (int, document.Block, bool) {
	key, ok := path[0].Key()
	if !ok {
		return -1, document.Block{}, false
	}
	i := v.IndexOf(key)
	if i < 0 {
		return -1, document.Block{}, false
	}
	return i, v[i], true
}

// spanText returns the text of the span at path in v and its indexes.
func spanText(v document.Value, path document.KeyPath) (bi, ci int, text string, ok bool) {
	bi, block, ok := blockOf(v, path)
	if !ok {
		return -1, -1, "", false
	}
	ck, _ := path[2].Key()
	ci = block.ChildIndex(ck)
	if ci < 0 || !block.Children[ci].IsSpan() {
		return -1, -1, "", false
	}
	return bi, ci, block.Children[ci].Text, true
}

func transformText(ops []editor.Operation, e RemoteEntry) []editor.Operation {
	bi, ci, before, ok := spanText(e.SnapshotBefore, e.Patch.Path)
	if !ok {
		return ops
	}
	_, _, after, ok := spanText(e.SnapshotAfter, e.Patch.Path)
	if !ok || before == after {
		return ops
	}
	diffs := patch.Diff(before, after)
	span := editor.Path{bi, ci}
	next := editor.Path{bi, ci + 1}

	out := make([]editor.Operation, 0, len(ops))
	for _, op := range ops {
		switch {
		case op.Type == editor.InsertText && op.Path.Equal(span):
			op.Offset, op.Text = insertedRange(diffs, after, op.Offset, op.Text)
		case op.Type == editor.RemoveText && op.Path.Equal(span):
			op.Offset = patch.MapOffsetThroughDiffs(diffs, op.Offset)
		case op.Type == editor.SplitNode && op.Path.Equal(span):
			op.Position = patch.MapOffsetThroughDiffs(diffs, op.Position)
		case op.Type == editor.MergeNode && op.Path.Equal(next):
			op.Position = len(after)
		case op.Type == editor.SetSelection:
			op.Selection = mapRangeOffsets(op.Selection, span, diffs)
			op.NewSelection = mapRangeOffsets(op.NewSelection, span, diffs)
		}
		out = append(out, op)
	}
	return out
}

// insertedRange locates locally inserted text in the remote result. Remote
// text typed exactly at either edge of the insertion stays outside it.
func insertedRange(diffs []diffmatchpatch.Diff, after string, offset int, text string) (int, string) {
	start := patch.MapOffsetThroughDiffs(diffs, offset)
	end := patch.MapOffsetThroughDiffs(diffs, offset+len(text))
	if end > len(after) {
		end = len(after)
	}
	if start > end {
		start = end
	}
	if after[start:end] == text {
		return start, text
	}
	if s := end - len(text); s >= start && after[s:end] == text {
		return s, text
	}
	return start, after[start:end]
}

func mapRangeOffsets(r *editor.Range, span editor.Path, diffs []diffmatchpatch.Diff) *editor.Range {
	if r == nil {
		return nil
	}
	r = &editor.Range{
		Anchor: editor.Point{Path: r.Anchor.Path.Clone(), Offset: r.Anchor.Offset},
		Focus:  editor.Point{Path: r.Focus.Path.Clone(), Offset: r.Focus.Offset},
	}
	for _, pt := range []*editor.Point{&r.Anchor, &r.Focus} {
		if pt.Path.Equal(span) {
			pt.Offset = patch.MapOffsetThroughDiffs(diffs, pt.Offset)
		}
	}
	return r
}

// mapPaths applies fn to every path an operation carries. An operation whose
// own path is gone is dropped; a selection with a point that is gone becomes
// nil.
func mapPaths(ops []editor.Operation, fn pathMap) []editor.Operation {
	out := make([]editor.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Type == editor.SetSelection {
			op.Selection = mapRange(op.Selection, fn)
			op.NewSelection = mapRange(op.NewSelection, fn)
			out = append(out, op)
			continue
		}
		p, ok := fn(op.Path.Clone())
		if !ok {
			continue
		}
		op.Path = p
		if op.Type == editor.MoveNode {
			np, ok := fn(op.NewPath.Clone())
			if !ok {
				continue
			}
			op.NewPath = np
		}
		out = append(out, op)
	}
	return out
}

func mapRange(r *editor.Range, fn pathMap) *editor.Range {
	if r == nil {
		return nil
	}
	a, okA := fn(r.Anchor.Path.Clone())
	f, okF := fn(r.Focus.Path.Clone())
	if !okA || !okF {
		return nil
	}
	return &editor.Range{
		Anchor: editor.Point{Path: a, Offset: r.Anchor.Offset},
		Focus:  editor.Point{Path: f, Offset: r.Focus.Offset},
	}
}
