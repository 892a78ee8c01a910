package translate

import (
	"fmt"
	"sort"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

func textPatch(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	if len(op.Path) != 2 {
		return nil, fmt.Errorf("text operation at %v", op.Path)
	}
	bb, err := blockAt(before, op.Path[0])
	if err != nil {
		return nil, err
	}
	prev, err := childAt(bb, op.Path[1])
	if err != nil {
		return nil, err
	}
	ab, err := blockAt(after, op.Path[0])
	if err != nil {
		return nil, err
	}
	next, err := childAt(ab, op.Path[1])
	if err != nil {
		return nil, err
	}
	if ab.Key != bb.Key || next.Key != prev.Key {
		return nil, fmt.Errorf("%w: span %q of %q moved during %s", errNoNode, prev.Key, bb.Key, op.Type)
	}
	p, ok := patch.MakeDiffMatchPatch(prev.Text, next.Text, document.TextPath(bb.Key, prev.Key))
	if !ok {
		return nil, nil
	}
	return []patch.Patch{p}, nil
}

func jsonItem(v any) ([]any, error) {
	j, err := document.ToJSONValue(v)
	if err != nil {
		return nil, err
	}
	return []any{j}, nil
}

func insertNodePatch(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	switch len(op.Path) {
	case 1:
		i := op.Path[0]
		b, err := blockAt(after, i)
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(b)
		if err != nil {
			return nil, err
		}
		switch {
		case i == 0 && len(before) > 0:
			return []patch.Patch{patch.Insert(items, patch.Before, document.BlockPath(before[0].Key))}, nil
		case i > 0 && i <= len(before):
			return []patch.Patch{patch.Insert(items, patch.After, document.BlockPath(before[i-1].Key))}, nil
		}
		return []patch.Patch{
			patch.SetIfMissing([]any{}, document.KeyPath{}),
			patch.Insert(items, patch.Before, document.KeyPath{document.IndexSeg(i)}),
		}, nil
	case 2:
		bb, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		ab, err := blockAt(after, op.Path[0])
		if err != nil {
			return nil, err
		}
		c, err := childAt(ab, op.Path[1])
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(c)
		if err != nil {
			return nil, err
		}
		j := op.Path[1]
		switch {
		case j == 0 && len(bb.Children) > 0:
			return []patch.Patch{patch.Insert(items, patch.Before, document.ChildPath(bb.Key, bb.Children[0].Key))}, nil
		case j > 0 && j <= len(bb.Children):
			return []patch.Patch{patch.Insert(items, patch.After, document.ChildPath(bb.Key, bb.Children[j-1].Key))}, nil
		}
		return []patch.Patch{
			patch.SetIfMissing([]any{}, document.ChildrenPath(bb.Key)),
			patch.Insert(items, patch.Before, document.ChildrenPath(bb.Key).Append(document.IndexSeg(0))),
		}, nil
	}
	return nil, fmt.Errorf("insert_node at %v", op.Path)
}

func removeNodePatch(before document.Value, op editor.Operation) ([]patch.Patch, error) {
	b, err := blockAt(before, op.Path[0])
	if err != nil {
		return nil, err
	}
	switch len(op.Path) {
	case 1:
		return []patch.Patch{patch.Unset(document.BlockPath(b.Key))}, nil
	case 2:
		c, err := childAt(b, op.Path[1])
		if err != nil {
			return nil, err
		}
		return []patch.Patch{patch.Unset(document.ChildPath(b.Key, c.Key))}, nil
	}
	return nil, fmt.Errorf("remove_node at %v", op.Path)
}

func splitNodePatch(after document.Value, op editor.Operation) ([]patch.Patch, error) {
	switch len(op.Path) {
	case 1:
		left, err := blockAt(after, op.Path[0])
		if err != nil {
			return nil, err
		}
		right, err := blockAt(after, op.Path[0]+1)
		if err != nil {
			return nil, err
		}
		lj, err := document.ToJSONValue(left)
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(right)
		if err != nil {
			return nil, err
		}
		return []patch.Patch{
			patch.Set(lj, document.BlockPath(left.Key)),
			patch.Insert(items, patch.After, document.BlockPath(left.Key)),
		}, nil
	case 2:
		b, err := blockAt(after, op.Path[0])
		if err != nil {
			return nil, err
		}
		left, err := childAt(b, op.Path[1])
		if err != nil {
			return nil, err
		}
		right, err := childAt(b, op.Path[1]+1)
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(right)
		if err != nil {
			return nil, err
		}
		return []patch.Patch{
			patch.Set(left.Text, document.TextPath(b.Key, left.Key)),
			patch.Insert(items, patch.After, document.ChildPath(b.Key, left.Key)),
		}, nil
	}
	return nil, fmt.Errorf("split_node at %v", op.Path)
}

func mergeNodePatch(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	switch len(op.Path) {
	case 1:
		removed, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		merged, err := blockAt(after, op.Path[0]-1)
		if err != nil {
			return nil, err
		}
		mj, err := document.ToJSONValue(merged)
		if err != nil {
			return nil, err
		}
		return []patch.Patch{
			patch.Set(mj, document.BlockPath(merged.Key)),
			patch.Unset(document.BlockPath(removed.Key)),
		}, nil
	case 2:
		bb, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		removed, err := childAt(bb, op.Path[1])
		if err != nil {
			return nil, err
		}
		ab, err := blockAt(after, op.Path[0])
		if err != nil {
			return nil, err
		}
		merged, err := childAt(ab, op.Path[1]-1)
		if err != nil {
			return nil, err
		}
		var first patch.Patch
		if merged.IsSpan() {
			first = patch.Set(merged.Text, document.TextPath(ab.Key, merged.Key))
		} else {
			mj, err := document.ToJSONValue(merged)
			if err != nil {
				return nil, err
			}
			first = patch.Set(mj, document.ChildPath(ab.Key, merged.Key))
		}
		return []patch.Patch{first, patch.Unset(document.ChildPath(bb.Key, removed.Key))}, nil
	}
	return nil, fmt.Errorf("merge_node at %v", op.Path)
}

func moveNodePatch(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	switch len(op.Path) {
	case 1:
		node, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(node)
		if err != nil {
			return nil, err
		}
		ni := op.NewPath[0]
		unset := patch.Unset(document.BlockPath(node.Key))
		if ni > 0 {
			ref, err := blockAt(after, ni-1)
			if err != nil {
				return nil, err
			}
			return []patch.Patch{unset, patch.Insert(items, patch.After, document.BlockPath(ref.Key))}, nil
		}
		if len(before) == 1 {
			// the only block moved onto itself
			return nil, nil
		}
		ref, err := blockAt(after, 1)
		if err != nil {
			return nil, err
		}
		return []patch.Patch{unset, patch.Insert(items, patch.Before, document.BlockPath(ref.Key))}, nil
	case 2:
		src, err := blockAt(before, op.Path[0])
		if err != nil {
			return nil, err
		}
		node, err := childAt(src, op.Path[1])
		if err != nil {
			return nil, err
		}
		items, err := jsonItem(node)
		if err != nil {
			return nil, err
		}
		dst, err := blockAt(after, op.NewPath[0])
		if err != nil {
			return nil, err
		}
		unset := patch.Unset(document.ChildPath(src.Key, node.Key))
		nj := op.NewPath[1]
		switch {
		case nj > 0:
			ref, err := childAt(dst, nj-1)
			if err != nil {
				return nil, err
			}
			return []patch.Patch{unset, patch.Insert(items, patch.After, document.ChildPath(dst.Key, ref.Key))}, nil
		case len(dst.Children) > 1:
			return []patch.Patch{unset, patch.Insert(items, patch.Before, document.ChildPath(dst.Key, dst.Children[1].Key))}, nil
		}
		return []patch.Patch{
			unset,
			patch.SetIfMissing([]any{}, document.ChildrenPath(dst.Key)),
			patch.Insert(items, patch.Before, document.ChildrenPath(dst.Key).Append(document.IndexSeg(0))),
		}, nil
	}
	return nil, fmt.Errorf("move_node at %v", op.Path)
}

func setNodePatch(before, after document.Value, op editor.Operation) ([]patch.Patch, error) {
	bb, err := blockAt(before, op.Path[0])
	if err != nil {
		return nil, err
	}
	ab, err := blockAt(after, op.Path[0])
	if err != nil {
		return nil, err
	}
	switch len(op.Path) {
	case 1:
		base := document.BlockPath(bb.Key)
		var patches []patch.Patch
		if bb.IsText() {
			patches, err = fieldPatches(base, withoutKey(bb.Properties()), withoutKey(ab.Properties()))
		} else {
			patches, err = objectPatches(base, bb, ab)
		}
		if err != nil {
			return nil, err
		}
		if ab.Key != bb.Key {
			patches = append(patches, patch.Set(ab.Key, base.Append(document.FieldSeg(document.PropKey))))
		}
		return patches, nil
	case 2:
		bc, err := childAt(bb, op.Path[1])
		if err != nil {
			return nil, err
		}
		ac, err := childAt(ab, op.Path[1])
		if err != nil {
			return nil, err
		}
		base := document.ChildPath(bb.Key, bc.Key)
		var patches []patch.Patch
		if bc.IsSpan() {
			patches, err = fieldPatches(base, withoutKey(bc.Properties()), withoutKey(ac.Properties()))
		} else {
			prev, next := flatten(bc.Properties()), flatten(ac.Properties())
			patches, err = fieldPatches(base, prev, next)
		}
		if err != nil {
			return nil, err
		}
		if ac.Key != bc.Key {
			patches = append(patches, patch.Set(ac.Key, base.Append(document.FieldSeg(document.PropKey))))
		}
		return patches, nil
	}
	return nil, fmt.Errorf("set_node at %v", op.Path)
}

func objectPatches(base document.KeyPath, prev, next document.Block) ([]patch.Patch, error) {
	return fieldPatches(base, flatten(prev.Properties()), flatten(next.Properties()))
}

// flatten lifts custom fields out of the value wrapper, matching the wire
// shape where they sit next to _type.
func flatten(props map[string]any) map[string]any {
	out := withoutKey(props)
	if v, ok := out[document.PropValue].(map[string]any); ok {
		delete(out, document.PropValue)
		for k, fv := range v {
			out[k] = fv
		}
	} else {
		delete(out, document.PropValue)
	}
	return out
}

func withoutKey(props map[string]any) map[string]any {
	delete(props, document.PropKey)
	return props
}

// fieldPatches emits set for changed fields and unset for removed ones, in
// field name order.
func fieldPatches(base document.KeyPath, prev, next map[string]any) ([]patch.Patch, error) {
	names := make([]string, 0, len(prev)+len(next))
	for k := range next {
		names = append(names, k)
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var out []patch.Patch
	for _, name := range names {
		nv, inNext := next[name]
		pv, inPrev := prev[name]
		path := base.Append(document.FieldSeg(name))
		switch {
		case !inNext:
			out = append(out, patch.Unset(path))
		case !inPrev || !document.EqualJSON(pv, nv):
			j, err := document.ToJSONValue(nv)
			if err != nil {
				return nil, err
			}
			out = append(out, patch.Set(j, path))
		}
	}
	return out, nil
}
