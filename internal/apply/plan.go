package apply

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

func (a *Applier) planInsert(p patch.Patch) ([]editor.Operation, error) {
	switch {
	case len(p.Path) == 1:
		return a.insertBlocks(p)
	case len(p.Path) == 3 && p.Path[1].IsField(document.PropChildren):
		return a.insertChildren(p)
	case len(p.Path) > 1:
		bi, ok := a.blockIndex(p.Path[0])
		if !ok {
			return nil, noNode(p.Path)
		}
		b, _ := a.ed.BlockAt(bi)
		bj, err := document.ToJSONValue(b)
		if err != nil {
			return nil, err
		}
		nj, err := patch.InsertIn(bj, p.Path[1:], p.Position, p.Items)
		if err != nil {
			return nil, err
		}
		nb, err := document.BlockFromJSONValue(nj)
		if err != nil {
			return nil, err
		}
		return replaceBlock(bi, b, nb), nil
	}
	return nil, fmt.Errorf("insert needs a reference path")
}

func (a *Applier) insertBlocks(p patch.Patch) ([]editor.Operation, error) {
	var blocks []document.Block
	for _, it := range p.Items {
		b, err := document.BlockFromJSONValue(it)
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		if a.ed.IndexOfKey(b.Key) >= 0 {
			continue
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	n := a.ed.Len()
	ref := p.Path[0]
	var at int
	if k, ok := ref.Key(); ok {
		at = a.ed.IndexOfKey(k)
		if at < 0 {
			return nil, noNode(p.Path)
		}
		if p.Position == patch.After {
			at++
		}
	} else if i, ok := ref.Index(); ok {
		if i < 0 || i > n {
			return nil, noNode(p.Path)
		}
		at = i
		if p.Position == patch.After && i < n {
			at++
		}
	} else {
		return nil, fmt.Errorf("insert reference %s is not a key or index", ref)
	}

	ops := make([]editor.Operation, 0, len(blocks)+1)
	for k, b := range blocks {
		ops = append(ops, editor.Operation{Type: editor.InsertNode, Path: editor.Path{at + k}, Node: editor.BlockNode(b)})
	}
	// Inserting into a document that only holds the local placeholder
	// replaces it, unless the remote side references the placeholder.
	if ph, ok := a.ed.BlockAt(0); ok && n == 1 && a.ed.Schema().IsPlaceholder(ph) {
		if k, isKey := ref.Key(); !isKey || k != ph.Key {
			idx := 0
			if at == 0 {
				idx = len(blocks)
			}
			ops = append(ops, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{idx}, Node: editor.BlockNode(ph)})
		}
	}
	return ops, nil
}

func (a *Applier) insertChildren(p patch.Patch) ([]editor.Operation, error) {
	bi, ok := a.blockIndex(p.Path[0])
	if !ok {
		return nil, noNode(p.Path)
	}
	b, _ := a.ed.BlockAt(bi)
	if !b.IsText() {
		return nil, fmt.Errorf("block %q has no children", b.Key)
	}
	var children []document.Child
	for _, it := range p.Items {
		c, err := document.ChildFromJSONValue(it)
		if err != nil {
			return nil, fmt.Errorf("decode child: %w", err)
		}
		if b.ChildIndex(c.Key) >= 0 {
			continue
		}
		children = append(children, c)
	}
	if len(children) == 0 {
		return nil, nil
	}
	ref := p.Path[2]
	var at int
	if k, ok := ref.Key(); ok {
		at = b.ChildIndex(k)
		if at < 0 {
			return nil, noNode(p.Path)
		}
		if p.Position == patch.After {
			at++
		}
	} else if i, ok := ref.Index(); ok {
		if i < 0 || i > len(b.Children) {
			return nil, noNode(p.Path)
		}
		at = i
		if p.Position == patch.After && i < len(b.Children) {
			at++
		}
	} else {
		return nil, fmt.Errorf("insert reference %s is not a key or index", ref)
	}
	ops := make([]editor.Operation, 0, len(children))
	for k, c := range children {
		ops = append(ops, editor.Operation{Type: editor.InsertNode, Path: editor.Path{bi, at + k}, Node: editor.ChildNode(c)})
	}
	return ops, nil
}

func (a *Applier) planSet(path document.KeyPath, value any) ([]editor.Operation, error) {
	if len(path) == 0 {
		return a.replaceAll(value)
	}
	bi, ok := a.blockIndex(path[0])
	if !ok {
		return nil, noNode(path)
	}
	b, _ := a.ed.BlockAt(bi)
	if len(path) == 1 {
		nb, err := document.BlockFromJSONValue(value)
		if err != nil {
			return nil, err
		}
		return replaceBlock(bi, b, nb), nil
	}

	if isChildPath(path) {
		ci, ok := childIndex(b, path[2])
		if !ok {
			return nil, noNode(path)
		}
		c := b.Children[ci]
		switch {
		case len(path) == 3:
			nc, err := document.ChildFromJSONValue(value)
			if err != nil {
				return nil, err
			}
			return replaceChild(bi, ci, c, nc), nil
		case len(path) == 4 && c.IsSpan() && path[3].IsField(document.PropText):
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("text must be a string, got %T", value)
			}
			return replaceText(bi, ci, c.Text, s), nil
		}
		return childJSONEdit(bi, ci, c, func(cj any) (any, error) {
			return patch.SetIn(cj, path[3:], value)
		})
	}

	if len(path) == 2 {
		if name, ok := path[1].Field(); ok {
			switch {
			case name == document.PropChildren && b.IsText():
				children, err := decodeChildren(value)
				if err != nil {
					return nil, err
				}
				return replaceChildren(bi, b, children), nil
			case b.IsText() || name == document.PropKey || name == document.PropType:
				nb := b.Clone()
				if err := nb.SetProperty(name, value); err != nil {
					return nil, err
				}
				return setBlock(bi, b, nb), nil
			}
		}
	}
	return blockJSONEdit(bi, b, func(bj any) (any, error) {
		return patch.SetIn(bj, path[1:], value)
	})
}

func (a *Applier) planSetIfMissing(p patch.Patch) ([]editor.Operation, error) {
	if len(p.Path) == 0 {
		return nil, nil
	}
	bi, ok := a.blockIndex(p.Path[0])
	if !ok {
		return nil, noNode(p.Path)
	}
	if len(p.Path) == 1 {
		return nil, nil
	}
	b, _ := a.ed.BlockAt(bi)
	bj, err := document.ToJSONValue(b)
	if err != nil {
		return nil, err
	}
	if _, exists := patch.GetIn(bj, p.Path[1:]); exists {
		return nil, nil
	}
	return a.planSet(p.Path, p.Value)
}

func (a *Applier) planUnset(path document.KeyPath) ([]editor.Operation, error) {
	if len(path) == 0 {
		return a.resetToPlaceholder(), nil
	}
	bi, ok := a.blockIndex(path[0])
	if !ok {
		return nil, nil
	}
	b, _ := a.ed.BlockAt(bi)
	if len(path) == 1 {
		return []editor.Operation{{Type: editor.RemoveNode, Path: editor.Path{bi}, Node: editor.BlockNode(b)}}, nil
	}

	if isChildPath(path) {
		ci, ok := childIndex(b, path[2])
		if !ok {
			return nil, nil
		}
		c := b.Children[ci]
		switch {
		case len(path) == 3:
			return []editor.Operation{{Type: editor.RemoveNode, Path: editor.Path{bi, ci}, Node: editor.ChildNode(c)}}, nil
		case len(path) == 4 && c.IsSpan() && path[3].IsField(document.PropText):
			return replaceText(bi, ci, c.Text, ""), nil
		}
		return childJSONEdit(bi, ci, c, func(cj any) (any, error) {
			out, _, err := patch.UnsetIn(cj, path[3:])
			return out, err
		})
	}

	if len(path) == 2 {
		if name, ok := path[1].Field(); ok {
			switch {
			case name == document.PropChildren && b.IsText():
				return replaceChildren(bi, b, nil), nil
			case b.IsText():
				if _, present := b.Properties()[name]; !present {
					return nil, nil
				}
				nb := b.Clone()
				if err := nb.DeleteProperty(name); err != nil {
					return nil, err
				}
				return setBlock(bi, b, nb), nil
			}
		}
	}
	return blockJSONEdit(bi, b, func(bj any) (any, error) {
		out, _, err := patch.UnsetIn(bj, path[1:])
		return out, err
	})
}

func (a *Applier) planDiffMatchPatch(p patch.Patch) ([]editor.Operation, error) {
	path := p.Path
	if isChildPath(path) && len(path) == 4 && path[3].IsField(document.PropText) {
		bi, ok := a.blockIndex(path[0])
		if !ok {
			return nil, noNode(path)
		}
		b, _ := a.ed.BlockAt(bi)
		ci, ok := childIndex(b, path[2])
		if !ok || !b.Children[ci].IsSpan() {
			return nil, noNode(path)
		}
		old := b.Children[ci].Text
		next, err := patch.ApplyText(p.Text(), old)
		if err != nil {
			return nil, err
		}
		return replayDiff(bi, ci, old, next), nil
	}

	if len(path) < 2 {
		return nil, fmt.Errorf("diffMatchPatch at %s does not address a string", path)
	}
	bi, ok := a.blockIndex(path[0])
	if !ok {
		return nil, noNode(path)
	}
	b, _ := a.ed.BlockAt(bi)
	bj, err := document.ToJSONValue(b)
	if err != nil {
		return nil, err
	}
	cur, _ := patch.GetIn(bj, path[1:])
	s, ok := cur.(string)
	if !ok && cur != nil {
		return nil, fmt.Errorf("diffMatchPatch target %s is %T", path, cur)
	}
	next, err := patch.ApplyText(p.Text(), s)
	if err != nil {
		return nil, err
	}
	if next == s {
		return nil, nil
	}
	return a.planSet(path, next)
}

func (a *Applier) replaceAll(value any) ([]editor.Operation, error) {
	raw, err := document.ToJSONValue(value)
	if err != nil {
		return nil, err
	}
	var next document.Value
	if arr, ok := raw.([]any); ok {
		for _, it := range arr {
			b, err := document.BlockFromJSONValue(it)
			if err != nil {
				return nil, err
			}
			next = append(next, b)
		}
	} else if raw != nil {
		return nil, fmt.Errorf("document value must be an array, got %T", raw)
	}
	if len(next) == 0 {
		return a.resetToPlaceholder(), nil
	}
	cur := a.ed.Value()
	if cur.Equal(next) {
		return nil, nil
	}
	ops := removeAll(cur)
	for i, b := range next {
		ops = append(ops, editor.Operation{Type: editor.InsertNode, Path: editor.Path{i}, Node: editor.BlockNode(b)})
	}
	return ops, nil
}

func (a *Applier) resetToPlaceholder() []editor.Operation {
	cur := a.ed.Value()
	if len(cur) == 1 && a.ed.Schema().IsPlaceholder(cur[0]) {
		return nil
	}
	ops := removeAll(cur)
	ph := a.ed.Schema().Placeholder(a.ed.Keys())
	return append(ops, editor.Operation{Type: editor.InsertNode, Path: editor.Path{0}, Node: editor.BlockNode(ph)})
}

func removeAll(v document.Value) []editor.Operation {
	ops := make([]editor.Operation, 0, len(v))
	for i := len(v) - 1; i >= 0; i-- {
		ops = append(ops, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{i}, Node: editor.BlockNode(v[i])})
	}
	return ops
}

func decodeChildren(value any) ([]document.Child, error) {
	arr, ok := value.([]any)
	if !ok {
		raw, err := document.ToJSONValue(value)
		if err != nil {
			return nil, err
		}
		if arr, ok = raw.([]any); !ok {
			return nil, fmt.Errorf("children must be an array, got %T", value)
		}
	}
	out := make([]document.Child, 0, len(arr))
	for _, it := range arr {
		c, err := document.ChildFromJSONValue(it)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func replaceChildren(bi int, b document.Block, children []document.Child) []editor.Operation {
	if document.EqualJSON(b.Children, children) || (len(b.Children) == 0 && len(children) == 0) {
		return nil
	}
	var ops []editor.Operation
	for j := len(b.Children) - 1; j >= 0; j-- {
		ops = append(ops, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{bi, j}, Node: editor.ChildNode(b.Children[j])})
	}
	for j, c := range children {
		ops = append(ops, editor.Operation{Type: editor.InsertNode, Path: editor.Path{bi, j}, Node: editor.ChildNode(c)})
	}
	return ops
}

// replaceBlock swaps old for next, keeping the block in place with set_node
// when only its properties differ.
func replaceBlock(bi int, old, next document.Block) []editor.Operation {
	if document.Equal(old, next) {
		return nil
	}
	if old.Kind == next.Kind && document.EqualJSON(old.Children, next.Children) {
		return setBlock(bi, old, next)
	}
	return []editor.Operation{
		{Type: editor.RemoveNode, Path: editor.Path{bi}, Node: editor.BlockNode(old)},
		{Type: editor.InsertNode, Path: editor.Path{bi}, Node: editor.BlockNode(next)},
	}
}

func replaceChild(bi, ci int, old, next document.Child) []editor.Operation {
	if document.EqualJSON(old, next) {
		return nil
	}
	if old.IsSpan() && next.IsSpan() {
		ops := replaceText(bi, ci, old.Text, next.Text)
		if op, ok := setOp(editor.Path{bi, ci}, old.Properties(), next.Properties()); ok {
			ops = append(ops, op)
		}
		return ops
	}
	if old.Kind == next.Kind {
		if op, ok := setOp(editor.Path{bi, ci}, old.Properties(), next.Properties()); ok {
			return []editor.Operation{op}
		}
		return nil
	}
	return []editor.Operation{
		{Type: editor.RemoveNode, Path: editor.Path{bi, ci}, Node: editor.ChildNode(old)},
		{Type: editor.InsertNode, Path: editor.Path{bi, ci}, Node: editor.ChildNode(next)},
	}
}

func setBlock(bi int, old, next document.Block) []editor.Operation {
	if op, ok := setOp(editor.Path{bi}, old.Properties(), next.Properties()); ok {
		return []editor.Operation{op}
	}
	return nil
}

// setOp builds a set_node carrying only the properties that differ. The _key
// property is never dropped from a node, only replaced.
func setOp(path editor.Path, prev, next map[string]any) (editor.Operation, bool) {
	op := editor.Operation{Type: editor.SetNode, Path: path, Properties: map[string]any{}, NewProperties: map[string]any{}}
	for k, nv := range next {
		pv, ok := prev[k]
		if ok && document.EqualJSON(pv, nv) {
			continue
		}
		if ok {
			op.Properties[k] = pv
		}
		op.NewProperties[k] = nv
	}
	for k, pv := range prev {
		if _, ok := next[k]; !ok && k != document.PropKey && k != document.PropType {
			op.Properties[k] = pv
		}
	}
	if len(op.Properties) == 0 && len(op.NewProperties) == 0 {
		return editor.Operation{}, false
	}
	return op, true
}

// replaceText rewrites a span's text as a full removal followed by a full
// insertion.
func replaceText(bi, ci int, old, next string) []editor.Operation {
	if old == next {
		return nil
	}
	var ops []editor.Operation
	if old != "" {
		ops = append(ops, editor.Operation{Type: editor.RemoveText, Path: editor.Path{bi, ci}, Offset: 0, Text: old})
	}
	if next != "" {
		ops = append(ops, editor.Operation{Type: editor.InsertText, Path: editor.Path{bi, ci}, Offset: 0, Text: next})
	}
	return ops
}

// replayDiff turns the edit script from old to next into text operations at
// increasing offsets.
func replayDiff(bi, ci int, old, next string) []editor.Operation {
	var ops []editor.Operation
	offset := 0
	for _, d := range patch.Diff(old, next) {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			ops = append(ops, editor.Operation{Type: editor.InsertText, Path: editor.Path{bi, ci}, Offset: offset, Text: d.Text})
			offset += len(d.Text)
		case diffmatchpatch.DiffDelete:
			ops = append(ops, editor.Operation{Type: editor.RemoveText, Path: editor.Path{bi, ci}, Offset: offset, Text: d.Text})
		}
	}
	return ops
}

func blockJSONEdit(bi int, b document.Block, edit func(any) (any, error)) ([]editor.Operation, error) {
	bj, err := document.ToJSONValue(b)
	if err != nil {
		return nil, err
	}
	nj, err := edit(bj)
	if err != nil {
		return nil, err
	}
	nb, err := document.BlockFromJSONValue(nj)
	if err != nil {
		return nil, err
	}
	return replaceBlock(bi, b, nb), nil
}

func childJSONEdit(bi, ci int, c document.Child, edit func(any) (any, error)) ([]editor.Operation, error) {
	cj, err := document.ToJSONValue(c)
	if err != nil {
		return nil, err
	}
	nj, err := edit(cj)
	if err != nil {
		return nil, err
	}
	nc, err := document.ChildFromJSONValue(nj)
	if err != nil {
		return nil, err
	}
	return replaceChild(bi, ci, c, nc), nil
}
