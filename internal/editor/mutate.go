package editor

import (
	"fmt"
	"slices"

	"github.com/starford/blockpatch/internal/document"
)

func (e *Editor) mutate(op Operation) error {
	var err error
	switch op.Type {
	case InsertNode:
		err = e.insertNode(op)
	case RemoveNode:
		err = e.removeNode(op)
	case SplitNode:
		err = e.splitNode(op)
	case MergeNode:
		err = e.mergeNode(op)
	case MoveNode:
		err = e.moveNode(op)
	case SetNode:
		err = e.setNode(op)
	case InsertText:
		err = e.insertText(op)
	case RemoveText:
		err = e.removeText(op)
	case SetSelection:
		e.selection = op.NewSelection.clone()
		e.clampSelection()
		return nil
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	if err != nil {
		return err
	}
	e.selection = transformRange(e.selection, op)
	e.clampSelection()
	return nil
}

func pathErr(p Path) error {
	return fmt.Errorf("%w %v", ErrInvalidPath, p)
}

func (e *Editor) block(p Path) (*document.Block, error) {
	if len(p) == 0 {
		return nil, pathErr(p)
	}
	b := e.blocks.at(p[0])
	if b == nil {
		return nil, pathErr(p)
	}
	return b, nil
}

func (e *Editor) textBlock(p Path) (*document.Block, error) {
	b, err := e.block(p)
	if err != nil {
		return nil, err
	}
	if !b.IsText() {
		return nil, fmt.Errorf("block %q is not a text block", b.Key)
	}
	return b, nil
}

func (e *Editor) child(p Path) (*document.Block, *document.Child, error) {
	if len(p) != 2 {
		return nil, nil, pathErr(p)
	}
	b, err := e.textBlock(p)
	if err != nil {
		return nil, nil, err
	}
	if p[1] < 0 || p[1] >= len(b.Children) {
		return nil, nil, pathErr(p)
	}
	return b, &b.Children[p[1]], nil
}

func (e *Editor) span(p Path) (*document.Child, error) {
	_, c, err := e.child(p)
	if err != nil {
		return nil, err
	}
	if !c.IsSpan() {
		return nil, fmt.Errorf("child %q is not a span", c.Key)
	}
	return c, nil
}

func (e *Editor) insertNode(op Operation) error {
	switch len(op.Path) {
	case 1:
		if op.Node.Block == nil {
			return fmt.Errorf("insert_node at %v needs a block", op.Path)
		}
		i := op.Path[0]
		if i < 0 || i > e.blocks.len() {
			return pathErr(op.Path)
		}
		e.blocks.insert(i, op.Node.Block.Clone())
	case 2:
		if op.Node.Child == nil {
			return fmt.Errorf("insert_node at %v needs a child", op.Path)
		}
		b, err := e.textBlock(op.Path)
		if err != nil {
			return err
		}
		j := op.Path[1]
		if j < 0 || j > len(b.Children) {
			return pathErr(op.Path)
		}
		b.Children = slices.Insert(b.Children, j, op.Node.Child.Clone())
	default:
		return pathErr(op.Path)
	}
	return nil
}

func (e *Editor) removeNode(op Operation) error {
	switch len(op.Path) {
	case 1:
		b, err := e.block(op.Path)
		if err != nil {
			return err
		}
		if op.Node.Block != nil && op.Node.Block.Key != b.Key {
			return fmt.Errorf("%w: remove %q, found %q", ErrNodeMismatch, op.Node.Block.Key, b.Key)
		}
		e.blocks.remove(op.Path[0])
	case 2:
		b, c, err := e.child(op.Path)
		if err != nil {
			return err
		}
		if op.Node.Child != nil && op.Node.Child.Key != c.Key {
			return fmt.Errorf("%w: remove %q, found %q", ErrNodeMismatch, op.Node.Child.Key, c.Key)
		}
		b.Children = slices.Delete(b.Children, op.Path[1], op.Path[1]+1)
	default:
		return pathErr(op.Path)
	}
	return nil
}

func (e *Editor) splitNode(op Operation) error {
	switch len(op.Path) {
	case 1:
		left, err := e.textBlock(op.Path)
		if err != nil {
			return err
		}
		if op.Position < 0 || op.Position > len(left.Children) {
			return fmt.Errorf("split position %d out of range", op.Position)
		}
		right := document.NewTextBlock("", "")
		right.MarkDefs = left.Clone().MarkDefs
		if err := applyBlockProps(&right, op.Properties); err != nil {
			return err
		}
		if right.Key == "" {
			return fmt.Errorf("split_node at %v needs a _key property", op.Path)
		}
		right.Children = slices.Clone(left.Children[op.Position:])
		left.Children = slices.Clip(left.Children[:op.Position])
		e.blocks.insert(op.Path[0]+1, right)
	case 2:
		b, c, err := e.child(op.Path)
		if err != nil {
			return err
		}
		if !c.IsSpan() {
			return fmt.Errorf("cannot split inline object %q", c.Key)
		}
		if op.Position < 0 || op.Position > len(c.Text) {
			return fmt.Errorf("split offset %d out of range", op.Position)
		}
		right := document.NewSpan("", c.Text[op.Position:], slices.Clone(c.Marks)...)
		for k, v := range op.Properties {
			if k == document.PropText {
				continue
			}
			if err := right.SetProperty(k, v); err != nil {
				return err
			}
		}
		if right.Key == "" {
			return fmt.Errorf("split_node at %v needs a _key property", op.Path)
		}
		c.Text = c.Text[:op.Position]
		b.Children = slices.Insert(b.Children, op.Path[1]+1, right)
	default:
		return pathErr(op.Path)
	}
	return nil
}

func applyBlockProps(b *document.Block, props map[string]any) error {
	for k, v := range props {
		if k == document.PropChildren {
			continue
		}
		if err := b.SetProperty(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) mergeNode(op Operation) error {
	switch len(op.Path) {
	case 1:
		i := op.Path[0]
		if i < 1 {
			return pathErr(op.Path)
		}
		cur, err := e.textBlock(op.Path)
		if err != nil {
			return err
		}
		prev, err := e.textBlock(Path{i - 1})
		if err != nil {
			return err
		}
		if op.Position != len(prev.Children) {
			return fmt.Errorf("merge position %d, previous block has %d children", op.Position, len(prev.Children))
		}
		prev.Children = append(prev.Children, cur.Clone().Children...)
		for _, md := range cur.MarkDefs {
			if prev.MarkDefIndex(md.Key) < 0 {
				prev.MarkDefs = append(prev.MarkDefs, md.Clone())
			}
		}
		e.blocks.remove(i)
	case 2:
		j := op.Path[1]
		if j < 1 {
			return pathErr(op.Path)
		}
		b, cur, err := e.child(op.Path)
		if err != nil {
			return err
		}
		prev := &b.Children[j-1]
		if !cur.IsSpan() || !prev.IsSpan() {
			return fmt.Errorf("merge of %q into %q: both must be spans", cur.Key, prev.Key)
		}
		if op.Position != len(prev.Text) {
			return fmt.Errorf("merge position %d, previous span has %d bytes", op.Position, len(prev.Text))
		}
		prev.Text += cur.Text
		b.Children = slices.Delete(b.Children, j, j+1)
	default:
		return pathErr(op.Path)
	}
	return nil
}

func (e *Editor) moveNode(op Operation) error {
	if len(op.Path) != len(op.NewPath) {
		return fmt.Errorf("move_node from %v to %v crosses levels", op.Path, op.NewPath)
	}
	switch len(op.Path) {
	case 1:
		i, ni := op.Path[0], op.NewPath[0]
		if i < 0 || i >= e.blocks.len() || ni < 0 || ni >= e.blocks.len() {
			return pathErr(op.NewPath)
		}
		id := e.blocks.order[i]
		e.blocks.order = slices.Delete(e.blocks.order, i, i+1)
		e.blocks.order = slices.Insert(e.blocks.order, ni, id)
	case 2:
		src, c, err := e.child(op.Path)
		if err != nil {
			return err
		}
		dst, err := e.textBlock(op.NewPath)
		if err != nil {
			return err
		}
		n := len(dst.Children)
		if src != dst {
			n++
		}
		if op.NewPath[1] < 0 || op.NewPath[1] >= n {
			return pathErr(op.NewPath)
		}
		moved := *c
		src.Children = slices.Delete(src.Children, op.Path[1], op.Path[1]+1)
		dst.Children = slices.Insert(dst.Children, op.NewPath[1], moved)
	default:
		return pathErr(op.Path)
	}
	return nil
}

func (e *Editor) setNode(op Operation) error {
	switch len(op.Path) {
	case 1:
		b, err := e.block(op.Path)
		if err != nil {
			return err
		}
		nb := b.Clone()
		for k := range op.Properties {
			if _, ok := op.NewProperties[k]; !ok {
				if err := nb.DeleteProperty(k); err != nil {
					return err
				}
			}
		}
		if err := applyBlockProps(&nb, op.NewProperties); err != nil {
			return err
		}
		*b = nb
	case 2:
		_, c, err := e.child(op.Path)
		if err != nil {
			return err
		}
		nc := c.Clone()
		for k := range op.Properties {
			if _, ok := op.NewProperties[k]; !ok {
				if err := nc.DeleteProperty(k); err != nil {
					return err
				}
			}
		}
		for k, v := range op.NewProperties {
			if err := nc.SetProperty(k, v); err != nil {
				return err
			}
		}
		*c = nc
	default:
		return pathErr(op.Path)
	}
	return nil
}

func (e *Editor) insertText(op Operation) error {
	c, err := e.span(op.Path)
	if err != nil {
		return err
	}
	if op.Offset < 0 || op.Offset > len(c.Text) {
		return fmt.Errorf("offset %d out of range for %q", op.Offset, c.Key)
	}
	c.Text = c.Text[:op.Offset] + op.Text + c.Text[op.Offset:]
	return nil
}

func (e *Editor) removeText(op Operation) error {
	c, err := e.span(op.Path)
	if err != nil {
		return err
	}
	end := op.Offset + len(op.Text)
	if op.Offset < 0 || end > len(c.Text) {
		return fmt.Errorf("range %d..%d out of range for %q", op.Offset, end, c.Key)
	}
	if c.Text[op.Offset:end] != op.Text {
		return fmt.Errorf("%w: want %q at %d in %q", ErrTextMismatch, op.Text, op.Offset, c.Key)
	}
	c.Text = c.Text[:op.Offset] + c.Text[end:]
	return nil
}
