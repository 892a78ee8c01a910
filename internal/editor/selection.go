package editor

// transformRange moves r through op. A selection whose point was removed is
// dropped.
func transformRange(r *Range, op Operation) *Range {
	if r == nil {
		return nil
	}
	a, okA := TransformPoint(r.Anchor, op)
	f, okF := TransformPoint(r.Focus, op)
	if !okA || !okF {
		return nil
	}
	return &Range{Anchor: a, Focus: f}
}

// TransformPoint returns p as it reads after op was applied, or false when op
// removed the node p pointed into.
func TransformPoint(p Point, op Operation) (Point, bool) {
	if len(p.Path) != 2 {
		return p, true
	}
	out := Point{Path: p.Path.Clone(), Offset: p.Offset}
	b, c := out.Path[0], out.Path[1]
	switch op.Type {
	case InsertText:
		if out.Path.Equal(op.Path) && op.Offset <= out.Offset {
			out.Offset += len(op.Text)
		}
	case RemoveText:
		if out.Path.Equal(op.Path) && op.Offset < out.Offset {
			out.Offset -= min(out.Offset-op.Offset, len(op.Text))
		}
	case InsertNode:
		if len(op.Path) == 1 && b >= op.Path[0] {
			out.Path[0]++
		}
		if len(op.Path) == 2 && b == op.Path[0] && c >= op.Path[1] {
			out.Path[1]++
		}
	case RemoveNode:
		if len(op.Path) == 1 {
			switch {
			case b == op.Path[0]:
				return p, false
			case b > op.Path[0]:
				out.Path[0]--
			}
		}
		if len(op.Path) == 2 && b == op.Path[0] {
			switch {
			case c == op.Path[1]:
				return p, false
			case c > op.Path[1]:
				out.Path[1]--
			}
		}
	case SplitNode:
		if len(op.Path) == 1 {
			switch {
			case b == op.Path[0] && c >= op.Position:
				out.Path = Path{b + 1, c - op.Position}
			case b > op.Path[0]:
				out.Path[0]++
			}
		}
		if len(op.Path) == 2 && b == op.Path[0] {
			switch {
			case c == op.Path[1] && out.Offset >= op.Position:
				out.Path[1]++
				out.Offset -= op.Position
			case c > op.Path[1]:
				out.Path[1]++
			}
		}
	case MergeNode:
		if len(op.Path) == 1 {
			switch {
			case b == op.Path[0]:
				out.Path = Path{b - 1, c + op.Position}
			case b > op.Path[0]:
				out.Path[0]--
			}
		}
		if len(op.Path) == 2 && b == op.Path[0] {
			switch {
			case c == op.Path[1]:
				out.Path[1]--
				out.Offset += op.Position
			case c > op.Path[1]:
				out.Path[1]--
			}
		}
	case MoveNode:
		out.Path = movePath(out.Path, op.Path, op.NewPath)
	}
	return out, true
}

func movePath(p, from, to Path) Path {
	if len(from) == 1 {
		b := p[0]
		if b == from[0] {
			return Path{to[0], p[1]}
		}
		if b > from[0] {
			b--
		}
		if b >= to[0] {
			b++
		}
		return Path{b, p[1]}
	}
	if p.Equal(from) {
		return to.Clone()
	}
	out := p.Clone()
	if out[0] == from[0] && out[1] > from[1] {
		out[1]--
	}
	if out[0] == to[0] && out[1] >= to[1] {
		out[1]++
	}
	return out
}

// clampSelection drops a selection whose points no longer resolve and pulls
// offsets back inside their span.
func (e *Editor) clampSelection() {
	if e.selection == nil {
		return
	}
	for _, pt := range []*Point{&e.selection.Anchor, &e.selection.Focus} {
		_, c, err := e.child(pt.Path)
		if err != nil {
			e.selection = nil
			return
		}
		limit := 0
		if c.IsSpan() {
			limit = len(c.Text)
		}
		pt.Offset = max(0, min(pt.Offset, limit))
	}
}
