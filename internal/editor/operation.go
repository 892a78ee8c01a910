package editor

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/starford/blockpatch/internal/document"
)

// OpType names an operation kind.
type OpType string

const (
	InsertNode   OpType = "insert_node"
	RemoveNode   OpType = "remove_node"
	SplitNode    OpType = "split_node"
	MergeNode    OpType = "merge_node"
	MoveNode     OpType = "move_node"
	SetNode      OpType = "set_node"
	InsertText   OpType = "insert_text"
	RemoveText   OpType = "remove_text"
	SetSelection OpType = "set_selection"
)

// Path is an index path into the current tree: [block] or [block, child].
type Path []int

// Equal reports whether p and o hold the same indexes.
func (p Path) Equal(o Path) bool { return slices.Equal(p, o) }

// Clone returns a copy of p.
func (p Path) Clone() Path { return slices.Clone(p) }

// Point is a cursor position: a child path plus a byte offset into its text.
type Point struct {
	Path   Path `json:"path"`
	Offset int  `json:"offset"`
}

// Range is a selection between two points.
type Range struct {
	Anchor Point `json:"anchor"`
	Focus  Point `json:"focus"`
}

// Collapsed reports whether anchor and focus coincide.
func (r Range) Collapsed() bool {
	return r.Anchor.Path.Equal(r.Focus.Path) && r.Anchor.Offset == r.Focus.Offset
}

func (r *Range) clone() *Range {
	if r == nil {
		return nil
	}
	return &Range{
		Anchor: Point{Path: r.Anchor.Path.Clone(), Offset: r.Anchor.Offset},
		Focus:  Point{Path: r.Focus.Path.Clone(), Offset: r.Focus.Offset},
	}
}

// Node carries the node of an insert_node or remove_node operation. Block is
// set for block paths, Child for child paths.
type Node struct {
	Block *document.Block
	Child *document.Child
}

// BlockNode wraps a block.
func BlockNode(b document.Block) Node { return Node{Block: &b} }

// ChildNode wraps a child.
func ChildNode(c document.Child) Node { return Node{Child: &c} }

// Key returns the key of whichever node is set.
func (n Node) Key() string {
	switch {
	case n.Block != nil:
		return n.Block.Key
	case n.Child != nil:
		return n.Child.Key
	}
	return ""
}

func (n Node) clone() Node {
	var out Node
	if n.Block != nil {
		b := n.Block.Clone()
		out.Block = &b
	}
	if n.Child != nil {
		c := n.Child.Clone()
		out.Child = &c
	}
	return out
}

// Operation is one index-addressed edit. Which fields are used depends on
// Type:
//
//	insert_node, remove_node  Path, Node
//	split_node                Path, Position, Properties (of the new node)
//	merge_node                Path, Position, Properties (of the removed node)
//	move_node                 Path, NewPath (the node's path after the move)
//	set_node                  Path, Properties (old), NewProperties
//	insert_text, remove_text  Path, Offset, Text
//	set_selection             Selection (old), NewSelection
type Operation struct {
	Type          OpType
	Path          Path
	NewPath       Path
	Offset        int
	Text          string
	Position      int
	Node          Node
	Properties    map[string]any
	NewProperties map[string]any
	Selection     *Range
	NewSelection  *Range
}

// Clone returns a deep copy of op.
func (op Operation) Clone() Operation {
	out := op
	out.Path = op.Path.Clone()
	out.NewPath = op.NewPath.Clone()
	out.Node = op.Node.clone()
	out.Properties = cloneProps(op.Properties)
	out.NewProperties = cloneProps(op.NewProperties)
	out.Selection = op.Selection.clone()
	out.NewSelection = op.NewSelection.clone()
	return out
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = document.CloneAny(v)
	}
	return out
}

// IsText reports whether op edits span text.
func (op Operation) IsText() bool { return op.Type == InsertText || op.Type == RemoveText }

func (op Operation) String() string {
	switch op.Type {
	case InsertText, RemoveText:
		return fmt.Sprintf("%s(%v, %d, %q)", op.Type, op.Path, op.Offset, op.Text)
	case MoveNode:
		return fmt.Sprintf("%s(%v -> %v)", op.Type, op.Path, op.NewPath)
	case SplitNode, MergeNode:
		return fmt.Sprintf("%s(%v, %d)", op.Type, op.Path, op.Position)
	case SetSelection:
		return string(op.Type)
	default:
		return fmt.Sprintf("%s(%v)", op.Type, op.Path)
	}
}

// Inverse returns the operation that undoes op.
func Inverse(op Operation) Operation {
	inv := op.Clone()
	switch op.Type {
	case InsertNode:
		inv.Type = RemoveNode
	case RemoveNode:
		inv.Type = InsertNode
	case InsertText:
		inv.Type = RemoveText
	case RemoveText:
		inv.Type = InsertText
	case SplitNode:
		inv.Type = MergeNode
		inv.Path = nextPath(op.Path)
	case MergeNode:
		inv.Type = SplitNode
		inv.Path = prevPath(op.Path)
	case MoveNode:
		inv.Path, inv.NewPath = inv.NewPath, inv.Path
	case SetNode:
		inv.Properties, inv.NewProperties = inv.NewProperties, inv.Properties
	case SetSelection:
		inv.Selection, inv.NewSelection = inv.NewSelection, inv.Selection
	}
	return inv
}

func nextPath(p Path) Path {
	out := p.Clone()
	out[len(out)-1]++
	return out
}

func prevPath(p Path) Path {
	out := p.Clone()
	out[len(out)-1]--
	return out
}

type wireOperation struct {
	Type          OpType          `json:"type"`
	Path          Path            `json:"path,omitempty"`
	NewPath       Path            `json:"newPath,omitempty"`
	Offset        int             `json:"offset,omitempty"`
	Text          string          `json:"text,omitempty"`
	Position      int             `json:"position,omitempty"`
	Node          json.RawMessage `json:"node,omitempty"`
	Properties    map[string]any  `json:"properties,omitempty"`
	NewProperties map[string]any  `json:"newProperties,omitempty"`
	Selection     *Range          `json:"selection,omitempty"`
	NewSelection  *Range          `json:"newSelection,omitempty"`
}

// MarshalJSON encodes op in the tree engine's wire shape.
func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		Type: op.Type, Path: op.Path, NewPath: op.NewPath, Offset: op.Offset, Text: op.Text,
		Position: op.Position, Properties: op.Properties, NewProperties: op.NewProperties,
		Selection: op.Selection, NewSelection: op.NewSelection,
	}
	var err error
	switch {
	case op.Node.Block != nil:
		w.Node, err = json.Marshal(op.Node.Block)
	case op.Node.Child != nil:
		w.Node, err = json.Marshal(op.Node.Child)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an operation. The node is read as a block for block
// paths and as a child for child paths.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("editor: decode operation: %w", err)
	}
	out := Operation{
		Type: w.Type, Path: w.Path, NewPath: w.NewPath, Offset: w.Offset, Text: w.Text,
		Position: w.Position, Properties: w.Properties, NewProperties: w.NewProperties,
		Selection: w.Selection, NewSelection: w.NewSelection,
	}
	if len(w.Node) > 0 && string(w.Node) != "null" {
		if len(w.Path) == 1 {
			var b document.Block
			if err := json.Unmarshal(w.Node, &b); err != nil {
				return err
			}
			out.Node.Block = &b
		} else {
			var c document.Child
			if err := json.Unmarshal(w.Node, &c); err != nil {
				return err
			}
			out.Node.Child = &c
		}
	}
	switch out.Type {
	case InsertNode, RemoveNode, SplitNode, MergeNode, MoveNode, SetNode, InsertText, RemoveText, SetSelection:
	default:
		return fmt.Errorf("editor: unknown operation type %q", out.Type)
	}
	*op = out
	return nil
}
