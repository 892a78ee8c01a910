package editor

import (
	"fmt"
	"slices"

	"github.com/starford/blockpatch/internal/document"
)

// maxNormalizeSteps bounds a single normalization run.
const maxNormalizeSteps = 10000

// normalize applies fixes through the full apply chain until the tree is in
// normal form:
//   - an empty document holds the placeholder block (not sent as a patch)
//   - block keys are unique and non-empty; child keys unique per block
//   - text blocks carry markDefs and at least one child
//   - marks reference a decorator or a markDef of the block
//   - adjacent spans with the same marks are merged, and empty spans next to
//     other spans are removed
//   - markDefs no span references are removed
//
// The last three rewrite content rather than repair structure. They are
// skipped while Remote is set, so remote patches and synced values land
// exactly as sent; the next local batch normalizes them and emits the fixes
// as patches.
func (e *Editor) normalize() error {
	defer e.Begin(Normalizing)()
	for range maxNormalizeSteps {
		op, flags, ok := e.nextFix()
		if !ok {
			return nil
		}
		end := e.Begin(flags)
		err := e.apply(op)
		end()
		if err != nil {
			return fmt.Errorf("editor: normalize: %w", err)
		}
	}
	return fmt.Errorf("editor: normalize did not settle after %d steps", maxNormalizeSteps)
}

func (e *Editor) nextFix() (Operation, Flag, bool) {
	if e.blocks.len() == 0 {
		ph := e.schema.Placeholder(e.keys)
		return Operation{Type: InsertNode, Path: Path{0}, Node: BlockNode(ph)}, PatchingSuppressed, true
	}
	remote := e.Is(Remote)
	seen := make(map[string]bool, e.blocks.len())
	for i := 0; i < e.blocks.len(); i++ {
		b := e.blocks.at(i)
		if b.Key == "" || seen[b.Key] {
			return rekey(Path{i}, b.Key, e.keys.Next()), 0, true
		}
		seen[b.Key] = true
		if !b.IsText() {
			continue
		}
		if op, ok := e.fixTextBlock(i, b, remote); ok {
			return op, 0, true
		}
	}
	return Operation{}, 0, false
}

func rekey(p Path, old, next string) Operation {
	return Operation{
		Type:          SetNode,
		Path:          p,
		Properties:    map[string]any{document.PropKey: old},
		NewProperties: map[string]any{document.PropKey: next},
	}
}

// fixTextBlock returns the first fix b needs. For remote content only keys,
// markDefs presence and the non-empty children rule are enforced.
func (e *Editor) fixTextBlock(i int, b *document.Block, remote bool) (Operation, bool) {
	if b.MarkDefs == nil {
		return Operation{
			Type:          SetNode,
			Path:          Path{i},
			Properties:    map[string]any{},
			NewProperties: map[string]any{document.PropMarkDefs: []document.MarkDef{}},
		}, true
	}
	if len(b.Children) == 0 {
		return Operation{Type: InsertNode, Path: Path{i, 0}, Node: ChildNode(document.NewSpan(e.keys.Next(), ""))}, true
	}

	seen := make(map[string]bool, len(b.Children))
	used := map[string]bool{}
	for j, c := range b.Children {
		if c.Key == "" || seen[c.Key] {
			return rekey(Path{i, j}, c.Key, e.keys.Next()), true
		}
		seen[c.Key] = true
		if remote || !c.IsSpan() {
			continue
		}
		if marks := e.validMarks(b, c.Marks); len(marks) != len(c.Marks) {
			return Operation{
				Type:          SetNode,
				Path:          Path{i, j},
				Properties:    map[string]any{document.PropMarks: slices.Clone(c.Marks)},
				NewProperties: map[string]any{document.PropMarks: marks},
			}, true
		}
		for _, m := range c.Marks {
			used[m] = true
		}
		if j == 0 || !b.Children[j-1].IsSpan() {
			continue
		}
		prev := b.Children[j-1]
		switch {
		case document.SameMarks(prev.Marks, c.Marks):
			return Operation{Type: MergeNode, Path: Path{i, j}, Position: len(prev.Text), Properties: c.Properties()}, true
		case c.Text == "":
			return Operation{Type: RemoveNode, Path: Path{i, j}, Node: ChildNode(c.Clone())}, true
		case prev.Text == "":
			return Operation{Type: RemoveNode, Path: Path{i, j - 1}, Node: ChildNode(prev.Clone())}, true
		}
	}

	if remote {
		return Operation{}, false
	}
	kept := make([]document.MarkDef, 0, len(b.MarkDefs))
	for _, md := range b.MarkDefs {
		if used[md.Key] {
			kept = append(kept, md.Clone())
		}
	}
	if len(kept) != len(b.MarkDefs) {
		return Operation{
			Type:          SetNode,
			Path:          Path{i},
			Properties:    map[string]any{document.PropMarkDefs: b.Clone().MarkDefs},
			NewProperties: map[string]any{document.PropMarkDefs: kept},
		}, true
	}
	return Operation{}, false
}

// validMarks returns the marks that name a decorator or a markDef of b. Without
// configured decorators every mark is kept.
func (e *Editor) validMarks(b *document.Block, marks []string) []string {
	if e.schema == nil || len(e.schema.Decorators) == 0 {
		return marks
	}
	out := make([]string, 0, len(marks))
	for _, m := range marks {
		if e.schema.IsDecorator(m) || b.MarkDefIndex(m) >= 0 {
			out = append(out, m)
		}
	}
	return out
}
