package validate

import (
	"testing"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/patch"
)

func validator() Validator {
	return Validator{Schema: document.DefaultSchema(), Keys: document.NewSequenceKeys("v")}
}

func TestValidBlocks(t *testing.T) {
	blocks := []document.Block{
		document.NewTextBlock("a", "normal", document.NewSpan("s", "x", "strong")),
		document.NewTextBlock("b", "h1", document.NewSpan("s", "x"), document.NewInlineObject("m", "mention", map[string]any{"id": "1"})),
		document.NewObjectBlock("i", "image", map[string]any{"src": "a.png"}),
	}
	for i, b := range blocks {
		if r := validator().Validate(b, i); !r.Valid {
			t.Errorf("block %d: %+v", i, r.Resolution)
		}
	}
}

func TestResolutions(t *testing.T) {
	noMarkDefs := document.NewTextBlock("a", "normal", document.NewSpan("s", "x"))
	noMarkDefs.MarkDefs = nil
	nilMarks := document.NewTextBlock("a", "normal", document.NewSpan("s", "x"))
	nilMarks.Children[0].Marks = nil

	cases := []struct {
		name   string
		block  document.Block
		auto   bool
		action string
		typ    patch.Type
	}{
		{"missing key", document.NewTextBlock("", "normal", document.NewSpan("s", "x")), true, ActionAddKey, patch.TypeSet},
		{"unknown type", document.NewObjectBlock("a", "video", nil), false, ActionRemoveBlock, patch.TypeUnset},
		{"missing markDefs", noMarkDefs, true, ActionAddMarkDefs, patch.TypeSet},
		{"no children", document.NewTextBlock("a", "normal"), true, ActionAddChild, patch.TypeSet},
		{"unknown style", document.NewTextBlock("a", "h9", document.NewSpan("s", "x")), false, ActionDefaultStyle, patch.TypeSet},
		{"child key missing", document.NewTextBlock("a", "normal", document.NewSpan("", "x")), true, ActionAddKey, patch.TypeSet},
		{"duplicate child key", document.NewTextBlock("a", "normal", document.NewSpan("s", "x"), document.NewSpan("s", "y", "em")), true, ActionRekey, patch.TypeSet},
		{"unknown inline object", document.NewTextBlock("a", "normal", document.NewInlineObject("o", "widget", nil)), false, ActionRemoveChild, patch.TypeUnset},
		{"nil marks", nilMarks, true, ActionAddMarks, patch.TypeSet},
		{"orphan mark", document.NewTextBlock("a", "normal", document.NewSpan("s", "x", "l1")), true, ActionRemoveMarks, patch.TypeSet},
	}
	for _, tc := range cases {
		r := validator().Validate(tc.block, 3)
		if r.Valid || r.Resolution == nil {
			t.Errorf("%s: reported valid", tc.name)
			continue
		}
		res := r.Resolution
		if res.AutoResolve != tc.auto || res.Action != tc.action {
			t.Errorf("%s: auto=%v action=%q", tc.name, res.AutoResolve, res.Action)
		}
		if len(res.Patches) != 1 || res.Patches[0].Type != tc.typ {
			t.Errorf("%s: patches = %v", tc.name, res.Patches)
		}
		if res.Index != 3 || res.Description == "" {
			t.Errorf("%s: index=%d description=%q", tc.name, res.Index, res.Description)
		}
	}
}

func TestMissingKeyIsAddressedByIndex(t *testing.T) {
	r := validator().Validate(document.NewTextBlock("", "normal", document.NewSpan("s", "x")), 2)
	p := r.Resolution.Patches[0]
	if i, ok := p.Path[0].Index(); !ok || i != 2 {
		t.Errorf("path = %v", p.Path)
	}
	if p.Value != "v0" {
		t.Errorf("value = %v", p.Value)
	}
}

func TestOrphanMarksKeepKnownMarks(t *testing.T) {
	b := document.NewTextBlock("a", "normal", document.NewSpan("s", "x", "strong", "gone", "l1"))
	b.MarkDefs = []document.MarkDef{{Key: "l1", Type: "link"}}
	r := validator().Validate(b, 0)
	got, _ := r.Resolution.Patches[0].Value.([]any)
	if len(got) != 2 || got[0] != "strong" || got[1] != "l1" {
		t.Errorf("marks = %v", got)
	}
}

func TestPackageValidateBlock(t *testing.T) {
	r := ValidateBlock(document.DefaultSchema(), document.NewTextBlock("", "normal", document.NewSpan("s", "x")), 0)
	if r.Valid || r.Resolution.Patches[0].Value == "" {
		t.Errorf("result = %+v", r)
	}
}
