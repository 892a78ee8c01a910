// Package apply resolves key-addressed patches against the editor tree and
// performs the equivalent index-addressed operations.
package apply

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

// Error reports a patch that could not be applied.
type Error struct {
	Patch patch.Patch
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("apply: %s: %v", e.Patch, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoNode is returned when a patch path names a node the tree lacks.
var ErrNoNode = errors.New("node not found")

// AppliedFunc observes every patch that applied, with the document on either
// side of it.
type AppliedFunc func(p patch.Patch, before, after document.Value)

// Applier applies incoming patches to one editor.
type Applier struct {
	ed        *editor.Editor
	log       *slog.Logger
	onApplied AppliedFunc
}

// Option configures an Applier.
type Option func(*Applier)

// OnApplied registers fn to observe applied patches.
func OnApplied(fn AppliedFunc) Option {
	return func(a *Applier) { a.onApplied = fn }
}

// New returns an applier for ed.
func New(ed *editor.Editor, opts ...Option) *Applier {
	a := &Applier{ed: ed, log: ed.Logger()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply applies patches in order as one remote batch. A patch that fails is
// logged and skipped; the rest still apply. It reports whether the tree
// changed.
func (a *Applier) Apply(patches []patch.Patch) bool {
	defer a.ed.Begin(editor.Remote)()
	changed := false
	err := a.ed.WithoutNormalizing(func() error {
		for _, p := range patches {
			ok, err := a.ApplyPatch(p)
			if err != nil {
				a.log.Warn("apply patch",
					slog.String("type", string(p.Type)),
					slog.String("path", p.Path.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			changed = changed || ok
		}
		return nil
	})
	if err != nil {
		a.log.Warn("normalize", slog.String("error", err.Error()))
	}
	return changed
}

// ApplyPatch applies one patch as a remote change inside a single batch. The
// tree is left untouched when the patch fails. A patch that is already
// satisfied reports false.
func (a *Applier) ApplyPatch(p patch.Patch) (bool, error) {
	ops, err := a.plan(p)
	if err != nil {
		return false, &Error{Patch: p, Err: err}
	}
	if len(ops) == 0 {
		return false, nil
	}
	if err := a.ed.Validate(ops); err != nil {
		return false, &Error{Patch: p, Err: err}
	}
	defer a.ed.Begin(editor.Remote)()
	before := a.ed.Value()
	if err := a.ed.ApplyAll(ops); err != nil {
		return false, &Error{Patch: p, Err: err}
	}
	if a.onApplied != nil {
		a.onApplied(p, before, a.ed.Value())
	}
	return true, nil
}

// Plan returns the operations p resolves to against the current tree without
// applying them.
func (a *Applier) Plan(p patch.Patch) ([]editor.Operation, error) {
	return a.plan(p)
}

func (a *Applier) plan(p patch.Patch) ([]editor.Operation, error) {
	switch p.Type {
	case patch.TypeInsert:
		return a.planInsert(p)
	case patch.TypeSet:
		return a.planSet(p.Path, p.Value)
	case patch.TypeSetIfMissing:
		return a.planSetIfMissing(p)
	case patch.TypeUnset:
		return a.planUnset(p.Path)
	case patch.TypeDiffMatchPatch:
		return a.planDiffMatchPatch(p)
	}
	return nil, fmt.Errorf("unknown patch type %q", p.Type)
}

// blockIndex resolves the leading segment of path.
func (a *Applier) blockIndex(seg document.Segment) (int, bool) {
	if k, ok := seg.Key(); ok {
		i := a.ed.IndexOfKey(k)
		return i, i >= 0
	}
	if i, ok := seg.Index(); ok {
		return i, i >= 0 && i < a.ed.Len()
	}
	return -1, false
}

func childIndex(b document.Block, seg document.Segment) (int, bool) {
	if k, ok := seg.Key(); ok {
		i := b.ChildIndex(k)
		return i, i >= 0
	}
	if i, ok := seg.Index(); ok {
		return i, i >= 0 && i < len(b.Children)
	}
	return -1, false
}

// isChildPath reports whether path starts [block, "children", child].
func isChildPath(path document.KeyPath) bool {
	return len(path) >= 3 && path[1].IsField(document.PropChildren)
}

func noNode(path document.KeyPath) error {
	return fmt.Errorf("%w: %s", ErrNoNode, path)
}
