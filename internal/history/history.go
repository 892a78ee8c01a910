// Package history keeps the undo and redo stacks of one editor and rebases
// their steps over remote patches that arrived after they were recorded.
package history

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
)

// DefaultLimit is the number of undo steps kept when none is configured.
const DefaultLimit = 1000

// Step is one undoable unit of local edits.
type Step struct {
	Operations []editor.Operation
	Timestamp  time.Time

	seq   uint64
	group string
	batch uint64
}

// RemoteEntry is a remote patch kept for rebasing, with the document on either
// side of it.
type RemoteEntry struct {
	Patch          patch.Patch
	AppliedAt      time.Time
	SnapshotBefore document.Value
	SnapshotAfter  document.Value

	seq uint64
}

// RebaseError reports an undo or redo that could not be rebased or applied.
// History has been cleared when it is returned; the document is untouched.
type RebaseError struct {
	Err error
}

func (e *RebaseError) Error() string {
	return fmt.Sprintf("history: rebase: %v", e.Err)
}

func (e *RebaseError) Unwrap() error { return e.Err }

// Option configures a History.
type Option func(*History)

// WithLimit bounds the undo stack.
func WithLimit(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.limit = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// History records local operations of one editor as undo steps.
type History struct {
	ed    *editor.Editor
	log   *slog.Logger
	limit int
	now   func() time.Time

	undos  []*Step
	redos  []*Step
	remote []RemoteEntry

	seq    uint64
	batch  uint64
	sealed bool
	group  string
}

// New attaches a history to ed. It installs a capture middleware and counts
// batches through a change subscription.
func New(ed *editor.Editor, opts ...Option) *History {
	h := &History{
		ed:    ed,
		log:   ed.Logger(),
		limit: DefaultLimit,
		now:   time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	ed.Use(h.middleware)
	ed.Subscribe(func(editor.Change) { h.batch++ })
	return h
}

func (h *History) nextSeq() uint64 {
	h.seq++
	return h.seq
}

func (h *History) middleware(next editor.ApplyFunc) editor.ApplyFunc {
	return func(op editor.Operation) error {
		capture := h.capturing()
		sel := h.ed.Selection()
		if err := next(op); err != nil {
			return err
		}
		if capture {
			h.record(op, sel)
		}
		return nil
	}
}

func (h *History) capturing() bool {
	return !h.ed.Is(editor.Remote) &&
		!h.ed.Is(editor.NotSaving) &&
		!h.ed.Is(editor.Undoing) &&
		!h.ed.Is(editor.Redoing) &&
		!h.ed.Is(editor.ReadOnly)
}

func (h *History) top() *Step {
	if len(h.undos) == 0 {
		return nil
	}
	return h.undos[len(h.undos)-1]
}

func (h *History) record(op editor.Operation, sel *editor.Range) {
	top := h.top()
	if h.sealed {
		top = nil
	}
	var prev *editor.Operation
	if top != nil && len(top.Operations) > 0 {
		prev = &top.Operations[len(top.Operations)-1]
	}

	if op.Type == editor.SetSelection {
		if top == nil {
			return
		}
		if prev != nil && prev.Type == editor.SetSelection {
			merged := op.Clone()
			merged.Selection = prev.Clone().Selection
			*prev = merged
			return
		}
		top.Operations = append(top.Operations, op.Clone())
		return
	}

	normalizing := h.ed.Is(editor.Normalizing)
	if normalizing && top == nil {
		return
	}
	merge := top != nil && (normalizing ||
		(h.group != "" && top.group == h.group) ||
		top.batch == h.batch ||
		shouldMerge(op, prev))

	if merge {
		top.Operations = append(top.Operations, op.Clone())
		top.batch = h.batch
	} else {
		step := &Step{Timestamp: h.now(), seq: h.nextSeq(), group: h.group, batch: h.batch}
		if sel != nil {
			step.Operations = append(step.Operations, editor.Operation{
				Type:         editor.SetSelection,
				Selection:    sel,
				NewSelection: sel,
			}.Clone())
		}
		step.Operations = append(step.Operations, op.Clone())
		h.undos = append(h.undos, step)
		h.sealed = false
		if len(h.undos) > h.limit {
			h.undos = h.undos[len(h.undos)-h.limit:]
		}
		h.log.Debug("undo step created", slog.Int("undos", len(h.undos)), slog.String("op", string(op.Type)))
	}
	h.redos = nil
	h.prune()
}

// shouldMerge reports whether op continues the typing or deleting run that
// ended with prev.
func shouldMerge(op editor.Operation, prev *editor.Operation) bool {
	if prev == nil {
		return false
	}
	switch {
	case op.Type == editor.InsertText && prev.Type == editor.InsertText:
		return op.Path.Equal(prev.Path) && op.Offset == prev.Offset+len(prev.Text) && op.Text != " "
	case op.Type == editor.RemoveText && prev.Type == editor.RemoveText:
		return op.Path.Equal(prev.Path) && (op.Offset+len(op.Text) == prev.Offset || op.Offset == prev.Offset)
	}
	return false
}

// Group runs subsequent captures under the edit group id until end is
// called. Operations in one group merge into one step.
func (h *History) Group(id string) (end func()) {
	prev := h.group
	h.group = id
	return func() { h.group = prev }
}

// RecordRemote logs a remote patch for rebasing and seals the current step.
// A remote unset of the whole document resets history instead.
func (h *History) RecordRemote(p patch.Patch, before, after document.Value) {
	if p.Type == patch.TypeUnset && len(p.Path) == 0 {
		h.Reset()
		return
	}
	h.sealed = true
	if len(h.undos) == 0 && len(h.redos) == 0 {
		return
	}
	h.remote = append(h.remote, RemoteEntry{
		Patch:          p,
		AppliedAt:      h.now(),
		SnapshotBefore: before,
		SnapshotAfter:  after,
		seq:            h.nextSeq(),
	})
}

// Reset clears both stacks and the remote log.
func (h *History) Reset() {
	h.undos = nil
	h.redos = nil
	h.remote = nil
	h.sealed = false
}

// prune drops remote entries no step can still be rebased over.
func (h *History) prune() {
	if len(h.remote) == 0 {
		return
	}
	var low uint64
	first := true
	for _, stack := range [][]*Step{h.undos, h.redos} {
		for _, s := range stack {
			if first || s.seq < low {
				low, first = s.seq, false
			}
		}
	}
	if first {
		h.remote = nil
		return
	}
	i := 0
	for i < len(h.remote) && h.remote[i].seq < low {
		i++
	}
	h.remote = h.remote[i:]
}

// CanUndo reports whether an undo step is available.
func (h *History) CanUndo() bool { return len(h.undos) > 0 }

// CanRedo reports whether a redo step is available.
func (h *History) CanRedo() bool { return len(h.redos) > 0 }

// Undos returns copies of the undo steps, oldest first.
func (h *History) Undos() []Step { return copySteps(h.undos) }

// Redos returns copies of the redo steps, oldest first.
func (h *History) Redos() []Step { return copySteps(h.redos) }

// RemoteLog returns the remote entries kept for rebasing.
func (h *History) RemoteLog() []RemoteEntry { return append([]RemoteEntry(nil), h.remote...) }

func copySteps(in []*Step) []Step {
	out := make([]Step, len(in))
	for i, s := range in {
		out[i] = *s
		out[i].Operations = cloneOps(s.Operations)
	}
	return out
}

func cloneOps(ops []editor.Operation) []editor.Operation {
	out := make([]editor.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

// Undo reverts the newest step after rebasing it over later remote patches.
func (h *History) Undo() error {
	if len(h.undos) == 0 {
		return nil
	}
	step := h.undos[len(h.undos)-1]
	ops := h.rebase(step)
	inverse := make([]editor.Operation, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		inverse = append(inverse, editor.Inverse(ops[i]))
	}
	if err := h.run(editor.Undoing, inverse); err != nil {
		return h.fail("undo", err)
	}
	h.undos = h.undos[:len(h.undos)-1]
	h.moveStep(step, ops, &h.redos)
	return nil
}

// Redo reapplies the newest undone step after rebasing it.
func (h *History) Redo() error {
	if len(h.redos) == 0 {
		return nil
	}
	step := h.redos[len(h.redos)-1]
	ops := h.rebase(step)
	if err := h.run(editor.Redoing, ops); err != nil {
		return h.fail("redo", err)
	}
	h.redos = h.redos[:len(h.redos)-1]
	h.moveStep(step, ops, &h.undos)
	return nil
}

func (h *History) moveStep(step *Step, ops []editor.Operation, to *[]*Step) {
	step.Operations = ops
	step.Timestamp = h.now()
	step.seq = h.nextSeq()
	step.batch = 0
	*to = append(*to, step)
	h.sealed = true
	h.prune()
}

func (h *History) run(flag editor.Flag, ops []editor.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if err := h.ed.Validate(ops); err != nil {
		return err
	}
	defer h.ed.Begin(flag)()
	return h.ed.ApplyAll(ops)
}

func (h *History) fail(action string, err error) error {
	h.log.Warn("history cleared after failed "+action, slog.String("error", err.Error()))
	h.Reset()
	end := h.ed.Begin(editor.NotSaving)
	if derr := h.ed.Deselect(); derr != nil {
		h.log.Warn("deselect", slog.String("error", derr.Error()))
	}
	end()
	return &RebaseError{Err: err}
}
