// Package editor is the document tree engine: it owns the block tree, applies
// index-addressed operations to it, keeps it normalized and notifies
// subscribers once per batch of operations.
package editor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/document"
)

// ApplyFunc applies one operation.
type ApplyFunc func(op Operation) error

// Middleware wraps the apply chain. Translators and history capture hook in
// here.
type Middleware func(next ApplyFunc) ApplyFunc

// Change is delivered to subscribers at the end of every outermost batch that
// applied at least one operation.
type Change struct {
	Operations []Operation
	Flags      Flag
}

// OperationError reports an operation that does not fit the current tree.
type OperationError struct {
	Op  Operation
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("editor: apply %s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

var (
	// ErrInvalidPath is returned when a path does not resolve.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNodeMismatch is returned when an operation names a node other than
	// the one at its path.
	ErrNodeMismatch = errors.New("node mismatch")
	// ErrTextMismatch is returned when remove_text names text that is not
	// at the offset.
	ErrTextMismatch = errors.New("text mismatch")
)

// Option configures an Editor.
type Option func(*Editor)

// WithSchema sets the schema used by normalization and the placeholder.
func WithSchema(s *document.Schema) Option {
	return func(e *Editor) { e.schema = s }
}

// WithKeys sets the key generator.
func WithKeys(k document.KeyGenerator) Option {
	return func(e *Editor) { e.keys = k }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) { e.log = l }
}

type subscriber struct {
	id int
	fn func(Change)
}

// Editor holds one document tree. It is not safe for concurrent use; callers
// serialize access (see session.Loop).
type Editor struct {
	schema *document.Schema
	keys   document.KeyGenerator
	log    *slog.Logger

	blocks    *arena
	selection *Range
	flags     Flag

	apply   ApplyFunc
	depth   int
	pending []Operation
	subs    []subscriber
	nextSub int
}

// New returns an editor holding a copy of v. The value is not normalized until
// the first batch ends or Normalize is called.
func New(v document.Value, opts ...Option) *Editor {
	e := &Editor{
		schema: document.DefaultSchema(),
		keys:   document.ULIDKeys{},
		blocks: newArena(v),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.apply = e.applyBase
	return e
}

// Use installs mw around the current apply chain. The last middleware
// installed runs first.
func (e *Editor) Use(mw Middleware) {
	e.apply = mw(e.apply)
}

// Apply runs op through the middleware chain inside its own batch.
func (e *Editor) Apply(op Operation) error {
	return e.WithoutNormalizing(func() error { return e.apply(op) })
}

// ApplyAll applies ops in one batch, stopping at the first error.
func (e *Editor) ApplyAll(ops []Operation) error {
	return e.WithoutNormalizing(func() error {
		for _, op := range ops {
			if err := e.apply(op); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithoutNormalizing runs fn as one batch. Normalization and change
// notification happen once, when the outermost batch ends.
func (e *Editor) WithoutNormalizing(fn func() error) error {
	e.depth++
	err := func() error {
		defer func() { e.depth-- }()
		return fn()
	}()
	if e.depth > 0 {
		return err
	}
	e.depth++
	nerr := e.normalize()
	e.depth--
	if err == nil {
		err = nerr
	}
	e.flush()
	return err
}

// Normalize brings the tree into normal form outside of any batch.
func (e *Editor) Normalize() error {
	return e.WithoutNormalizing(func() error { return nil })
}

// Batching reports whether a batch is open.
func (e *Editor) Batching() bool { return e.depth > 0 }

func (e *Editor) flush() {
	if len(e.pending) == 0 {
		return
	}
	ch := Change{Operations: e.pending, Flags: e.flags}
	e.pending = nil
	for _, s := range append([]subscriber(nil), e.subs...) {
		s.fn(ch)
	}
}

// Subscribe registers fn for change notifications.
func (e *Editor) Subscribe(fn func(Change)) (unsubscribe func()) {
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Editor) applyBase(op Operation) error {
	if e.Is(ReadOnly) && !e.Is(Remote) && !e.Is(Normalizing) && op.Type != SetSelection {
		return &OperationError{Op: op, Err: apperr.ErrReadOnly}
	}
	if err := e.mutate(op); err != nil {
		return &OperationError{Op: op, Err: err}
	}
	e.pending = append(e.pending, op.Clone())
	return nil
}

// Validate reports whether ops would apply cleanly, in order, to the current
// tree. Nothing is mutated.
func (e *Editor) Validate(ops []Operation) error {
	scratch := &Editor{
		schema:    e.schema,
		keys:      e.keys,
		log:       e.log,
		blocks:    e.blocks.clone(),
		selection: e.selection.clone(),
	}
	for _, op := range ops {
		if err := scratch.mutate(op); err != nil {
			return &OperationError{Op: op, Err: err}
		}
	}
	return nil
}

// Schema returns the editor schema.
func (e *Editor) Schema() *document.Schema { return e.schema }

// Keys returns the editor key generator.
func (e *Editor) Keys() document.KeyGenerator { return e.keys }

// Logger returns the editor logger.
func (e *Editor) Logger() *slog.Logger { return e.log }

// Len returns the number of blocks.
func (e *Editor) Len() int { return e.blocks.len() }

// BlockAt returns a copy of the block at i.
func (e *Editor) BlockAt(i int) (document.Block, bool) {
	b := e.blocks.at(i)
	if b == nil {
		return document.Block{}, false
	}
	return b.Clone(), true
}

// IndexOfKey returns the index of the first block with key, or -1.
func (e *Editor) IndexOfKey(key string) int { return e.blocks.indexOfKey(key) }

// BlockID returns the stable arena id of the block at i.
func (e *Editor) BlockID(i int) uint64 { return e.blocks.id(i) }

// IndexOfID returns the current index of the block with arena id, or -1.
func (e *Editor) IndexOfID(id uint64) int { return e.blocks.indexOfID(id) }

// Value returns a deep copy of the document.
func (e *Editor) Value() document.Value { return e.blocks.value() }

// Selection returns a copy of the current selection, or nil.
func (e *Editor) Selection() *Range { return e.selection.clone() }

// Select applies a set_selection operation moving the selection to r.
func (e *Editor) Select(r *Range) error {
	return e.Apply(Operation{Type: SetSelection, Selection: e.selection.clone(), NewSelection: r.clone()})
}

// Deselect clears the selection.
func (e *Editor) Deselect() error {
	if e.selection == nil {
		return nil
	}
	return e.Select(nil)
}
