// Package session wires one editor to its translator, applier, history and
// reconciler, and serializes every call on a single goroutine.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/blockpatch/internal/apply"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/history"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/reconcile"
	"github.com/starford/blockpatch/internal/translate"
)

// EventType names a session event.
type EventType string

// Session events.
const (
	// EventPatches carries patches produced by local edits, undo, redo and
	// automatic resolutions, or remote patches that applied.
	EventPatches EventType = "patches"
	// EventValue carries the document after a sync pass changed it.
	EventValue EventType = "value"
	// EventInvalidValue reports an authoritative value that failed
	// validation.
	EventInvalidValue EventType = "invalid_value"
	// EventSynced is sent when a sync pass ends.
	EventSynced EventType = "synced"
	// EventHistoryCleared is sent after a failed undo or redo.
	EventHistoryCleared EventType = "history_cleared"
)

// Event is published to the session sink.
type Event struct {
	Type    EventType
	DocID   string
	Patches []patch.Patch
	Value   document.Value
	Invalid *reconcile.InvalidValue
}

// Journal persists what a session accepts.
type Journal interface {
	AppendPatches(ctx context.Context, docID string, ps []patch.Patch) (int64, error)
	SaveValue(ctx context.Context, docID string, v document.Value) (int64, error)
}

// Option configures a Session.
type Option func(*config)

type config struct {
	log       *slog.Logger
	schema    *document.Schema
	keys      document.KeyGenerator
	sink      func(Event)
	journal   Journal
	undoLimit int
	chunkSize int
	busyRetry time.Duration
	readOnly  bool
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// WithSchema sets the document schema.
func WithSchema(s *document.Schema) Option { return func(c *config) { c.schema = s } }

// WithKeys sets the key generator.
func WithKeys(k document.KeyGenerator) Option { return func(c *config) { c.keys = k } }

// WithSink registers fn for session events. It runs on the session loop and
// must not call back into the session.
func WithSink(fn func(Event)) Option { return func(c *config) { c.sink = fn } }

// WithJournal persists patches and values.
func WithJournal(j Journal) Option { return func(c *config) { c.journal = j } }

// WithUndoLimit bounds the undo stack.
func WithUndoLimit(n int) Option { return func(c *config) { c.undoLimit = n } }

// WithChunkSize sets the streaming chunk of a first load.
func WithChunkSize(n int) Option { return func(c *config) { c.chunkSize = n } }

// WithBusyRetry sets the busy poll interval.
func WithBusyRetry(d time.Duration) Option { return func(c *config) { c.busyRetry = d } }

// WithReadOnly starts the session read only.
func WithReadOnly(ro bool) Option { return func(c *config) { c.readOnly = ro } }

// Session is one open document.
type Session struct {
	ID    string
	DocID string

	loop    *Loop
	log     *slog.Logger
	sink    func(Event)
	journal Journal

	ed      *editor.Editor
	hist    *history.History
	applier *apply.Applier
	rec     *reconcile.Reconciler

	outbox []patch.Patch
}

// New opens a session for docID starting from an empty document. Feed it the
// authoritative value with UpdateValue.
func New(docID string, opts ...Option) *Session {
	c := config{
		log:       slog.Default(),
		schema:    document.DefaultSchema(),
		keys:      document.ULIDKeys{},
		undoLimit: history.DefaultLimit,
		chunkSize: reconcile.DefaultChunkSize,
		busyRetry: reconcile.DefaultBusyRetry,
	}
	for _, o := range opts {
		o(&c)
	}
	s := &Session{
		ID:      uuid.NewString(),
		DocID:   docID,
		loop:    NewLoop(),
		sink:    c.sink,
		journal: c.journal,
	}
	s.log = c.log.With(slog.String("doc", docID), slog.String("session", s.ID))

	s.ed = editor.New(nil,
		editor.WithSchema(c.schema),
		editor.WithKeys(c.keys),
		editor.WithLogger(s.log),
	)
	s.hist = history.New(s.ed, history.WithLimit(c.undoLimit))
	s.ed.Use(translate.Middleware(s.ed, func(ps []patch.Patch) {
		s.outbox = append(s.outbox, ps...)
	}))
	s.applier = apply.New(s.ed, apply.OnApplied(s.hist.RecordRemote))
	s.rec = reconcile.New(s.ed, s.loop,
		reconcile.WithChunkSize(c.chunkSize),
		reconcile.WithBusyRetry(c.busyRetry),
		reconcile.WithEmitter(s.onSync),
	)
	s.ed.Subscribe(func(editor.Change) { s.flush() })

	if err := s.loop.Do(context.Background(), func() {
		if err := s.ed.Normalize(); err != nil {
			s.log.Warn("normalize", slog.String("error", err.Error()))
		}
		s.ed.SetReadOnly(c.readOnly)
		s.rec.UpdateReadOnly(c.readOnly)
	}); err != nil {
		s.log.Error("session setup", slog.String("error", err.Error()))
	}
	return s
}

// Close stops the session loop.
func (s *Session) Close() {
	s.loop.Close()
}

func (s *Session) publish(ev Event) {
	ev.DocID = s.DocID
	if s.sink != nil {
		s.sink(ev)
	}
}

// flush publishes and journals the patches collected in the batch that just
// ended.
func (s *Session) flush() {
	if len(s.outbox) == 0 {
		return
	}
	ps := s.outbox
	s.outbox = nil
	s.record(ps)
	s.publish(Event{Type: EventPatches, Patches: ps, Value: s.ed.Value()})
}

func (s *Session) record(ps []patch.Patch) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.AppendPatches(context.Background(), s.DocID, ps); err != nil {
		s.log.Warn("journal patches", slog.String("error", err.Error()))
	}
}

func (s *Session) onSync(ev reconcile.Event) {
	switch ev.Type {
	case reconcile.EventPatches:
		s.record(ev.Patches)
		s.publish(Event{Type: EventPatches, Patches: ev.Patches})
	case reconcile.EventValueChanged:
		s.publish(Event{Type: EventValue, Value: ev.Value})
	case reconcile.EventInvalidValue:
		s.publish(Event{Type: EventInvalidValue, Invalid: ev.Invalid})
	case reconcile.EventDoneSyncing:
		s.publish(Event{Type: EventSynced})
	}
}

// Apply applies local operations as one batch. The batch is validated first
// and nothing applies when any operation fails. Their patches are published
// when the batch ends.
func (s *Session) Apply(ctx context.Context, ops []editor.Operation) error {
	var err error
	if derr := s.loop.Do(ctx, func() {
		if err = s.ed.Validate(ops); err != nil {
			return
		}
		s.rec.MutationStarted()
		defer s.rec.MutationFinished()
		err = s.ed.ApplyAll(ops)
	}); derr != nil {
		return derr
	}
	return err
}

// WithEditGroup runs fn on the session loop with every operation it applies
// merged into one undo step.
func (s *Session) WithEditGroup(ctx context.Context, fn func(ed *editor.Editor) error) error {
	var err error
	if derr := s.loop.Do(ctx, func() {
		s.rec.MutationStarted()
		defer s.rec.MutationFinished()
		defer s.hist.Group(uuid.NewString())()
		err = s.ed.WithoutNormalizing(func() error { return fn(s.ed) })
	}); derr != nil {
		return derr
	}
	return err
}

// ApplyPatches applies remote patches as one batch. Failing patches are
// logged and skipped. It reports whether the document changed.
func (s *Session) ApplyPatches(ctx context.Context, ps []patch.Patch) (bool, error) {
	var changed bool
	err := s.loop.Do(ctx, func() {
		var applied []patch.Patch
		end := s.ed.Begin(editor.Remote)
		nerr := s.ed.WithoutNormalizing(func() error {
			for _, p := range ps {
				p = p.WithOrigin(patch.OriginRemote)
				ok, err := s.applier.ApplyPatch(p)
				if err != nil {
					s.log.Warn("skip remote patch", slog.String("patch", p.String()), slog.String("error", err.Error()))
					continue
				}
				if ok {
					changed = true
					applied = append(applied, p)
				}
			}
			return nil
		})
		end()
		if nerr != nil {
			s.log.Warn("normalize", slog.String("error", nerr.Error()))
		}
		if len(applied) > 0 {
			s.record(applied)
			s.publish(Event{Type: EventPatches, Patches: applied, Value: s.ed.Value()})
		}
	})
	return changed, err
}

// UpdateValue hands an authoritative value to the reconciler.
func (s *Session) UpdateValue(ctx context.Context, v document.Value) error {
	return s.loop.Do(ctx, func() {
		if s.journal != nil {
			if _, err := s.journal.SaveValue(ctx, s.DocID, v); err != nil {
				s.log.Warn("journal value", slog.String("error", err.Error()))
			}
		}
		s.rec.UpdateValue(v)
	})
}

// Undo reverts the newest local step.
func (s *Session) Undo(ctx context.Context) error {
	return s.history(ctx, s.hist.Undo)
}

// Redo reapplies the newest undone step.
func (s *Session) Redo(ctx context.Context) error {
	return s.history(ctx, s.hist.Redo)
}

func (s *Session) history(ctx context.Context, fn func() error) error {
	var err error
	if derr := s.loop.Do(ctx, func() {
		s.rec.MutationStarted()
		defer s.rec.MutationFinished()
		err = fn()
		if err != nil {
			s.publish(Event{Type: EventHistoryCleared})
		}
	}); derr != nil {
		return derr
	}
	return err
}

// Select moves the selection.
func (s *Session) Select(ctx context.Context, r *editor.Range) error {
	var err error
	if derr := s.loop.Do(ctx, func() { err = s.ed.Select(r) }); derr != nil {
		return derr
	}
	return err
}

// SetReadOnly switches read-only mode.
func (s *Session) SetReadOnly(ctx context.Context, ro bool) error {
	return s.loop.Do(ctx, func() {
		s.ed.SetReadOnly(ro)
		s.rec.UpdateReadOnly(ro)
	})
}

// MutationStarted tells the reconciler a host-side edit is in flight, for
// hosts that buffer patches before committing them.
func (s *Session) MutationStarted(ctx context.Context) error {
	return s.loop.Do(ctx, s.rec.MutationStarted)
}

// MutationFinished ends a host-side edit started with MutationStarted.
func (s *Session) MutationFinished(ctx context.Context) error {
	return s.loop.Do(ctx, s.rec.MutationFinished)
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	Value     document.Value
	Selection *editor.Range
	CanUndo   bool
	CanRedo   bool
	ReadOnly  bool
	SyncState reconcile.State
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func() {
		snap = Snapshot{
			Value:     s.ed.Value(),
			Selection: s.ed.Selection(),
			CanUndo:   s.hist.CanUndo(),
			CanRedo:   s.hist.CanRedo(),
			ReadOnly:  s.ed.Is(editor.ReadOnly),
			SyncState: s.rec.State(),
		}
	})
	return snap, err
}

// Value returns the current document.
func (s *Session) Value(ctx context.Context) (document.Value, error) {
	snap, err := s.Snapshot(ctx)
	return snap.Value, err
}
