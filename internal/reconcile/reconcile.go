// Package reconcile brings the editor tree in line with an authoritative
// document value, block by block.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/validate"
)

// Defaults used when no option overrides them.
const (
	DefaultChunkSize = 50
	DefaultBusyRetry = 100 * time.Millisecond
)

// State is the reconciler state.
type State int

// Reconciler states.
const (
	Idle State = iota
	Busy
	Syncing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Syncing:
		return "syncing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventType names what a reconciler Event reports.
type EventType string

// Event types.
const (
	EventValueChanged EventType = "value_changed"
	EventInvalidValue EventType = "invalid_value"
	EventPatches      EventType = "patches"
	EventDoneSyncing  EventType = "done_syncing"
)

// Event is emitted while syncing.
type Event struct {
	Type    EventType
	Value   document.Value
	Invalid *InvalidValue
	Patches []patch.Patch
}

// InvalidValue reports a block of the authoritative value that failed
// validation and could not be resolved automatically. Syncing stopped at it.
type InvalidValue struct {
	Value      document.Value
	Block      document.Block
	Index      int
	Resolution *validate.Resolution
}

func (e *InvalidValue) Error() string {
	desc := ""
	if e.Resolution != nil {
		desc = e.Resolution.Description
	}
	return fmt.Sprintf("reconcile: invalid block %q at %d: %s", e.Block.Key, e.Index, desc)
}

func (e *InvalidValue) Unwrap() error { return apperr.ErrInvalidValue }

// maxResolutions bounds the automatic fixes tried on one block.
const maxResolutions = 32

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithChunkSize sets how many blocks a first load syncs per tick.
func WithChunkSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithBusyRetry sets how often a busy reconciler polls for the end of a local
// mutation.
func WithBusyRetry(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.busyRetry = d
		}
	}
}

// WithEmitter registers fn for sync events.
func WithEmitter(fn func(Event)) Option {
	return func(r *Reconciler) { r.emitFn = fn }
}

// WithValidator replaces the default schema validator.
func WithValidator(v validate.Validator) Option {
	return func(r *Reconciler) { r.validator = v }
}

// Reconciler syncs one editor to the authoritative values it is given. It
// runs on the editor's goroutine; sched must run deferred work there too.
type Reconciler struct {
	ed        *editor.Editor
	sched     Scheduler
	log       *slog.Logger
	validator validate.Validator
	chunkSize int
	busyRetry time.Duration
	emitFn    func(Event)

	state       State
	pending     document.Value
	hasPending  bool
	readOnly    bool
	initialized bool
	mutating    int
}

// New returns an idle reconciler for ed.
func New(ed *editor.Editor, sched Scheduler, opts ...Option) *Reconciler {
	r := &Reconciler{
		ed:        ed,
		sched:     sched,
		log:       ed.Logger(),
		validator: validate.Validator{Schema: ed.Schema(), Keys: ed.Keys()},
		chunkSize: DefaultChunkSize,
		busyRetry: DefaultBusyRetry,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Reconciler) State() State { return r.state }

// Initialized reports whether a sync pass has completed.
func (r *Reconciler) Initialized() bool { return r.initialized }

// UpdateValue makes v the target. A value that arrives while syncing replaces
// the one in flight at the next chunk boundary.
func (r *Reconciler) UpdateValue(v document.Value) {
	r.pending = v.Clone()
	r.hasPending = true
	if r.state == Idle {
		r.start()
	}
}

// UpdateReadOnly records whether the editor is read only. Automatic
// resolutions are not applied while it is.
func (r *Reconciler) UpdateReadOnly(ro bool) {
	r.readOnly = ro
}

// MutationStarted marks a local edit in flight.
func (r *Reconciler) MutationStarted() {
	r.mutating++
}

// MutationFinished marks the end of a local edit. A busy reconciler notices it
// on its next poll.
func (r *Reconciler) MutationFinished() {
	if r.mutating > 0 {
		r.mutating--
	}
}

func (r *Reconciler) emit(ev Event) {
	if r.emitFn != nil {
		r.emitFn(ev)
	}
}

func (r *Reconciler) setState(s State) {
	if r.state != s {
		r.log.Debug("reconcile state", slog.String("from", r.state.String()), slog.String("to", s.String()))
	}
	r.state = s
}

func (r *Reconciler) start() {
	if r.mutating > 0 {
		r.setState(Busy)
		r.sched.After(r.busyRetry, r.poll)
		return
	}
	if !r.hasPending {
		r.setState(Idle)
		return
	}
	target := r.pending
	r.pending, r.hasPending = nil, false
	r.setState(Syncing)
	r.run(&pass{
		target: target,
		stream: !r.initialized && len(target) > r.chunkSize,
	})
}

func (r *Reconciler) poll() {
	if r.state == Busy {
		r.start()
	}
}

type pass struct {
	target  document.Value
	stream  bool
	next    int
	trimmed bool
	changed bool
}

func (r *Reconciler) run(p *pass) {
	end := len(p.target)
	if p.stream {
		end = min(p.next+r.chunkSize, len(p.target))
	}
	err := r.mutate(func() error {
		if !p.trimmed {
			p.trimmed = true
			if err := r.trim(p); err != nil {
				return err
			}
		}
		for ; p.next < end; p.next++ {
			if err := r.syncIndex(p, p.next); err != nil {
				return err
			}
		}
		return nil
	})

	var invalid *InvalidValue
	switch {
	case errors.As(err, &invalid):
		r.log.Warn("invalid value", slog.Int("index", invalid.Index), slog.String("block", invalid.Block.Key))
		r.emit(Event{Type: EventInvalidValue, Invalid: invalid})
		r.finish(p)
		return
	case err != nil:
		r.log.Warn("sync pass failed", slog.String("error", err.Error()))
		r.finish(p)
		return
	}

	if p.next < len(p.target) {
		r.sched.Defer(func() { r.resume(p) })
		return
	}
	r.finish(p)
}

// resume continues a streamed pass unless a newer value superseded it.
func (r *Reconciler) resume(p *pass) {
	if r.hasPending {
		r.log.Debug("sync target superseded", slog.Int("synced", p.next), slog.Int("blocks", len(p.target)))
		if p.changed {
			r.emit(Event{Type: EventValueChanged, Value: r.ed.Value()})
		}
		r.start()
		return
	}
	r.run(p)
}

func (r *Reconciler) finish(p *pass) {
	r.initialized = true
	if p.changed {
		r.emit(Event{Type: EventValueChanged, Value: r.ed.Value()})
	}
	r.setState(Idle)
	r.emit(Event{Type: EventDoneSyncing})
	if r.hasPending {
		r.start()
	}
}

// mutate runs fn as one remote, unsaved batch.
func (r *Reconciler) mutate(fn func() error) error {
	defer r.ed.Begin(editor.Remote | editor.NotSaving)()
	return r.ed.WithoutNormalizing(fn)
}

func (r *Reconciler) apply(p *pass, op editor.Operation) error {
	if err := r.ed.Apply(op); err != nil {
		return err
	}
	p.changed = true
	return nil
}

// trim removes local blocks past the end of the target. An empty target
// leaves a local placeholder alone.
func (r *Reconciler) trim(p *pass) error {
	if len(p.target) == 0 && r.ed.Schema().IsEmpty(r.ed.Value()) {
		return nil
	}
	for i := r.ed.Len() - 1; i >= len(p.target); i-- {
		b, _ := r.ed.BlockAt(i)
		if err := r.apply(p, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{i}, Node: editor.BlockNode(b)}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) syncIndex(p *pass, i int) error {
	tb := p.target[i]
	lb, exists := r.ed.BlockAt(i)
	if exists && document.Equal(lb, tb) {
		return nil
	}
	tb, err := r.check(p, tb, i)
	if err != nil {
		return err
	}
	switch {
	case !exists:
		return r.apply(p, editor.Operation{Type: editor.InsertNode, Path: editor.Path{i}, Node: editor.BlockNode(tb)})
	case lb.Key != tb.Key || lb.Kind != tb.Kind:
		if err := r.apply(p, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{i}, Node: editor.BlockNode(lb)}); err != nil {
			return err
		}
		return r.apply(p, editor.Operation{Type: editor.InsertNode, Path: editor.Path{i}, Node: editor.BlockNode(tb)})
	default:
		return r.updateBlock(p, i, lb, tb)
	}
}

// check validates b and applies automatic resolutions when allowed. It
// returns the block to sync.
func (r *Reconciler) check(p *pass, b document.Block, i int) (document.Block, error) {
	for range maxResolutions {
		res := r.validator.Validate(b, i)
		if res.Valid {
			return b, nil
		}
		if !res.Resolution.AutoResolve || !r.initialized || r.readOnly {
			return b, &InvalidValue{Value: p.target, Block: b, Index: i, Resolution: res.Resolution}
		}
		fixed, err := resolveBlock(b, res.Resolution.Patches)
		if err != nil {
			return b, &InvalidValue{Value: p.target, Block: b, Index: i, Resolution: res.Resolution}
		}
		out := make([]patch.Patch, len(res.Resolution.Patches))
		for j, rp := range res.Resolution.Patches {
			out[j] = rp.WithOrigin(patch.OriginInternal)
		}
		r.log.Debug("auto resolved block", slog.Int("index", i), slog.String("action", res.Resolution.Action))
		r.emit(Event{Type: EventPatches, Patches: out})
		b = fixed
	}
	return b, fmt.Errorf("reconcile: block at %d still invalid after %d resolutions", i, maxResolutions)
}

// resolveBlock applies block-rooted resolution patches to a copy of b.
func resolveBlock(b document.Block, ps []patch.Patch) (document.Block, error) {
	root, err := document.ToJSONValue(b)
	if err != nil {
		return b, err
	}
	for _, p := range ps {
		if len(p.Path) < 2 {
			return b, fmt.Errorf("reconcile: resolution %s does not address a block field", p)
		}
		rest := p.Path[1:]
		switch p.Type {
		case patch.TypeSet:
			root, err = patch.SetIn(root, rest, p.Value)
		case patch.TypeUnset:
			root, _, err = patch.UnsetIn(root, rest)
		default:
			err = fmt.Errorf("reconcile: unsupported resolution %s", p)
		}
		if err != nil {
			return b, err
		}
	}
	return document.BlockFromJSONValue(root)
}

func blockProps(b document.Block) document.Block {
	c := b.Clone()
	c.Children = nil
	return c
}

func (r *Reconciler) updateBlock(p *pass, i int, lb, tb document.Block) error {
	if !document.Equal(blockProps(lb), blockProps(tb)) {
		err := r.apply(p, editor.Operation{
			Type:          editor.SetNode,
			Path:          editor.Path{i},
			Properties:    lb.Properties(),
			NewProperties: tb.Properties(),
		})
		if err != nil {
			return err
		}
	}
	if !tb.IsText() {
		return nil
	}
	return r.syncChildren(p, i, lb.Children, tb.Children)
}

func indexFrom(cs []document.Child, key string, from int) int {
	for j := from; j < len(cs); j++ {
		if cs[j].Key == key {
			return j
		}
	}
	return -1
}

// syncChildren turns the children of block i from local into target by key:
// removing, inserting and moving children, then updating each in place.
func (r *Reconciler) syncChildren(p *pass, i int, local, target []document.Child) error {
	want := make(map[string]bool, len(target))
	for _, c := range target {
		want[c.Key] = true
	}
	cur := make([]document.Child, 0, len(local))
	for _, c := range local {
		cur = append(cur, c.Clone())
	}
	for j := len(cur) - 1; j >= 0; j-- {
		if want[cur[j].Key] {
			continue
		}
		if err := r.apply(p, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{i, j}, Node: editor.ChildNode(cur[j])}); err != nil {
			return err
		}
		cur = append(cur[:j], cur[j+1:]...)
	}

	for j, tc := range target {
		k := indexFrom(cur, tc.Key, j)
		switch {
		case k < 0:
			if err := r.apply(p, editor.Operation{Type: editor.InsertNode, Path: editor.Path{i, j}, Node: editor.ChildNode(tc)}); err != nil {
				return err
			}
			cur = append(cur[:j], append([]document.Child{tc.Clone()}, cur[j:]...)...)
		case k != j:
			if err := r.apply(p, editor.Operation{Type: editor.MoveNode, Path: editor.Path{i, k}, NewPath: editor.Path{i, j}}); err != nil {
				return err
			}
			moved := cur[k]
			cur = append(cur[:k], cur[k+1:]...)
			cur = append(cur[:j], append([]document.Child{moved}, cur[j:]...)...)
		}
		if err := r.syncChild(p, editor.Path{i, j}, cur[j], tc); err != nil {
			return err
		}
		cur[j] = tc.Clone()
	}

	for j := len(cur) - 1; j >= len(target); j-- {
		if err := r.apply(p, editor.Operation{Type: editor.RemoveNode, Path: editor.Path{i, j}, Node: editor.ChildNode(cur[j])}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) syncChild(p *pass, path editor.Path, lc, tc document.Child) error {
	if document.EqualJSON(lc, tc) {
		return nil
	}
	if lc.Kind != tc.Kind || lc.Type != tc.Type {
		if err := r.apply(p, editor.Operation{Type: editor.RemoveNode, Path: path, Node: editor.ChildNode(lc)}); err != nil {
			return err
		}
		return r.apply(p, editor.Operation{Type: editor.InsertNode, Path: path, Node: editor.ChildNode(tc)})
	}
	if !tc.IsSpan() {
		return r.apply(p, editor.Operation{
			Type:          editor.SetNode,
			Path:          path,
			Properties:    map[string]any{document.PropValue: lc.Value},
			NewProperties: map[string]any{document.PropValue: tc.Value},
		})
	}
	if lc.Text != tc.Text {
		if lc.Text != "" {
			if err := r.apply(p, editor.Operation{Type: editor.RemoveText, Path: path, Offset: 0, Text: lc.Text}); err != nil {
				return err
			}
		}
		if tc.Text != "" {
			if err := r.apply(p, editor.Operation{Type: editor.InsertText, Path: path, Offset: 0, Text: tc.Text}); err != nil {
				return err
			}
		}
	}
	if !document.EqualJSON(lc.Properties(), tc.Properties()) {
		marks := tc.Marks
		if marks == nil {
			marks = []string{}
		}
		return r.apply(p, editor.Operation{
			Type:          editor.SetNode,
			Path:          path,
			Properties:    map[string]any{document.PropMarks: lc.Properties()[document.PropMarks]},
			NewProperties: map[string]any{document.PropMarks: marks},
		})
	}
	return nil
}
