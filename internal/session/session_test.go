package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/reconcile"
)

type memJournal struct {
	mu      sync.Mutex
	patches []patch.Patch
	values  int
}

func (j *memJournal) AppendPatches(_ context.Context, _ string, ps []patch.Patch) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.patches = append(j.patches, ps...)
	return int64(len(j.patches)), nil
}

func (j *memJournal) SaveValue(_ context.Context, _ string, _ document.Value) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values++
	return int64(j.values), nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	synced chan struct{}
}

func newRecorder() *recorder { return &recorder{synced: make(chan struct{}, 16)} }

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Type == EventSynced {
		r.synced <- struct{}{}
	}
}

func (r *recorder) waitSynced(t *testing.T) {
	t.Helper()
	select {
	case <-r.synced:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync")
	}
}

func (r *recorder) patches(origin patch.Origin) []patch.Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []patch.Patch
	for _, ev := range r.events {
		if ev.Type != EventPatches {
			continue
		}
		for _, p := range ev.Patches {
			if p.Origin == origin {
				out = append(out, p)
			}
		}
	}
	return out
}

func fixtureValue() document.Value {
	return document.Value{
		document.NewTextBlock("a", "normal", document.NewSpan("sa", "first")),
		document.NewTextBlock("b", "normal", document.NewSpan("sb", "second")),
	}
}

func open(t *testing.T, opts ...Option) (*Session, *recorder, *memJournal) {
	t.Helper()
	rec := newRecorder()
	j := &memJournal{}
	opts = append([]Option{
		WithKeys(document.NewSequenceKeys("k")),
		WithSink(rec.sink),
		WithJournal(j),
	}, opts...)
	s := New("doc-1", opts...)
	t.Cleanup(s.Close)
	if err := s.UpdateValue(context.Background(), fixtureValue()); err != nil {
		t.Fatal(err)
	}
	rec.waitSynced(t)
	return s, rec, j
}

func TestLocalEditPublishesPatches(t *testing.T) {
	ctx := context.Background()
	s, rec, j := open(t)
	err := s.Apply(ctx, []editor.Operation{{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 5, Text: "!"}})
	if err != nil {
		t.Fatal(err)
	}
	local := rec.patches(patch.OriginLocal)
	if len(local) != 1 || local[0].Type != patch.TypeDiffMatchPatch {
		t.Fatalf("patches = %v", local)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) != 1 || j.values != 1 {
		t.Errorf("journal patches=%d values=%d", len(j.patches), j.values)
	}
}

func TestUndoAfterRemoteInsert(t *testing.T) {
	ctx := context.Background()
	s, _, _ := open(t)
	if err := s.Apply(ctx, []editor.Operation{{Type: editor.InsertText, Path: editor.Path{1, 0}, Offset: 6, Text: " line"}}); err != nil {
		t.Fatal(err)
	}
	item := map[string]any{
		"_key": "n", "_type": "block", "style": "normal", "markDefs": []any{},
		"children": []any{map[string]any{"_key": "ns", "_type": "span", "text": "new", "marks": []any{}}},
	}
	changed, err := s.ApplyPatches(ctx, []patch.Patch{patch.Insert([]any{item}, patch.Before, document.BlockPath("a"))})
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if err := s.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	v, err := s.Value(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 3 || v[0].Key != "n" || v[2].Children[0].Text != "second" {
		t.Errorf("value = %v", v)
	}
}

func TestEditGroupIsOneStep(t *testing.T) {
	ctx := context.Background()
	s, _, _ := open(t)
	err := s.WithEditGroup(ctx, func(ed *editor.Editor) error {
		if err := ed.Apply(editor.Operation{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "x"}); err != nil {
			return err
		}
		return ed.Apply(editor.Operation{Type: editor.InsertText, Path: editor.Path{1, 0}, Offset: 0, Text: "y"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Value.Equal(fixtureValue()) || snap.CanUndo || !snap.CanRedo {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFailedBatchAppliesNothing(t *testing.T) {
	ctx := context.Background()
	s, rec, j := open(t)
	err := s.Apply(ctx, []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "X"},
		{Type: editor.RemoveText, Path: editor.Path{0, 0}, Offset: 0, Text: "nope"},
	})
	var opErr *editor.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v", err)
	}
	v, err := s.Value(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(fixtureValue()) {
		t.Errorf("value = %v", v)
	}
	if local := rec.patches(patch.OriginLocal); len(local) != 0 {
		t.Errorf("published %v", local)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) != 0 {
		t.Errorf("journaled %d patches", len(j.patches))
	}
}

func TestRemoteSpanBatchMatchesSender(t *testing.T) {
	ctx := context.Background()
	s, _, _ := open(t)
	span := map[string]any{"_key": "sa2", "_type": "span", "text": " more", "marks": []any{}}
	changed, err := s.ApplyPatches(ctx, []patch.Patch{
		patch.Insert([]any{span}, patch.After, document.ChildPath("a", "sa")),
	})
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	p, _ := patch.MakeDiffMatchPatch(" more", " more!", document.TextPath("a", "sa2"))
	if changed, err := s.ApplyPatches(ctx, []patch.Patch{p}); err != nil || !changed {
		t.Fatalf("patch on second span: changed=%v err=%v", changed, err)
	}
	v, err := s.Value(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := document.Value{
		document.NewTextBlock("a", "normal", document.NewSpan("sa", "first"), document.NewSpan("sa2", " more!")),
		fixtureValue()[1],
	}
	if !v.Equal(want) {
		t.Errorf("value = %v\nwant %v", v, want)
	}
}

func TestReadOnlySession(t *testing.T) {
	ctx := context.Background()
	s, _, _ := open(t, WithReadOnly(true))
	err := s.Apply(ctx, []editor.Operation{{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "x"}})
	if !errors.Is(err, apperr.ErrReadOnly) {
		t.Fatalf("err = %v", err)
	}
	p, _ := patch.MakeDiffMatchPatch("first", "first!", document.TextPath("a", "sa"))
	if changed, err := s.ApplyPatches(ctx, []patch.Patch{p}); err != nil || !changed {
		t.Errorf("remote patch in read-only: changed=%v err=%v", changed, err)
	}
	if err := s.SetReadOnly(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(ctx, []editor.Operation{{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "x"}}); err != nil {
		t.Errorf("after leaving read-only: %v", err)
	}
}

func TestStreamedLoadThroughLoop(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	s := New("big", WithChunkSize(3), WithSink(rec.sink), WithKeys(document.NewSequenceKeys("k")))
	defer s.Close()

	v := make(document.Value, 10)
	for i := range v {
		v[i] = document.NewTextBlock(fmt.Sprintf("b%d", i), "normal", document.NewSpan(fmt.Sprintf("s%d", i), "x"))
	}
	if err := s.UpdateValue(ctx, v); err != nil {
		t.Fatal(err)
	}
	rec.waitSynced(t)
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Value.Equal(v) || snap.SyncState != reconcile.Idle {
		t.Errorf("len=%d state=%s", len(snap.Value), snap.SyncState)
	}
}

func TestClosedSession(t *testing.T) {
	s := New("closed")
	s.Close()
	if _, err := s.Value(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v", err)
	}
}
