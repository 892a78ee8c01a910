package docservice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/journal"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/session"
	"github.com/starford/blockpatch/internal/sse"
	"github.com/starford/blockpatch/internal/storage"
	"github.com/starford/blockpatch/internal/testutil"
	"github.com/starford/blockpatch/internal/watcher"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
	docs   []string
}

func (p *recordingPublisher) Publish(ev sse.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) PublishDocumentEvent(kind, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, kind+":"+id)
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type env struct {
	svc   *Service
	store *storage.FS
	db    *journal.DB
	pub   *recordingPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestJournal(t)
	pub := &recordingPublisher{}
	svc := NewService(store, db,
		WithPublisher(pub),
		WithSessionOptions(session.WithKeys(testutil.Keys("k"))),
	)
	t.Cleanup(svc.Close)
	return &env{svc: svc, store: store, db: db, pub: pub}
}

func (e *env) create(t *testing.T, id string, v document.Value) *DocumentDetail {
	t.Helper()
	d, err := e.svc.CreateDocument(context.Background(), id, v)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return d
}

func TestCreateAndGetDocument(t *testing.T) {
	e := newEnv(t)
	d := e.create(t, "notes/hello", testutil.Paragraphs("Hello", "World"))
	if !d.Value.Equal(testutil.Paragraphs("Hello", "World")) {
		t.Errorf("value = %v", d.Value)
	}
	if d.Summary.Title != "Hello" || d.Revision < 1 || d.SyncState != "idle" {
		t.Errorf("detail = %+v", d)
	}
	v, _, err := storage.Load(e.store, "notes/hello")
	if err != nil || !v.Equal(d.Value) {
		t.Errorf("stored = %v, %v", v, err)
	}
	items, err := e.svc.ListDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "notes/hello" || !items[0].Open || items[0].Title != "Hello" {
		t.Errorf("items = %+v", items)
	}
}

func TestGetMissingDocument(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.GetDocument(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	e := newEnv(t)
	e.create(t, "dup", testutil.Paragraphs("a"))
	if _, err := e.svc.CreateDocument(context.Background(), "dup", nil); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v", err)
	}
}

func TestCreateRejectsInvalidValue(t *testing.T) {
	e := newEnv(t)
	v := document.Value{document.NewObjectBlock("v", "video", nil)}
	if _, err := e.svc.CreateDocument(context.Background(), "bad", v); !errors.Is(err, apperr.ErrInvalidValue) {
		t.Errorf("err = %v", err)
	}
	if _, err := e.store.Read("bad"); err == nil {
		t.Error("invalid document was stored")
	}
}

func TestLocalEditIsPersisted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("hello"))

	d, err := e.svc.ApplyOperations(ctx, "doc", []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 5, Text: " world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.CanUndo {
		t.Error("edit not undoable")
	}
	v, _, _ := storage.Load(e.store, "doc")
	if !v.Equal(testutil.Paragraphs("hello world")) {
		t.Errorf("stored = %v", v)
	}
	recs, err := e.svc.Patches(ctx, "doc", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Origin != string(patch.OriginLocal) {
		t.Errorf("journal = %+v", recs)
	}
	if e.pub.count(sse.TypePatches) != 1 {
		t.Errorf("patches events = %d", e.pub.count(sse.TypePatches))
	}
}

func TestUndoRedo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("hello"))
	_, err := e.svc.ApplyOperations(ctx, "doc", []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: ">"},
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err := e.svc.Undo(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Value.Equal(testutil.Paragraphs("hello")) || !d.CanRedo {
		t.Errorf("after undo = %+v", d)
	}
	d, err = e.svc.Redo(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Value.Equal(testutil.Paragraphs(">hello")) {
		t.Errorf("after redo = %v", d.Value)
	}
	v, _, _ := storage.Load(e.store, "doc")
	if !v.Equal(d.Value) {
		t.Errorf("stored = %v", v)
	}
}

func TestRemotePatches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("hello"))
	p, _ := patch.MakeDiffMatchPatch("hello", "hello!", document.TextPath("b0", "s0"))
	changed, err := e.svc.ApplyPatches(ctx, "doc", []patch.Patch{p})
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	d, _ := e.svc.GetDocument(ctx, "doc")
	if !d.Value.Equal(testutil.Paragraphs("hello!")) || d.CanUndo {
		t.Errorf("detail = %+v", d)
	}
}

func TestReplaceValueChecksIfMatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("one"))

	if _, err := e.svc.ReplaceValue(ctx, "doc", testutil.Paragraphs("two"), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
	_, cs, _ := storage.Load(e.store, "doc")
	d, err := e.svc.ReplaceValue(ctx, "doc", testutil.Paragraphs("two"), cs)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Value.Equal(testutil.Paragraphs("two")) {
		t.Errorf("value = %v", d.Value)
	}
	v, _, _ := storage.Load(e.store, "doc")
	if !v.Equal(testutil.Paragraphs("two")) {
		t.Errorf("stored = %v", v)
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("one"))
	if err := e.svc.SetReadOnly(ctx, "doc", true); err != nil {
		t.Fatal(err)
	}
	_, err := e.svc.ApplyOperations(ctx, "doc", []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "x"},
	})
	if !errors.Is(err, apperr.ErrReadOnly) {
		t.Errorf("err = %v", err)
	}
}

func TestFileEventUpdatesOpenSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("one"))

	_, _ = storage.Save(e.store, "doc", testutil.Paragraphs("one", "two"))
	e.svc.HandleFileEvent(watcher.Updated, "doc")

	d, err := e.svc.GetDocument(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Value.Equal(testutil.Paragraphs("one", "two")) || d.CanUndo {
		t.Errorf("detail = %+v", d)
	}
	sum, _ := e.db.GetChecksum("doc")
	_, cs, _ := storage.Load(e.store, "doc")
	if sum != cs {
		t.Errorf("journal checksum %s != file checksum %s", sum, cs)
	}
}

func TestInvalidFileIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("one"))

	raw := []byte(`[
  {"_key":"b0","_type":"block","style":"normal","markDefs":[],"children":[{"_key":"s0","_type":"span","text":"one","marks":[]}]},
  {"_key":"v","_type":"video"},
  {"_key":"b2","_type":"block","style":"normal","markDefs":[],"children":[{"_key":"s2","_type":"span","text":"three","marks":[]}]}
]`)
	if err := e.store.Write("doc", raw); err != nil {
		t.Fatal(err)
	}
	e.svc.HandleFileEvent(watcher.Updated, "doc")

	if e.pub.count(sse.TypeInvalidValue) != 1 {
		t.Fatalf("invalid events = %d", e.pub.count(sse.TypeInvalidValue))
	}
	got, _ := e.store.Read("doc")
	if string(got) != string(raw) {
		t.Errorf("file rewritten:\n%s", got)
	}

	// Local edits on the partial value are not written back either.
	_, err := e.svc.ApplyOperations(ctx, "doc", []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = e.store.Read("doc")
	if string(got) != string(raw) {
		t.Errorf("file rewritten after edit:\n%s", got)
	}
}

func TestPassValidityPerDocument(t *testing.T) {
	e := newEnv(t)
	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					e.svc.sink(session.Event{Type: session.EventInvalidValue, DocID: id})
				}
				e.svc.sink(session.Event{Type: session.EventSynced, DocID: id})
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				e.svc.writable(id, false)
				e.svc.writable(id, true)
			}
		}()
	}
	wg.Wait()

	for i, id := range ids {
		if got, want := e.svc.writable(id, false), i%2 != 0; got != want {
			t.Errorf("%s: writable after pass = %v, want %v", id, got, want)
		}
		if !e.svc.writable(id, true) {
			t.Errorf("%s: a fresh pass must start writable", id)
		}
	}
}

func TestFileEventDeleted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "doc", testutil.Paragraphs("one"))
	_ = e.store.Delete("doc")
	e.svc.HandleFileEvent(watcher.Deleted, "doc")

	if _, _, err := e.db.Document(ctx, "doc"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("journal err = %v", err)
	}
	if _, ok := e.svc.lookup("doc"); ok {
		t.Error("session still open")
	}
}

func TestDeleteAndMoveDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "a", testutil.Paragraphs("one"))
	e.create(t, "b", testutil.Paragraphs("two"))

	if err := e.svc.MoveDocument(ctx, "a", "b"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("move onto existing: %v", err)
	}
	if err := e.svc.MoveDocument(ctx, "a", "c"); err != nil {
		t.Fatal(err)
	}
	d, err := e.svc.GetDocument(ctx, "c")
	if err != nil || !d.Value.Equal(testutil.Paragraphs("one")) {
		t.Errorf("moved = %+v, %v", d, err)
	}
	if _, _, err := e.db.Document(ctx, "a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("old id still journaled: %v", err)
	}

	if err := e.svc.DeleteDocument(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.GetDocument(ctx, "b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted document: %v", err)
	}
}
