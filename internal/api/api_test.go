package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/session"
	"github.com/starford/blockpatch/internal/testutil"
)

// testEnv sets up a temp documents dir, SQLite journal, service, and router.
// An empty authToken disables auth.
func testEnv(t *testing.T, authToken string) (*docservice.Service, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*docservice.Service, http.Handler) {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestJournal(t)
	svc := docservice.NewService(store, db,
		docservice.WithSessionOptions(session.WithKeys(testutil.Keys("k"))),
	)
	t.Cleanup(svc.Close)
	return svc, NewRouter(svc, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) DocumentDetail {
	t.Helper()
	var d DocumentDetail
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	return d
}

func createDoc(t *testing.T, router http.Handler, id string, v document.Value) DocumentDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/documents", CreateDocumentRequest{ID: id, Value: v})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	return decodeDetail(t, w)
}

func TestCreateAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "notes/hello", testutil.Paragraphs("Hello", "World"))

	w := do(t, router, http.MethodGet, "/documents/notes%2Fhello", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", w.Code, w.Body.String())
	}
	d := decodeDetail(t, w)
	if d.ID != "notes/hello" || len(d.Value) != 2 || d.Value[1].Children[0].Text != "World" {
		t.Errorf("detail = %+v", d)
	}
	if d.Checksum == "" || d.SyncState != "idle" {
		t.Errorf("checksum=%q state=%q", d.Checksum, d.SyncState)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "dup", testutil.Paragraphs("a"))
	w := do(t, router, http.MethodPost, "/documents", CreateDocumentRequest{ID: "dup", Value: testutil.Paragraphs("b")})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
}

func TestCreateMissingID(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/documents", CreateDocumentRequest{Value: testutil.Paragraphs("a")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateInvalidValue(t *testing.T) {
	_, router := testEnv(t, "")
	v := document.Value{document.NewObjectBlock("v", "video", nil)}
	w := do(t, router, http.MethodPost, "/documents", CreateDocumentRequest{ID: "bad", Value: v})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (body %s)", w.Code, w.Body.String())
	}
}

func TestReplaceWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")
	created := createDoc(t, router, "lock", testutil.Paragraphs("one"))

	req := httptest.NewRequest(http.MethodPut, "/documents/lock", mustJSON(t, ReplaceValueRequest{Value: testutil.Paragraphs("two")}))
	req.Header.Set("If-Match", `"`+created.Checksum+`"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("replace status = %d, body = %s", w.Code, w.Body.String())
	}
	if d := decodeDetail(t, w); d.Value[0].Children[0].Text != "two" {
		t.Errorf("value = %v", d.Value)
	}

	// Stale checksum.
	req = httptest.NewRequest(http.MethodPut, "/documents/lock", mustJSON(t, ReplaceValueRequest{Value: testutil.Paragraphs("three")}))
	req.Header.Set("If-Match", created.Checksum)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("stale replace = %d, want 409", w.Code)
	}
}

func TestReplaceWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "free", testutil.Paragraphs("one"))
	w := do(t, router, http.MethodPut, "/documents/free", ReplaceValueRequest{Value: testutil.Paragraphs("two")})
	if w.Code != http.StatusOK {
		t.Errorf("replace status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestReplace_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPut, "/documents/ghost", ReplaceValueRequest{Value: testutil.Paragraphs("x")})
	if w.Code != http.StatusNotFound {
		t.Errorf("replace missing = %d, want 404", w.Code)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/documents/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing document = %d, want 404", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "gone", testutil.Paragraphs("x"))

	w := do(t, router, http.MethodDelete, "/documents/gone", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/documents/gone", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after delete = %d, want 404", w.Code)
	}
}

func TestMoveDocument(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "old", testutil.Paragraphs("x"))
	createDoc(t, router, "taken", testutil.Paragraphs("y"))

	w := do(t, router, http.MethodPost, "/documents/old/move", MoveDocumentRequest{ID: "taken"})
	if w.Code != http.StatusConflict {
		t.Errorf("move onto existing = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/documents/old/move", MoveDocumentRequest{ID: "archive/old"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("move status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/documents/archive%2Fold", nil); w.Code != http.StatusOK {
		t.Errorf("moved get = %d", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "a", testutil.Paragraphs("alpha"))
	createDoc(t, router, "b", testutil.Paragraphs("beta"))

	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp DocumentListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Documents) != 2 {
		t.Errorf("list = %+v", resp)
	}
}

func TestOperationsUndoRedo(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "edit", testutil.Paragraphs("Hello"))

	ops := OperationsRequest{Operations: []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 5, Text: " World"},
	}}
	w := do(t, router, http.MethodPost, "/documents/edit/operations", ops)
	if w.Code != http.StatusOK {
		t.Fatalf("operations status = %d, body = %s", w.Code, w.Body.String())
	}
	d := decodeDetail(t, w)
	if d.Value[0].Children[0].Text != "Hello World" || !d.CanUndo {
		t.Fatalf("after edit = %+v", d)
	}

	w = do(t, router, http.MethodPost, "/documents/edit/undo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("undo status = %d", w.Code)
	}
	if d := decodeDetail(t, w); d.Value[0].Children[0].Text != "Hello" || !d.CanRedo {
		t.Errorf("after undo = %+v", d)
	}

	w = do(t, router, http.MethodPost, "/documents/edit/redo", nil)
	if d := decodeDetail(t, w); d.Value[0].Children[0].Text != "Hello World" {
		t.Errorf("after redo = %+v", d)
	}

	w = do(t, router, http.MethodGet, "/documents/edit/patches?since=0", nil)
	var log PatchLogResponse
	if err := json.NewDecoder(w.Body).Decode(&log); err != nil {
		t.Fatal(err)
	}
	if len(log.Patches) < 3 {
		t.Errorf("journaled patches = %d, want >= 3", len(log.Patches))
	}
}

func TestInvalidOperation(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "op", testutil.Paragraphs("x"))
	ops := OperationsRequest{Operations: []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{7, 0}, Offset: 0, Text: "y"},
	}}
	w := do(t, router, http.MethodPost, "/documents/op/operations", ops)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad path = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestApplyRemotePatches(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "remote", testutil.Paragraphs("abc"))

	p, ok := patch.MakeDiffMatchPatch("abc", "abcd", document.TextPath("b0", "s0"))
	if !ok {
		t.Fatal("no patch")
	}
	w := do(t, router, http.MethodPost, "/documents/remote/patches", PatchesRequest{Patches: []patch.Patch{p}})
	if w.Code != http.StatusOK {
		t.Fatalf("patches status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PatchesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Changed {
		t.Error("changed = false")
	}
	if w := do(t, router, http.MethodGet, "/documents/remote", nil); decodeDetail(t, w).Value[0].Children[0].Text != "abcd" {
		t.Error("remote patch not applied")
	}
}

func TestReadOnlyRejectsOperations(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "ro", testutil.Paragraphs("x"))

	if w := do(t, router, http.MethodPut, "/documents/ro/read-only", ReadOnlyRequest{ReadOnly: true}); w.Code != http.StatusNoContent {
		t.Fatalf("read-only status = %d", w.Code)
	}
	ops := OperationsRequest{Operations: []editor.Operation{
		{Type: editor.InsertText, Path: editor.Path{0, 0}, Offset: 0, Text: "y"},
	}}
	if w := do(t, router, http.MethodPost, "/documents/ro/operations", ops); w.Code != http.StatusForbidden {
		t.Errorf("operations in read-only = %d, want 403", w.Code)
	}
}

func TestSelection(t *testing.T) {
	_, router := testEnv(t, "")
	createDoc(t, router, "sel", testutil.Paragraphs("hello"))

	r := &editor.Range{
		Anchor: editor.Point{Path: editor.Path{0, 0}, Offset: 1},
		Focus:  editor.Point{Path: editor.Path{0, 0}, Offset: 3},
	}
	if w := do(t, router, http.MethodPut, "/documents/sel/selection", SelectionRequest{Selection: r}); w.Code != http.StatusNoContent {
		t.Fatalf("select status = %d, body = %s", w.Code, w.Body.String())
	}
	d := decodeDetail(t, do(t, router, http.MethodGet, "/documents/sel", nil))
	if d.Selection == nil || d.Selection.Focus.Offset != 3 {
		t.Errorf("selection = %+v", d.Selection)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	_, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d, want 400", w.Code)
	}
}

func mustJSON(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodPost, "/documents", mustJSON(t, CreateDocumentRequest{ID: "auth", Value: testutil.Paragraphs("x")}))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", sseStub)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvFull(t, false, "", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvFull(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?doc=x", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvFull(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}

	w = do(t, router, http.MethodPost, "/documents?access_token=tok", CreateDocumentRequest{ID: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on POST = %d, want 401", w.Code)
	}
}
