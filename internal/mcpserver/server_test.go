package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/session"
	"github.com/starford/blockpatch/internal/testutil"
)

func testServer(t *testing.T) (*Server, *docservice.Service) {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestJournal(t)
	svc := docservice.NewService(store, db,
		docservice.WithSessionOptions(session.WithKeys(testutil.Keys("k"))),
	)
	t.Cleanup(svc.Close)
	return New(svc, document.DefaultSchema()), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	case "read_document":
		result, err = srv.readDocument(ctx, req)
	case "create_document":
		result, err = srv.createDocument(ctx, req)
	case "apply_operations":
		result, err = srv.applyOperations(ctx, req)
	case "apply_patches":
		result, err = srv.applyPatches(ctx, req)
	case "undo":
		result, err = srv.undo(ctx, req)
	case "redo":
		result, err = srv.redo(ctx, req)
	case "get_patch_log":
		result, err = srv.patchLog(ctx, req)
	case "get_document_contract":
		result, err = srv.getDocumentContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func valueJSON(t *testing.T, v document.Value) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCreateAndReadDocument(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_document", map[string]interface{}{
		"id":    "test",
		"value": valueJSON(t, testutil.Paragraphs("Hello")),
	})
	if text := resultText(r); text != "created: test" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_document", map[string]interface{}{"id": "test"})
	var d docservice.DocumentDetail
	if err := json.Unmarshal([]byte(resultText(r)), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(d.Value) != 1 || d.Value[0].Children[0].Text != "Hello" {
		t.Errorf("value = %v", d.Value)
	}
}

func TestCreateInvalidJSON(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "create_document", map[string]interface{}{"id": "x", "value": "not json"})
	if !r.IsError {
		t.Error("expected error for invalid value")
	}
}

func TestListDocuments(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	if _, err := svc.CreateDocument(ctx, "a", testutil.Paragraphs("alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateDocument(ctx, "b", testutil.Paragraphs("beta")); err != nil {
		t.Fatal(err)
	}

	text := resultText(callTool(t, srv, "list_documents", map[string]interface{}{}))
	if !strings.Contains(text, `"alpha"`) || !strings.Contains(text, `"beta"`) {
		t.Errorf("list = %s", text)
	}
}

func TestReadDocumentMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_document", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing document")
	}
}

func TestOperationsUndoRedo(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	if _, err := svc.CreateDocument(ctx, "doc", testutil.Paragraphs("Hello")); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "apply_operations", map[string]interface{}{
		"id":         "doc",
		"operations": `[{"type":"insert_text","path":[0,0],"offset":5,"text":"!"}]`,
	})
	if r.IsError {
		t.Fatalf("apply_operations: %s", resultText(r))
	}
	callTool(t, srv, "undo", map[string]interface{}{"id": "doc"})
	d, err := svc.GetDocument(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if d.Value[0].Children[0].Text != "Hello" || !d.CanRedo {
		t.Errorf("after undo = %+v", d)
	}
	callTool(t, srv, "redo", map[string]interface{}{"id": "doc"})
	d, _ = svc.GetDocument(ctx, "doc")
	if d.Value[0].Children[0].Text != "Hello!" {
		t.Errorf("after redo = %q", d.Value[0].Children[0].Text)
	}

	log := resultText(callTool(t, srv, "get_patch_log", map[string]interface{}{"id": "doc"}))
	if !strings.Contains(log, "diffMatchPatch") {
		t.Errorf("patch log = %s", log)
	}
}

func TestApplyPatches(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	if _, err := svc.CreateDocument(ctx, "doc", testutil.Paragraphs("one")); err != nil {
		t.Fatal(err)
	}
	r := callTool(t, srv, "apply_patches", map[string]interface{}{
		"id":      "doc",
		"patches": `[{"type":"set","path":[{"_key":"b0"},"children",{"_key":"s0"},"text"],"value":"two"}]`,
	})
	if text := resultText(r); text != "changed" {
		t.Errorf("apply_patches = %q", text)
	}
	d, _ := svc.GetDocument(ctx, "doc")
	if d.Value[0].Children[0].Text != "two" {
		t.Errorf("text = %q", d.Value[0].Children[0].Text)
	}
}

func TestDocumentContract(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_document_contract", map[string]interface{}{}))
	if !strings.Contains(text, "## Schema") || !strings.Contains(text, "strike-through") {
		t.Errorf("contract = %s", text)
	}
}
