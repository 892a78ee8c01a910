// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes document editing tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/patch"
)

const contractURI = "blockpatch://document-format"

// Documents is the subset of the document service the tools use.
type Documents interface {
	ListDocuments(ctx context.Context) ([]docservice.DocumentListItem, error)
	GetDocument(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	CreateDocument(ctx context.Context, id string, v document.Value) (*docservice.DocumentDetail, error)
	ApplyOperations(ctx context.Context, id string, ops []editor.Operation) (*docservice.DocumentDetail, error)
	ApplyPatches(ctx context.Context, id string, ps []patch.Patch) (bool, error)
	Undo(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	Redo(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	Patches(ctx context.Context, id string, since int64, limit int) ([]models.PatchRecord, error)
}

var _ Documents = (*docservice.Service)(nil)

// Server wraps the MCP server with document tools.
type Server struct {
	mcp    *server.MCPServer
	docs   Documents
	schema *document.Schema
}

// New creates a new MCP server with all document tools registered.
func New(docs Documents, schema *document.Schema) *Server {
	s := &Server{docs: docs, schema: schema}

	s.mcp = server.NewMCPServer(
		"Blockpatch",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List all documents with their titles and revisions."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document as JSON blocks together with its editor state."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id (e.g. notes/hello)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a new document. The value MUST follow the block document "+
			"format. Read the contract first via the get_document_contract tool or the "+
			contractURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id for the new document")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON array of blocks")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("apply_operations",
		mcp.WithDescription("Apply editor operations (insert_text, split_node, set_node, ...) "+
			"as one undoable step."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("operations", mcp.Required(), mcp.Description("JSON array of operations")),
	), s.applyOperations)

	s.mcp.AddTool(mcp.NewTool("apply_patches",
		mcp.WithDescription("Apply patches from another writer. Failing patches are skipped."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("patches", mcp.Required(), mcp.Description("JSON array of patches")),
	), s.applyPatches)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the newest local step of a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the newest undone step of a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.redo)

	s.mcp.AddTool(mcp.NewTool("get_patch_log",
		mcp.WithDescription("List journaled patches of a document newer than a revision."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithNumber("since", mcp.Description("Revision to start after (default 0)")),
	), s.patchLog)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the block document format contract and the active schema. "+
			"Call this before creating documents or sending patches."),
	), s.getDocumentContract)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Document Format Contract",
			mcp.WithResourceDescription("Block document format and active schema."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	return jsonResult(items)
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", id, err)), nil
	}
	return jsonResult(d)
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var v document.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid value: %v", err)), nil
	}
	if _, err := s.docs.CreateDocument(ctx, id, v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create %s: %v", id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", id)), nil
}

func (s *Server) applyOperations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("operations")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var ops []editor.Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid operations: %v", err)), nil
	}
	d, err := s.docs.ApplyOperations(ctx, id, ops)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) applyPatches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("patches")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var ps []patch.Patch
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid patches: %v", err)), nil
	}
	changed, err := s.docs.ApplyPatches(ctx, id, ps)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !changed {
		return mcp.NewToolResultText("unchanged"), nil
	}
	return mcp.NewToolResultText("changed"), nil
}

func (s *Server) undo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, s.docs.Undo)
}

func (s *Server) redo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, s.docs.Redo)
}

func (s *Server) step(ctx context.Context, req mcp.CallToolRequest, fn func(context.Context, string) (*docservice.DocumentDetail, error)) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := fn(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) patchLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var since int64
	if f, err := req.RequireFloat("since"); err == nil {
		since = int64(f)
	}
	recs, err := s.docs.Patches(ctx, id, since, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(recs)
}

func (s *Server) getDocumentContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(Contract(s.schema)), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     Contract(s.schema),
		},
	}, nil
}
