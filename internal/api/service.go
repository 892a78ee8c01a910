package api

import (
	"context"

	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/patch"
)

// DocumentService is what the handlers need from the domain layer.
type DocumentService interface {
	ListDocuments(ctx context.Context) ([]docservice.DocumentListItem, error)
	GetDocument(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	CreateDocument(ctx context.Context, id string, v document.Value) (*docservice.DocumentDetail, error)
	ReplaceValue(ctx context.Context, id string, v document.Value, ifMatch string) (*docservice.DocumentDetail, error)
	DeleteDocument(ctx context.Context, id string) error
	MoveDocument(ctx context.Context, id, newID string) error
	ApplyOperations(ctx context.Context, id string, ops []editor.Operation) (*docservice.DocumentDetail, error)
	ApplyPatches(ctx context.Context, id string, ps []patch.Patch) (bool, error)
	Patches(ctx context.Context, id string, since int64, limit int) ([]models.PatchRecord, error)
	Undo(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	Redo(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	Select(ctx context.Context, id string, r *editor.Range) error
	SetReadOnly(ctx context.Context, id string, ro bool) error
}

// Verify *docservice.Service satisfies DocumentService at compile time.
var _ DocumentService = (*docservice.Service)(nil)
