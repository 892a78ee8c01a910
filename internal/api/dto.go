package api

import (
	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/editor"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/patch"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID    string         `json:"id" example:"notes/hello" validate:"required"`
	Value document.Value `json:"value"`
}

// ReplaceValueRequest is the request body for replacing a document value.
type ReplaceValueRequest struct {
	Value document.Value `json:"value" validate:"required"`
}

// MoveDocumentRequest is the request body for renaming a document.
type MoveDocumentRequest struct {
	ID string `json:"id" example:"notes/renamed" validate:"required"`
}

// OperationsRequest carries local editor operations.
type OperationsRequest struct {
	Operations []editor.Operation `json:"operations" validate:"required"`
}

// PatchesRequest carries patches from another writer.
type PatchesRequest struct {
	Patches []patch.Patch `json:"patches" validate:"required"`
}

// PatchesResponse reports whether remote patches changed the document.
type PatchesResponse struct {
	Changed bool `json:"changed"`
}

// SelectionRequest moves the selection; a null selection deselects.
type SelectionRequest struct {
	Selection *editor.Range `json:"selection"`
}

// ReadOnlyRequest switches read-only mode.
type ReadOnlyRequest struct {
	ReadOnly bool `json:"read_only"`
}

// DocumentDetail is the full document response type (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListItem is a lightweight item in a list response (aliased from the domain layer).
type DocumentListItem = docservice.DocumentListItem

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// PatchLogResponse wraps journaled patches.
type PatchLogResponse struct {
	Patches []models.PatchRecord `json:"patches" validate:"required"`
}
