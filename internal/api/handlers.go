package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blockpatch/internal/checksum"
)

// maxBody bounds request bodies.
const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc DocumentService
}

// NewHandler creates a new Handler.
func NewHandler(svc DocumentService) *Handler {
	return &Handler{svc: svc}
}

// documentID extracts the document id from the URL. Ids containing slashes
// are sent encoded (e.g. notes%2Fhello).
func documentID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents
//	@Tags			documents
//	@Produce		json
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writeError(w, "list documents", "", err)
		return
	}
	if items == nil {
		items = []DocumentListItem{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: len(items)})
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Open a document and return its editor state
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, "get document", id, err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Create a document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Document to create"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	doc, err := h.svc.CreateDocument(r.Context(), req.ID, req.Value)
	if err != nil {
		writeError(w, "create document", req.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ReplaceValue handles PUT /api/documents/{id}.
//
//	@Summary		Push an authoritative value with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Document id"
//	@Param			If-Match	header		string				false	"SHA-256 checksum of the stored file"
//	@Param			body		body		ReplaceValueRequest	true	"New value"
//	@Success		200			{object}	DocumentDetail
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [put]
func (h *Handler) ReplaceValue(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req ReplaceValueRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := h.svc.ReplaceValue(r.Context(), id, req.Value, r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "replace value", id, err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/{id}.
//
//	@Summary		Delete a document
//	@Tags			documents
//	@Param			id	path	string	true	"Document id"
//	@Success		204	"Document deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	if err := h.svc.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, "delete document", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveDocument handles POST /api/documents/{id}/move.
//
//	@Summary		Rename a document
//	@Tags			documents
//	@Accept			json
//	@Param			id		path	string				true	"Document id"
//	@Param			body	body	MoveDocumentRequest	true	"New id"
//	@Success		204		"Document moved"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/move [post]
func (h *Handler) MoveDocument(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req MoveDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	if err := h.svc.MoveDocument(r.Context(), id, req.ID); err != nil {
		writeError(w, "move document", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyOperations handles POST /api/documents/{id}/operations.
//
//	@Summary		Apply local editor operations
//	@Tags			editing
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Document id"
//	@Param			body	body		OperationsRequest	true	"Operations"
//	@Success		200		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/operations [post]
func (h *Handler) ApplyOperations(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req OperationsRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := h.svc.ApplyOperations(r.Context(), id, req.Operations)
	if err != nil {
		writeError(w, "apply operations", id, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ApplyPatches handles POST /api/documents/{id}/patches.
//
//	@Summary		Apply patches from another writer
//	@Tags			editing
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document id"
//	@Param			body	body		PatchesRequest	true	"Patches"
//	@Success		200		{object}	PatchesResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/patches [post]
func (h *Handler) ApplyPatches(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req PatchesRequest
	if !decode(w, r, &req) {
		return
	}
	changed, err := h.svc.ApplyPatches(r.Context(), id, req.Patches)
	if err != nil {
		writeError(w, "apply patches", id, err)
		return
	}
	writeJSON(w, http.StatusOK, PatchesResponse{Changed: changed})
}

// PatchLog handles GET /api/documents/{id}/patches.
//
//	@Summary		Journaled patches newer than a revision
//	@Tags			editing
//	@Produce		json
//	@Param			id		path		string	true	"Document id"
//	@Param			since	query		int		false	"Revision to start after"
//	@Param			limit	query		int		false	"Max patches"
//	@Success		200		{object}	PatchLogResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/patches [get]
func (h *Handler) PatchLog(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	recs, err := h.svc.Patches(r.Context(), id, since, limit)
	if err != nil {
		writeError(w, "patch log", id, err)
		return
	}
	writeJSON(w, http.StatusOK, PatchLogResponse{Patches: recs})
}

// Undo handles POST /api/documents/{id}/undo.
//
//	@Summary		Undo the newest local step
//	@Tags			editing
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	doc, err := h.svc.Undo(r.Context(), id)
	if err != nil {
		writeError(w, "undo", id, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Redo handles POST /api/documents/{id}/redo.
//
//	@Summary		Redo the newest undone step
//	@Tags			editing
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/redo [post]
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	doc, err := h.svc.Redo(r.Context(), id)
	if err != nil {
		writeError(w, "redo", id, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Select handles PUT /api/documents/{id}/selection.
//
//	@Summary		Move the selection
//	@Tags			editing
//	@Accept			json
//	@Param			id		path	string				true	"Document id"
//	@Param			body	body	SelectionRequest	true	"Selection"
//	@Success		204		"Selection moved"
//	@Security		BearerAuth
//	@Router			/documents/{id}/selection [put]
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req SelectionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Select(r.Context(), id, req.Selection); err != nil {
		writeError(w, "select", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetReadOnly handles PUT /api/documents/{id}/read-only.
//
//	@Summary		Switch read-only mode
//	@Tags			editing
//	@Accept			json
//	@Param			id		path	string			true	"Document id"
//	@Param			body	body	ReadOnlyRequest	true	"Mode"
//	@Success		204		"Mode switched"
//	@Security		BearerAuth
//	@Router			/documents/{id}/read-only [put]
func (h *Handler) SetReadOnly(w http.ResponseWriter, r *http.Request) {
	id := documentID(r)
	var req ReadOnlyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.SetReadOnly(r.Context(), id, req.ReadOnly); err != nil {
		writeError(w, "set read only", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
