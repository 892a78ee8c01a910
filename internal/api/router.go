package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc DocumentService, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents CRUD.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Route("/documents/{id}", func(r chi.Router) {
		r.Get("/", h.GetDocument)
		r.Put("/", h.ReplaceValue)
		r.Delete("/", h.DeleteDocument)
		r.Post("/move", h.MoveDocument)

		// Editing.
		r.Post("/operations", h.ApplyOperations)
		r.Post("/patches", h.ApplyPatches)
		r.Get("/patches", h.PatchLog)
		r.Post("/undo", h.Undo)
		r.Post("/redo", h.Redo)
		r.Put("/selection", h.Select)
		r.Put("/read-only", h.SetReadOnly)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
