// Package models defines the persisted document types shared by storage,
// the journal and the host surfaces.
package models

import (
	"encoding/json"
	"time"
)

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentRow is a document as recorded in the journal.
type DocumentRow struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PatchRecord is one journaled patch. Patches journaled together share a
// revision.
type PatchRecord struct {
	Seq       int64           `json:"seq"`
	DocID     string          `json:"doc_id"`
	Revision  int64           `json:"revision"`
	Origin    string          `json:"origin"`
	Patch     json.RawMessage `json:"patch"`
	CreatedAt time.Time       `json:"created_at"`
}
