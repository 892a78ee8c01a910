package journal

import (
	"context"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/patch"
)

// Journal defines the journal operations. Consumers should depend on this
// interface rather than the concrete *DB type.
type Journal interface {
	AppendPatches(ctx context.Context, docID string, ps []patch.Patch) (int64, error)
	SaveValue(ctx context.Context, docID string, v document.Value) (int64, error)
	Document(ctx context.Context, docID string) (models.DocumentRow, document.Value, error)
	ListDocuments(ctx context.Context) ([]models.DocumentRow, error)
	Patches(ctx context.Context, docID string, since int64, limit int) ([]models.PatchRecord, error)
	DeleteDocument(ctx context.Context, docID string) error
	GetChecksum(docID string) (string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies Journal at compile time.
var _ Journal = (*DB)(nil)
