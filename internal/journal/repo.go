package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/checksum"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/models"
	"github.com/starford/blockpatch/internal/patch"
	"github.com/starford/blockpatch/internal/storage"
)

// DefaultPatchLimit caps Patches when limit is not positive.
const DefaultPatchLimit = 500

// SaveValue records v as the current value of docID and returns the
// document revision. The checksum is that of the value as storage writes
// it, so a file written from v matches the journal. Saving the value already
// recorded keeps the revision.
func (db *DB) SaveValue(ctx context.Context, docID string, v document.Value) (int64, error) {
	data, err := storage.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("journal: encode value: %w", err)
	}
	cs := checksum.Sum(data)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	rev, prev, err := current(ctx, tx, docID)
	if err != nil {
		return 0, err
	}
	if prev == cs {
		return rev, tx.Commit()
	}
	rev++
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, revision, checksum, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			revision   = excluded.revision,
			checksum   = excluded.checksum,
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, docID, rev, cs, string(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("journal: upsert document: %w", err)
	}
	return rev, tx.Commit()
}

// AppendPatches records ps under one new revision of docID and returns it.
func (db *DB) AppendPatches(ctx context.Context, docID string, ps []patch.Patch) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rev, _, err := current(ctx, tx, docID)
	if err != nil {
		return 0, err
	}
	rev++
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, revision, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			revision   = excluded.revision,
			updated_at = excluded.updated_at
	`, docID, rev, now)
	if err != nil {
		return 0, fmt.Errorf("journal: bump revision: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO patches (doc_id, revision, origin, patch, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("journal: prepare patch insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range ps {
		raw, err := json.Marshal(p)
		if err != nil {
			return 0, fmt.Errorf("journal: encode patch: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, docID, rev, string(p.Origin), string(raw), now); err != nil {
			return 0, fmt.Errorf("journal: insert patch: %w", err)
		}
	}
	return rev, tx.Commit()
}

func current(ctx context.Context, tx *sql.Tx, docID string) (int64, string, error) {
	var rev int64
	var cs string
	err := tx.QueryRowContext(ctx, `SELECT revision, checksum FROM documents WHERE id = ?`, docID).Scan(&rev, &cs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("journal: read revision: %w", err)
	}
	return rev, cs, nil
}

// Document returns the journal row and recorded value of docID.
func (db *DB) Document(ctx context.Context, docID string) (models.DocumentRow, document.Value, error) {
	var row models.DocumentRow
	var raw string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, revision, checksum, value, updated_at FROM documents WHERE id = ?`, docID,
	).Scan(&row.ID, &row.Revision, &row.Checksum, &raw, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return row, nil, fmt.Errorf("journal: document %s: %w", docID, apperr.ErrNotFound)
	}
	if err != nil {
		return row, nil, fmt.Errorf("journal: get document: %w", err)
	}
	v, err := document.DecodeValue([]byte(raw))
	if err != nil {
		return row, nil, fmt.Errorf("journal: decode value: %w", err)
	}
	return row, v, nil
}

// ListDocuments returns every journaled document ordered by id.
func (db *DB) ListDocuments(ctx context.Context) ([]models.DocumentRow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, revision, checksum, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("journal: list documents: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentRow
	for rows.Next() {
		var r models.DocumentRow
		if err := rows.Scan(&r.ID, &r.Revision, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Patches returns up to limit patches of docID with a revision greater than
// since, oldest first.
func (db *DB) Patches(ctx context.Context, docID string, since int64, limit int) ([]models.PatchRecord, error) {
	if limit <= 0 {
		limit = DefaultPatchLimit
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, doc_id, revision, origin, patch, created_at FROM patches
		WHERE doc_id = ? AND revision > ?
		ORDER BY seq
		LIMIT ?
	`, docID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: patches: %w", err)
	}
	defer rows.Close()

	var out []models.PatchRecord
	for rows.Next() {
		var r models.PatchRecord
		var raw string
		if err := rows.Scan(&r.Seq, &r.DocID, &r.Revision, &r.Origin, &raw, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Patch = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document and its patches.
func (db *DB) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.ExecContext(ctx, `DELETE FROM patches WHERE doc_id = ?`, docID)
	_, _ = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)

	return tx.Commit()
}

// GetChecksum returns the recorded checksum of a document, or an empty string
// if it is not journaled.
func (db *DB) GetChecksum(docID string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE id = ?`, docID).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns the recorded checksum of every document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("journal: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
