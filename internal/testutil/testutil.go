// Package testutil provides shared test helpers for setting up document
// stores and journals.
package testutil

import (
	"os"
	"strconv"
	"testing"

	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/journal"
	"github.com/starford/blockpatch/internal/storage"
)

// TestJournal creates a temporary SQLite journal that is automatically cleaned up.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "blockpatch-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary documents directory with a storage provider.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Keys returns a deterministic key generator producing prefix0, prefix1, ...
func Keys(prefix string) document.KeyGenerator {
	return document.NewSequenceKeys(prefix)
}

// Paragraphs builds a document of normal text blocks keyed b0, b1, ... with
// spans keyed s0, s1, ...
func Paragraphs(texts ...string) document.Value {
	v := make(document.Value, len(texts))
	for i, t := range texts {
		v[i] = document.NewTextBlock("b"+strconv.Itoa(i), "normal", document.NewSpan("s"+strconv.Itoa(i), t))
	}
	return v
}
