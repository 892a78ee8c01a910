// Package storage keeps authoritative documents as JSON files.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/blockpatch/internal/checksum"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/models"
)

// Ext is the file extension of a document.
const Ext = ".json"

// Provider is the interface for document file operations. Documents are
// addressed by id; the file of id "notes/today" is notes/today.json.
type Provider interface {
	// List returns metadata for every document.
	List() ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of a document.
	Read(id string) ([]byte, error)
	// Write atomically replaces a document.
	Write(id string, content []byte) error
	// Delete removes a document.
	Delete(id string) error
	// Move renames a document.
	Move(oldID, newID string) error
}

// PathOf returns the file path of id relative to the root.
func PathOf(id string) string {
	return filepath.FromSlash(id) + Ext
}

// IDOf returns the id of the document stored at rel, a path relative to the
// root. ok is false for files that are not documents.
func IDOf(rel string) (id string, ok bool) {
	base := filepath.Base(rel)
	if !strings.HasSuffix(base, Ext) || strings.HasPrefix(base, ".") {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, Ext)), true
}

// Load reads and decodes a document.
func Load(p Provider, id string) (document.Value, string, error) {
	data, err := p.Read(id)
	if err != nil {
		return nil, "", err
	}
	v, err := document.DecodeValue(data)
	if err != nil {
		return nil, "", fmt.Errorf("storage: decode %s: %w", id, err)
	}
	return v, checksum.Sum(data), nil
}

// Encode renders v the way documents are stored on disk.
func Encode(v document.Value) ([]byte, error) {
	if v == nil {
		v = document.Value{}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save encodes and writes a document and returns the checksum of what was
// written.
func Save(p Provider, id string, v document.Value) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", fmt.Errorf("storage: encode %s: %w", id, err)
	}
	if err := p.Write(id, data); err != nil {
		return "", err
	}
	return checksum.Sum(data), nil
}
