package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/blockpatch/internal/apperr"
	"github.com/starford/blockpatch/internal/checksum"
	"github.com/starford/blockpatch/internal/document"
)

func tempDocs(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempDocs(t)
	content := []byte(`[]`)
	if err := s.Write("doc", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("doc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "doc.json")); err != nil {
		t.Errorf("document file missing: %v", err)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempDocs(t)
	if err := s.Write("a/b/c", []byte("[]")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("content = %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	s := tempDocs(t)
	if _, err := s.Read("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("del", []byte("[]"))
	if err := s.Delete("del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del"); err == nil {
		t.Error("expected error reading deleted document")
	}
	if err := s.Delete("del"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestMove(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("old", []byte("[]"))
	if err := s.Move("old", "sub/new"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old"); err == nil {
		t.Error("old document should not exist")
	}
}

func TestMoveOntoExisting(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("a", []byte("[]"))
	_ = s.Write("b", []byte("[]"))
	if err := s.Move("a", "b"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("a", []byte("[]"))
	_ = s.Write("sub/b", []byte("[]"))
	_ = os.WriteFile(filepath.Join(s.Root(), "readme.txt"), []byte("not a document"), 0o644)

	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	ids := map[string]bool{}
	for _, m := range items {
		ids[m.ID] = true
		if m.Checksum != checksum.Sum([]byte("[]")) {
			t.Errorf("checksum of %s = %s", m.ID, m.Checksum)
		}
	}
	if !ids["a"] || !ids["sub/b"] {
		t.Errorf("ids = %v", ids)
	}
}

func TestIDOf(t *testing.T) {
	cases := []struct {
		rel string
		id  string
		ok  bool
	}{
		{"a.json", "a", true},
		{filepath.Join("x", "y.json"), "x/y", true},
		{"a.md", "", false},
		{".blockpatch-tmp-1", "", false},
		{".hidden.json", "", false},
	}
	for _, tc := range cases {
		id, ok := IDOf(tc.rel)
		if id != tc.id || ok != tc.ok {
			t.Errorf("IDOf(%q) = %q, %v", tc.rel, id, ok)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := tempDocs(t)
	v := document.Value{document.NewTextBlock("a", "normal", document.NewSpan("s", "hi"))}
	sum, err := Save(s, "doc", v)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, loaded, err := Load(s, "doc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(v) || loaded != sum {
		t.Errorf("got %v checksum %s, want %s", got, loaded, sum)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("bad", []byte(`{"not":"an array"}`))
	if _, _, err := Load(s, "bad"); err == nil {
		t.Error("expected decode error")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempDocs(t)

	cases := []string{
		"../../etc/passwd",
		"../outside",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for id %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	s := tempDocs(t)
	_ = s.Write("atomic", []byte(`[]`))

	updated := []byte(`[{"_key":"a","_type":"image"}]`)
	if err := s.Write("atomic", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, TempPattern))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/blockpatch-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "blockpatch-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
