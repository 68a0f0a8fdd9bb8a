package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mkrale/lore/internal/log"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAdd_And_List(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Add("notes.md", []byte("# Notes\n\nsome text"), "meeting notes"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add("readme.txt", []byte("plain text"), ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	docs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	// Sorted by name, sidecar excluded.
	if docs[0].Name != "notes.md" || docs[1].Name != "readme.txt" {
		t.Errorf("unexpected order: %q, %q", docs[0].Name, docs[1].Name)
	}
	if docs[0].Description != "meeting notes" {
		t.Errorf("description = %q, want %q", docs[0].Description, "meeting notes")
	}
	if docs[0].Type != "md" {
		t.Errorf("type = %q, want md", docs[0].Type)
	}
	if docs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if docs[1].Size != int64(len("plain text")) {
		t.Errorf("size = %d, want %d", docs[1].Size, len("plain text"))
	}
}

func TestAdd_RejectsUnsupportedFormat(t *testing.T) {
	s := newTestStore(t)

	tests := []string{"malware.exe", "archive.zip", "image.png", "noextension"}
	for _, name := range tests {
		if _, err := s.Add(name, []byte("payload"), ""); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Add(%q) error = %v, want ErrUnsupportedFormat", name, err)
		}
	}

	// The document list must be unchanged.
	docs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents after rejected adds, want 0", len(docs))
	}
}

func TestAdd_SanitizesPathTraversal(t *testing.T) {
	s := newTestStore(t)

	info, err := s.Add("../../etc/passwd.txt", []byte("content"), "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if info.Name != "passwd.txt" {
		t.Errorf("sanitized name = %q, want passwd.txt", info.Name)
	}
	if filepath.Dir(info.Path) != s.Dir() {
		t.Errorf("document written outside corpus dir: %q", info.Path)
	}

	// Windows-style separators are stripped too.
	info, err = s.Add(`..\..\evil.md`, []byte("x"), "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if info.Name != "evil.md" {
		t.Errorf("sanitized name = %q, want evil.md", info.Name)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Add("doc.txt", []byte("content"), "desc"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete("doc.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	docs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents after delete, want 0", len(docs))
	}

	// Metadata entry is gone as well: re-adding starts clean.
	if _, err := s.Add("doc.txt", []byte("new"), ""); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	docs, _ = s.List()
	if docs[0].Description != "" {
		t.Errorf("stale description survived delete: %q", docs[0].Description)
	}
}

func TestDelete_NotFound(t *testing.T) {
	s := newTestStore(t)

	if err := s.Delete("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
	// The sidecar itself must not be deletable through the API.
	if err := s.Delete(metadataFile); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(sidecar) error = %v, want ErrNotFound", err)
	}
}

func TestContent_TextVerbatim(t *testing.T) {
	s := newTestStore(t)

	text := "line one\nline two\n"
	if _, err := s.Add("doc.txt", []byte(text), ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.Content("doc.txt")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if got != text {
		t.Errorf("Content = %q, want %q", got, text)
	}
}

func TestContent_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Content("missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Content(missing) error = %v, want ErrNotFound", err)
	}
}

func TestContent_BrokenPDFFailsWithoutPanic(t *testing.T) {
	s := newTestStore(t)

	// Not a real PDF; extraction must fail with an error, not a panic, so the
	// indexer can log and skip it during a bulk load.
	if _, err := s.Add("broken.pdf", []byte("this is not a pdf"), ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Content("broken.pdf"); err == nil {
		t.Error("Content(broken.pdf) succeeded, want extraction error")
	}
}

func TestList_ExcludesHiddenAndSidecar(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Add("visible.txt", []byte("x"), ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Drop a hidden file directly into the corpus directory.
	if err := os.WriteFile(filepath.Join(s.Dir(), ".hidden"), []byte("x"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	docs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "visible.txt" {
		t.Errorf("List = %+v, want only visible.txt", docs)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"doc.txt", "doc.txt"},
		{"/abs/path/doc.txt", "doc.txt"},
		{"../../doc.txt", "doc.txt"},
		{`c:\temp\doc.txt`, "doc.txt"},
		{"..", ""},
		{".", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
