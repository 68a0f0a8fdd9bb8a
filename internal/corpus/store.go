// Package corpus manages the on-disk document collection that feeds the
// vector index: the source files themselves plus a metadata sidecar holding
// the per-file description and ingestion timestamp.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// metadataFile is the sidecar holding per-document metadata, keyed by the
// sanitized filename. It lives inside the corpus directory and is excluded
// from listings.
const metadataFile = "metadata.json"

var (
	// ErrUnsupportedFormat indicates a file extension outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrNotFound indicates the named document does not exist in the corpus.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyFilename indicates a filename that is empty after sanitization.
	ErrEmptyFilename = errors.New("empty filename")
)

// supportedExtensions is the ingestion allow-list.
var supportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// DocumentInfo describes one document in the corpus.
type DocumentInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// docMeta is the sidecar entry for one document.
type docMeta struct {
	Description string    `json:"description"`
	AddedAt     time.Time `json:"addedAt"`
}

// Store manages documents under a single directory.
// Store is safe for concurrent use; the sidecar is guarded by a mutex.
type Store struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex // guards metadata sidecar read-modify-write
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating corpus directory: %w", err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the corpus root directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns all documents sorted by name. The metadata sidecar and hidden
// files are excluded.
func (s *Store) List() ([]DocumentInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory: %w", err)
	}

	meta, err := s.readMeta()
	if err != nil {
		return nil, err
	}

	docs := make([]DocumentInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == metadataFile || strings.HasPrefix(name, ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable corpus entry", "name", name, "error", err)
			continue
		}

		doc := DocumentInfo{
			Name: name,
			Path: filepath.Join(s.dir, name),
			Size: info.Size(),
			Type: strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		}
		if m, ok := meta[name]; ok {
			doc.Description = m.Description
			doc.CreatedAt = m.AddedAt
		} else {
			doc.CreatedAt = info.ModTime()
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Add writes a document into the corpus and records its description in the
// sidecar. The filename is reduced to its base name so a caller-supplied path
// cannot escape the corpus directory. Unsupported extensions are rejected
// with ErrUnsupportedFormat.
func (s *Store) Add(filename string, content []byte, description string) (DocumentInfo, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return DocumentInfo{}, fmt.Errorf("%w: %q", ErrEmptyFilename, filename)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !supportedExtensions[ext] {
		return DocumentInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return DocumentInfo{}, fmt.Errorf("writing document %q: %w", name, err)
	}

	addedAt := time.Now()
	if err := s.updateMeta(func(meta map[string]docMeta) {
		meta[name] = docMeta{Description: description, AddedAt: addedAt}
	}); err != nil {
		return DocumentInfo{}, err
	}

	s.logger.Info("document added", "name", name, "bytes", len(content))

	return DocumentInfo{
		Name:        name,
		Path:        path,
		Size:        int64(len(content)),
		Type:        strings.TrimPrefix(ext, "."),
		Description: description,
		CreatedAt:   addedAt,
	}, nil
}

// Delete removes a document and its sidecar entry. A missing document is
// reported as ErrNotFound, distinct from other I/O failures.
func (s *Store) Delete(filename string) error {
	name := SanitizeFilename(filename)
	if name == "" || name == metadataFile {
		return fmt.Errorf("%w: %q", ErrNotFound, filename)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("deleting document %q: %w", name, err)
	}

	if err := s.updateMeta(func(meta map[string]docMeta) {
		delete(meta, name)
	}); err != nil {
		return err
	}

	s.logger.Info("document deleted", "name", name)
	return nil
}

// SanitizeFilename strips any directory component from a caller-supplied
// filename, leaving only a base name safe to join with the corpus directory.
func SanitizeFilename(filename string) string {
	// Normalize Windows-style separators before taking the base name.
	name := strings.ReplaceAll(filename, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// readMeta loads the sidecar map. A missing sidecar is an empty map.
func (s *Store) readMeta() (map[string]docMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMetaLocked()
}

func (s *Store) readMetaLocked() (map[string]docMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]docMeta{}, nil
		}
		return nil, fmt.Errorf("reading metadata sidecar: %w", err)
	}

	meta := map[string]docMeta{}
	if err := json.Unmarshal(data, &meta); err != nil {
		// A corrupt sidecar should not brick the corpus; descriptions are
		// lost but the documents themselves remain authoritative.
		s.logger.Warn("metadata sidecar corrupt, starting fresh", "error", err)
		return map[string]docMeta{}, nil
	}
	return meta, nil
}

// updateMeta applies fn to the sidecar map under the lock and persists it.
func (s *Store) updateMeta(fn func(map[string]docMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetaLocked()
	if err != nil {
		return err
	}
	fn(meta)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, metadataFile), data, 0o640); err != nil {
		return fmt.Errorf("writing metadata sidecar: %w", err)
	}
	return nil
}
