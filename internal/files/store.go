// Package files provides disk-backed storage for uploaded chat images.
// Uploads are assigned opaque ids; the original filename is never kept, so
// nothing user-identifying leaks through the file layer.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxUploadBytes caps a single upload.
const MaxUploadBytes = 5 << 20 // 5 MiB

// allowedTypes maps accepted content types to their stored extension.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store saves uploads under a single directory, one file per id.
type Store struct {
	dir string
}

// NewStore creates the upload directory if needed and returns a store for it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("files: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes an upload and returns its assigned id. The content type must be
// an accepted image type; the reader is capped at MaxUploadBytes.
func (s *Store) Save(contentType string, r io.Reader) (string, error) {
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", fmt.Errorf("files: unsupported content type %q", contentType)
	}

	id := uuid.New().String() + ext
	f, err := os.Create(filepath.Join(s.dir, id))
	if err != nil {
		return "", fmt.Errorf("files: create: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("files: write: %w", err)
	}
	if n > MaxUploadBytes {
		os.Remove(f.Name())
		return "", fmt.Errorf("files: upload exceeds %d bytes", MaxUploadBytes)
	}
	return id, nil
}

// Open returns a reader for a stored file plus its content type. The id is
// validated against traversal before touching the filesystem.
func (s *Store) Open(id string) (io.ReadCloser, string, error) {
	if !ValidID(id) {
		return nil, "", fmt.Errorf("files: invalid id %q", id)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, "", fmt.Errorf("files: open: %w", err)
	}

	contentType := "application/octet-stream"
	ext := filepath.Ext(id)
	for ct, e := range allowedTypes {
		if e == ext {
			contentType = ct
			break
		}
	}
	return f, contentType, nil
}

// ValidID reports whether id looks like an id this store issued: a UUID plus
// a known extension, no path separators.
func ValidID(id string) bool {
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return false
	}
	ext := filepath.Ext(id)
	known := false
	for _, e := range allowedTypes {
		if e == ext {
			known = true
			break
		}
	}
	if !known {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(id, ext))
	return err == nil
}
