// Package cache stores uploaded file bytes on disk keyed by content hash, so
// follow-up analysis requests can reference a file id instead of re-uploading
// hundreds of megabytes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a file id has no cached payload.
var ErrNotFound = errors.New("cache: file not found")

// Metadata is the JSON sidecar stored next to each cached file.
type Metadata struct {
	Filename  string   `json:"filename"`
	HasHeader bool     `json:"has_header"`
	Ext       string   `json:"ext"`
	Columns   []string `json:"columns"`
	Rows      int      `json:"rows"`
}

// Store is a directory of content-addressed uploads. The directory is a
// request-scoped dependency passed in by the caller; there is no process-wide
// default.
type Store struct {
	dir string
}

// New creates the cache directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// FileID derives the identifier for a payload: the first 16 hex characters of
// its sha256 followed by the original filename. Identical bytes map to the
// same id regardless of upload order.
func FileID(contents []byte, filename string) string {
	sum := sha256.Sum256(contents)
	return hex.EncodeToString(sum[:])[:16] + "_" + sanitize(filename)
}

// Put stores contents under its derived id and returns that id.
func (s *Store) Put(contents []byte, filename string) (string, error) {
	id := FileID(contents, filename)
	if err := os.WriteFile(s.path(id), contents, 0o644); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	return id, nil
}

// Get returns the cached payload for id.
func (s *Store) Get(id string) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return data, nil
}

// Has reports whether id exists in the cache.
func (s *Store) Has(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// PutMetadata writes the JSON sidecar for id.
func (s *Store) PutMetadata(id string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := os.WriteFile(s.path(id)+".metadata.json", data, 0o644); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// GetMetadata reads the JSON sidecar for id.
func (s *Store) GetMetadata(id string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(s.path(id) + ".metadata.json")
	if errors.Is(err, os.ErrNotExist) {
		return meta, fmt.Errorf("%w: metadata for %s", ErrNotFound, id)
	}
	if err != nil {
		return meta, fmt.Errorf("cache: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("cache: %w", err)
	}
	return meta, nil
}

// OriginalFilename recovers the uploaded filename from a file id.
func OriginalFilename(id string) string {
	if _, name, ok := strings.Cut(id, "_"); ok {
		return name
	}
	return id
}

func (s *Store) path(id string) string {
	// The id embeds a client-supplied filename; keep lookups inside the
	// cache directory.
	return filepath.Join(s.dir, sanitize(id))
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, name)
}
