package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
	"github.com/nao1215/darc/internal/model"
)

// BlobStore keeps page bodies as files named by their SHA-256 digest:
//
//	<root>/<host>/<sha[:2]>/<sha><ext>
//
// Identical bodies of one host are stored once.
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store under root.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Root returns the directory of the store.
func (b *BlobStore) Root() string {
	return b.root
}

// Put stores body for host and returns its content reference, a slash
// separated path relative to the root. An empty body is not stored and
// yields an empty reference.
func (b *BlobStore) Put(host, contentType string, body []byte) (string, error) {
	sum := model.ContentHash(body)
	if sum == "" {
		return "", nil
	}
	ref := hostDir(host) + "/" + sum[:2] + "/" + sum + extension(contentType)
	path := filepath.Join(b.root, filepath.FromSlash(ref))

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return ref, nil
}

// Get reads the body stored under ref.
func (b *BlobStore) Get(ref string) ([]byte, error) {
	path, err := b.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to the root by Path
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Path returns the file path of ref.
func (b *BlobStore) Path(ref string) (string, error) {
	local := filepath.FromSlash(ref)
	if ref == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(b.root, local), nil
}

// Remove deletes the body stored under ref. Removing a missing blob is not an error.
func (b *BlobStore) Remove(ref string) error {
	path, err := b.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// hostDir maps a host to a single directory name. Dots are kept, a port
// separator becomes "-" and anything that could leave the root is dropped.
func hostDir(host string) string {
	name := strings.Trim(sanitize.Name(host), ".-")
	if name == "" {
		return "_"
	}
	return name
}

func extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "html"):
		return ".html"
	case strings.Contains(contentType, "json"):
		return ".json"
	case strings.Contains(contentType, "xml"):
		return ".xml"
	case strings.HasPrefix(contentType, "text/"):
		return ".txt"
	default:
		return ".bin"
	}
}
