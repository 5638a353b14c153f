// Package docstore persists large source attachments outside the
// relational model. The structured tables keep only a DocumentRef; the
// bytes live behind this interface.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes attachment bytes and returns a stable storage URI plus
// the SHA-256 of what was written.
type Store interface {
	Put(ctx context.Context, ocid, filename string, r io.Reader) (uri, contentHash string, err error)
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FSStore is a filesystem-backed Store rooted at a single directory.
// Files are laid out as <root>/<ocid>/<uuid>-<filename> so one process's
// attachments are browsable together and names never collide.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("docstore root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

// Put streams r to disk, hashing as it writes. The returned URI uses the
// file scheme and is what DocumentRef.StorageURI stores.
func (s *FSStore) Put(ctx context.Context, ocid, filename string, r io.Reader) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	dir := filepath.Join(s.root, sanitize(ocid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}

	path := filepath.Join(dir, uuid.NewString()+"-"+sanitize(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", err
	}
	return "file://" + path, hex.EncodeToString(h.Sum(nil)), nil
}

// Open returns the stored bytes for a URI produced by Put.
func (s *FSStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(uri, "file://")
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("uri outside store root")
	}
	return os.Open(clean)
}

// sanitize keeps path segments safe: separators and parent refs become
// underscores.
func sanitize(s string) string {
	if s == "" {
		return "unnamed"
	}
	s = strings.ReplaceAll(s, "..", "_")
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '/', '\\', ':', 0:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
