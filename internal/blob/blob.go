// Package blob stores uploaded files and hands back the address they are served from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrEmpty is returned when an upload carries no bytes.
var ErrEmpty = errors.New("empty upload")

// Store uploads a file under a key prefix and returns its public address.
type Store interface {
	Upload(ctx context.Context, prefix, filename string, r io.Reader) (string, error)
}

// DiskStore keeps files under a directory served at baseURL.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory files are written to.
func (d *DiskStore) Dir() string { return d.dir }

// Upload writes r to <prefix>/<uuid><ext>, where ext comes from filename.
func (d *DiskStore) Upload(ctx context.Context, prefix, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := path.Join(cleanPrefix(prefix), uuid.NewString()+strings.ToLower(path.Ext(filename)))
	full := filepath.Join(d.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmpty
	}
	if err != nil {
		_ = os.Remove(full)
		return "", err
	}
	return d.baseURL + "/" + rel, nil
}

// cleanPrefix keeps a prefix inside the store directory.
func cleanPrefix(prefix string) string {
	var parts []string
	for _, p := range strings.Split(prefix, "/") {
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	return path.Join(parts...)
}
