package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStorage writes attachments to a directory and serves them as
// server-relative /uploads URLs. Default for development and tests, where no
// object storage exists.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates the upload directory if needed.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

// Save stores the file under a unique name inside the upload directory.
func (l *LocalStorage) Save(ctx context.Context, in SaveInput) (*SaveOutput, error) {
	key := uuid.New().String() + extension(in.Filename)

	f, err := os.Create(filepath.Join(l.dir, key))
	if err != nil {
		return nil, fmt.Errorf("creating attachment file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, in.Reader)
	if err != nil {
		return nil, fmt.Errorf("writing attachment file: %w", err)
	}

	return &SaveOutput{
		URL:  "/uploads/" + key,
		Kind: KindFromContentType(in.ContentType),
		Key:  key,
		Size: n,
	}, nil
}

// Dir returns the directory attachments are written to.
func (l *LocalStorage) Dir() string {
	return l.dir
}
