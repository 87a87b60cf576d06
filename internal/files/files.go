// Package files stores uploaded revision files, either on the local
// filesystem or in an S3-compatible object store.
package files

import (
	"context"
	"io"
)

// SavedFile is the metadata recorded on the revision row.
type SavedFile struct {
	Path     string
	FileName string
	Size     int64
	MimeType string
}

type Storage interface {
	Save(ctx context.Context, r io.Reader, documentID, fileName, mimeType string) (SavedFile, error)
	Open(ctx context.Context, path string) (io.ReadCloser, int64, string, error)
	Delete(ctx context.Context, path string) error
}
