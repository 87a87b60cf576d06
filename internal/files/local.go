package files

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local stores files under root, sharded by upload date and document id.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) Save(ctx context.Context, r io.Reader, documentID, fileName, mimeType string) (SavedFile, error) {
	name := SanitizeFileName(fileName)
	dir := filepath.Join(l.root, time.Now().UTC().Format("2006/01"), documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SavedFile{}, fmt.Errorf("create upload dir: %w", err)
	}

	target := filepath.Join(dir, name)
	// Collision-safe rename: file-1.pdf, file-2.pdf, ...
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}

	out, err := os.Create(target)
	if err != nil {
		return SavedFile{}, fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return SavedFile{}, fmt.Errorf("write file: %w", err)
	}

	rel, err := filepath.Rel(l.root, target)
	if err != nil {
		return SavedFile{}, fmt.Errorf("relativize path: %w", err)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	return SavedFile{
		Path:     filepath.ToSlash(rel),
		FileName: filepath.Base(target),
		Size:     size,
		MimeType: mimeType,
	}, nil
}

// Open resolves the stored path against the root and rejects anything
// that escapes it.
func (l *Local) Open(ctx context.Context, storedPath string) (io.ReadCloser, int64, string, error) {
	full, err := l.resolve(storedPath)
	if err != nil {
		return nil, 0, "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, 0, "", fmt.Errorf("stat file: %w", err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, "", fmt.Errorf("open file: %w", err)
	}
	return f, info.Size(), mime.TypeByExtension(filepath.Ext(full)), nil
}

func (l *Local) Delete(ctx context.Context, storedPath string) error {
	full, err := l.resolve(storedPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (l *Local) resolve(storedPath string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(storedPath))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if abs != l.root && !strings.HasPrefix(abs, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes uploads root")
	}
	return abs, nil
}

// SanitizeFileName strips directory components and characters that are
// unsafe in a filesystem or Content-Disposition context.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
