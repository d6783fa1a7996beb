package archive

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
)

// Local stores archived files below a directory.
type Local struct {
	basePath  string
	urlPrefix string
}

// NewLocal creates a filesystem archive rooted at basePath. Links are
// urlPrefix joined with the key.
func NewLocal(basePath, urlPrefix string) *Local {
	return &Local{basePath: basePath, urlPrefix: urlPrefix}
}

func (l *Local) path(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", errors.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}

func (l *Local) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	dest, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", errors.Wrapf(err, "create directory for %s", key)
	}

	// Write to a temporary file first so a failed write never leaves a
	// truncated archive behind.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*")
	if err != nil {
		return "", errors.Wrapf(err, "create file for %s", key)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "write file %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "close file %s", key)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "move file %s", key)
	}
	return l.urlPrefix + "/" + key, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove file %s", key)
	}
	return nil
}

// URL returns the link of an archived file. Local files have no expiry.
func (l *Local) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	return l.urlPrefix + "/" + key, nil
}
