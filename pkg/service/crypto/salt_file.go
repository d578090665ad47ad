package crypto

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/secmon-lab/concierge/pkg/utils/safe"
)

var syncFile = (*os.File).Sync

// FileSaltStore keeps the salt in a local file created with mode 0600.
type FileSaltStore struct {
	path string
}

func NewFileSaltStore(path string) *FileSaltStore {
	return &FileSaltStore{path: path}
}

func (s *FileSaltStore) Location() string {
	return s.path
}

func (s *FileSaltStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSaltNotFound
		}
		return nil, goerr.Wrap(err, "failed to read salt file", goerr.V("path", s.path))
	}
	return decodeSalt(data)
}

func (s *FileSaltStore) Create(ctx context.Context, salt []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return goerr.Wrap(err, "failed to create salt directory", goerr.V("path", s.path))
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrSaltExists
		}
		return goerr.Wrap(err, "failed to create salt file", goerr.V("path", s.path))
	}
	defer safe.Close(ctx, f)

	if _, err := f.Write(encodeSalt(salt)); err != nil {
		s.discard(ctx)
		return goerr.Wrap(err, "failed to write salt file", goerr.V("path", s.path))
	}
	if err := syncFile(f); err != nil {
		s.discard(ctx)
		return goerr.Wrap(err, "failed to sync salt file", goerr.V("path", s.path))
	}
	return nil
}

// discard removes a partially written salt so the next Create can retry
func (s *FileSaltStore) discard(ctx context.Context) {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.From(ctx).Error("failed to remove partial salt file", "path", s.path, "error", err.Error())
	}
}
