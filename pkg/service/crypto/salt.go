package crypto

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

var (
	ErrSaltNotFound = errors.New("installation salt not found")
	ErrSaltExists   = errors.New("installation salt already exists")
	ErrSaltCorrupt  = errors.New("installation salt is corrupt")
)

const saltHeader = "concierge-salt-v1:"

// SaltStore persists the single installation salt. Create must fail with
// ErrSaltExists rather than overwrite an existing salt.
type SaltStore interface {
	Load(ctx context.Context) ([]byte, error)
	Create(ctx context.Context, salt []byte) error
	Location() string
}

func encodeSalt(salt []byte) []byte {
	return []byte(saltHeader + hex.EncodeToString(salt) + "\n")
}

func decodeSalt(data []byte) ([]byte, error) {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, saltHeader) {
		return nil, goerr.Wrap(ErrSaltCorrupt, "missing salt header")
	}
	salt, err := hex.DecodeString(strings.TrimPrefix(s, saltHeader))
	if err != nil {
		return nil, goerr.Wrap(ErrSaltCorrupt, "salt is not hex encoded")
	}
	if len(salt) != SaltSize {
		return nil, goerr.Wrap(ErrSaltCorrupt, "unexpected salt length", goerr.V("length", len(salt)))
	}
	return salt, nil
}

// LoadOrCreateSalt loads the salt, creating it only when none exists and
// create is true. A corrupt salt is never replaced.
func LoadOrCreateSalt(ctx context.Context, store SaltStore, create bool) ([]byte, error) {
	salt, err := store.Load(ctx)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, ErrSaltNotFound) {
		return nil, goerr.Wrap(err, "failed to load salt", goerr.V("location", store.Location()))
	}
	if !create {
		return nil, goerr.Wrap(err, "run `concierge salt init` first", goerr.V("location", store.Location()))
	}

	salt, err = GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := store.Create(ctx, salt); err != nil {
		if errors.Is(err, ErrSaltExists) {
			// Lost a creation race; the winner's salt is authoritative.
			return store.Load(ctx)
		}
		return nil, goerr.Wrap(err, "failed to create salt", goerr.V("location", store.Location()))
	}

	logging.From(ctx).Info("created installation salt", "location", store.Location())
	return salt, nil
}
