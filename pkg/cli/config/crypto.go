package config

import (
	"context"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/service/crypto"
	"github.com/urfave/cli/v3"
)

const gcsScheme = "gs://"

// Crypto holds the encryption secret and the installation salt location
type Crypto struct {
	secret       string
	saltLocation string
}

func (x *Crypto) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encryption-secret",
			Usage:       "Secret the memory encryption key is derived from",
			Category:    "Encryption",
			Sources:     cli.EnvVars("CONCIERGE_ENCRYPTION_SECRET"),
			Destination: &x.secret,
		},
		&cli.StringFlag{
			Name:        "salt-location",
			Usage:       "Installation salt location: file path or gs://bucket/object",
			Category:    "Encryption",
			Value:       "concierge.salt",
			Sources:     cli.EnvVars("CONCIERGE_SALT_LOCATION"),
			Destination: &x.saltLocation,
		},
	}
}

func (x *Crypto) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("secret_set", x.secret != ""),
		slog.String("salt_location", x.saltLocation),
	)
}

// SaltStore opens the salt store. The returned closer releases the storage
// client of a GCS location.
func (x *Crypto) SaltStore(ctx context.Context) (crypto.SaltStore, func(), error) {
	if !strings.HasPrefix(x.saltLocation, gcsScheme) {
		return crypto.NewFileSaltStore(x.saltLocation), func() {}, nil
	}

	bucket, object, ok := strings.Cut(strings.TrimPrefix(x.saltLocation, gcsScheme), "/")
	if !ok || bucket == "" || object == "" {
		return nil, nil, goerr.Wrap(ErrInvalidConfig, "salt location must be gs://bucket/object", goerr.V(ValueKey, x.saltLocation))
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create storage client")
	}
	return crypto.NewGCSSaltStore(client, bucket, object), func() { _ = client.Close() }, nil
}

// Configure loads the salt and derives the cipher. A missing salt is created
// only when create is true.
func (x *Crypto) Configure(ctx context.Context, create bool) (*crypto.AESGCM, error) {
	if x.secret == "" {
		return nil, goerr.Wrap(ErrMissingCredentials, "encryption-secret is required")
	}

	store, closer, err := x.SaltStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closer()

	salt, err := crypto.LoadOrCreateSalt(ctx, store, create)
	if err != nil {
		return nil, err
	}
	defer clear(salt)

	c, err := crypto.NewFromSecret(x.secret, salt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create cipher")
	}
	return c, nil
}
