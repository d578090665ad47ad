package crypto

import (
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/utils/safe"
	"google.golang.org/api/googleapi"
)

// GCSSaltStore keeps the salt in a Cloud Storage object. Creation uses a
// DoesNotExist precondition so concurrent installs cannot overwrite it.
type GCSSaltStore struct {
	client *storage.Client
	bucket string
	object string
}

func NewGCSSaltStore(client *storage.Client, bucket, object string) *GCSSaltStore {
	return &GCSSaltStore{client: client, bucket: bucket, object: object}
}

func (s *GCSSaltStore) Location() string {
	return "gs://" + s.bucket + "/" + s.object
}

func (s *GCSSaltStore) Load(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrSaltNotFound
		}
		return nil, goerr.Wrap(err, "failed to open salt object", goerr.V("location", s.Location()))
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read salt object", goerr.V("location", s.Location()))
	}
	return decodeSalt(data)
}

func (s *GCSSaltStore) Create(ctx context.Context, salt []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.object).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain"

	if _, err := w.Write(encodeSalt(salt)); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write salt object", goerr.V("location", s.Location()))
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrSaltExists
		}
		return goerr.Wrap(err, "failed to create salt object", goerr.V("location", s.Location()))
	}
	return nil
}
