package usecase_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/service/crypto"
)

// wordEmbedder hashes words into a small vector so texts sharing words are similar
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

const testDimension = 32

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vec := make([]float32, testDimension)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%testDimension] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func (e *wordEmbedder) Dimension() int { return testDimension }

func (e *wordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var errEmbedding = errors.New("embedding backend down")

func newCipher(t *testing.T) *crypto.AESGCM {
	t.Helper()
	salt, err := crypto.GenerateSalt()
	gt.NoError(t, err).Required()
	c, err := crypto.New(crypto.DeriveKey("test passphrase", salt))
	gt.NoError(t, err).Required()
	return c
}
