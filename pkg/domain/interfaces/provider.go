package interfaces

import (
	"context"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// GenerationProvider is one LLM backend. Generate never returns a Go error;
// every failure is expressed as a RetryableFailure or FatalFailure outcome.
type GenerationProvider interface {
	ID() types.ProviderID
	Generate(ctx context.Context, prompt *model.Prompt) model.Outcome
}

// Prober is implemented by providers that support a cheap liveness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Embedder turns text into fixed-dimension vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Classifier produces a RoutingDecision. Implementations must not return an
// error; failures degrade to model.DefaultRoutingDecision.
type Classifier interface {
	Classify(ctx context.Context, text string, history []model.Message) model.RoutingDecision
}

// Notifier delivers events to an external sink. Callers never wait on delivery.
type Notifier interface {
	Notify(ctx context.Context, ev *model.Event)
}

// Cipher is the authenticated encryption used for stored content
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// UsageRecorder appends one ledger entry per provider call
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec *model.UsageRecord, b config.Budget) error
}
