package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/crypto"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// MemoryUseCase manages the owner's long-term memory records
type MemoryUseCase struct {
	repo     interfaces.Repository
	embedder interfaces.Embedder
	cipher   interfaces.Cipher
	clock    clock.Clock
}

func NewMemoryUseCase(repo interfaces.Repository, embedder interfaces.Embedder, cipher interfaces.Cipher, clk clock.Clock) *MemoryUseCase {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryUseCase{
		repo:     repo,
		embedder: embedder,
		cipher:   cipher,
		clock:    clk,
	}
}

// RememberInput describes a new memory record. Kind defaults to explicit,
// or correction when Supersedes is set.
type RememberInput struct {
	Owner      types.OwnerID
	Text       string
	Channel    types.ChannelRef
	Kind       types.RecordKind
	Supersedes model.MemoryID
}

// Remember embeds and encrypts text and stores it as a new record.
func (uc *MemoryUseCase) Remember(ctx context.Context, in RememberInput) (*model.Memory, error) {
	if err := in.Owner.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid owner")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, goerr.Wrap(ErrEmptyMessage, "cannot remember empty text", goerr.V(OwnerKey, in.Owner))
	}

	kind := in.Kind
	if kind == "" {
		kind = types.RecordKindExplicit
	}
	if in.Supersedes != "" {
		if _, err := uc.repo.Memory().Get(ctx, in.Owner, in.Supersedes); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, goerr.Wrap(ErrMemoryNotFound, "superseded memory does not exist",
					goerr.V(OwnerKey, in.Owner), goerr.V(MemoryIDKey, in.Supersedes))
			}
			return nil, goerr.Wrap(err, "failed to look up superseded memory", goerr.V(MemoryIDKey, in.Supersedes))
		}
		kind = types.RecordKindCorrection
	}

	vec, err := uc.embedder.Embed(model.WithOwner(ctx, in.Owner), text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory", goerr.V(OwnerKey, in.Owner))
	}
	ciphertext, err := uc.cipher.Encrypt([]byte(text))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encrypt memory", goerr.V(OwnerKey, in.Owner))
	}

	rec := &model.MemoryRecord{
		ID:         model.NewMemoryID(),
		Owner:      in.Owner,
		Vector:     vec,
		Ciphertext: ciphertext,
		Metadata: model.MemoryMetadata{
			Kind:       kind,
			ChannelRef: in.Channel,
			CreatedAt:  uc.clock.Now(),
			Supersedes: in.Supersedes,
		},
	}
	if err := uc.repo.Memory().Put(ctx, rec); err != nil {
		return nil, goerr.Wrap(err, "failed to store memory", goerr.V(OwnerKey, in.Owner), goerr.V(MemoryIDKey, rec.ID))
	}

	logging.From(ctx).Info("memory stored",
		"owner", in.Owner,
		"memory_id", rec.ID,
		"kind", kind,
	)

	return &model.Memory{
		ID:         rec.ID,
		Text:       text,
		Kind:       kind,
		ChannelRef: in.Channel,
		Supersedes: in.Supersedes,
		CreatedAt:  rec.Metadata.CreatedAt,
	}, nil
}

// Forget deletes one record. Corrections pointing at it are kept.
func (uc *MemoryUseCase) Forget(ctx context.Context, owner types.OwnerID, id model.MemoryID) error {
	if err := owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid owner")
	}
	if _, err := uc.repo.Memory().Get(ctx, owner, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return goerr.Wrap(ErrMemoryNotFound, "memory not found", goerr.V(OwnerKey, owner), goerr.V(MemoryIDKey, id))
		}
		return goerr.Wrap(err, "failed to get memory", goerr.V(MemoryIDKey, id))
	}
	if err := uc.repo.Memory().Delete(ctx, owner, id); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V(OwnerKey, owner), goerr.V(MemoryIDKey, id))
	}
	logging.From(ctx).Info("memory forgotten", "owner", owner, "memory_id", id)
	return nil
}

// ErasureReport counts what Erase removed
type ErasureReport struct {
	Memories     int
	HistoryTurns int
	UsageRecords int
}

// Erase removes every memory, history turn and ledger row of owner.
func (uc *MemoryUseCase) Erase(ctx context.Context, owner types.OwnerID) (*ErasureReport, error) {
	if err := owner.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid owner")
	}

	var report ErasureReport
	var err error
	if report.Memories, err = uc.repo.Memory().DeleteAll(ctx, owner); err != nil {
		return nil, goerr.Wrap(err, "failed to erase memories", goerr.V(OwnerKey, owner))
	}
	if report.HistoryTurns, err = uc.repo.History().DeleteAll(ctx, owner); err != nil {
		return nil, goerr.Wrap(err, "failed to erase history", goerr.V(OwnerKey, owner))
	}
	if report.UsageRecords, err = uc.repo.Usage().DeleteOwner(ctx, owner); err != nil {
		return nil, goerr.Wrap(err, "failed to erase usage records", goerr.V(OwnerKey, owner))
	}

	logging.From(ctx).Info("account erased",
		"owner", owner,
		"memories", report.Memories,
		"history", report.HistoryTurns,
		"usage", report.UsageRecords,
	)
	return &report, nil
}

// List returns the owner's memories newest first, including superseded ones.
// Records that cannot be decrypted are skipped.
func (uc *MemoryUseCase) List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.Memory, error) {
	if err := owner.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid owner")
	}
	records, err := uc.repo.Memory().List(ctx, owner, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V(OwnerKey, owner))
	}

	memories := make([]*model.Memory, 0, len(records))
	for _, rec := range records {
		if m, ok := decryptMemory(ctx, uc.cipher, rec, 0); ok {
			memories = append(memories, m)
		}
	}
	return memories, nil
}

// decryptMemory opens rec. Tampered, legacy and undecryptable payloads are
// logged and skipped so they never surface as wrong plaintext.
func decryptMemory(ctx context.Context, cipher interfaces.Cipher, rec *model.MemoryRecord, score float64) (*model.Memory, bool) {
	plain, err := cipher.Decrypt(rec.Ciphertext)
	if err != nil {
		logDecryptFailure(ctx, err, "memory_id", rec.ID.String())
		return nil, false
	}
	return &model.Memory{
		ID:         rec.ID,
		Text:       string(plain),
		Kind:       rec.Metadata.Kind,
		ChannelRef: rec.Metadata.ChannelRef,
		Supersedes: rec.Metadata.Supersedes,
		CreatedAt:  rec.Metadata.CreatedAt,
		Score:      score,
	}, true
}

func decryptMessage(ctx context.Context, cipher interfaces.Cipher, entry *model.HistoryEntry) (model.Message, bool) {
	plain, err := cipher.Decrypt(entry.Ciphertext)
	if err != nil {
		logDecryptFailure(ctx, err, "history_id", string(entry.ID))
		return model.Message{}, false
	}
	return model.Message{
		Role:      entry.Role,
		Text:      string(plain),
		CreatedAt: entry.CreatedAt,
	}, true
}

func logDecryptFailure(ctx context.Context, err error, key, id string) {
	logger := logging.From(ctx)
	if errors.Is(err, crypto.ErrLegacyPlaintext) {
		logger.Warn("skipping unencrypted legacy payload", key, id)
		return
	}
	logger.Warn("skipping payload that failed decryption", key, id, "error", err.Error())
}
