package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type HistoryID string

func NewHistoryID() HistoryID {
	return HistoryID(uuid.New().String())
}

// HistoryEntry is one stored conversation turn. Content is encrypted.
type HistoryEntry struct {
	ID         HistoryID
	Owner      types.OwnerID
	Channel    types.ChannelRef
	Role       Role
	Ciphertext []byte
	CreatedAt  time.Time
}

// Message is a decrypted history turn.
type Message struct {
	Role      Role
	Text      string
	CreatedAt time.Time
}
