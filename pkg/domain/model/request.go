package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// Request is what a transport delivers to the broker.
type Request struct {
	ID      RequestID
	Owner   types.OwnerID
	Channel types.ChannelRef
	Text    string
}

// Response is returned to the transport. Denial is set when Success is false
// because a policy rejected the request.
type Response struct {
	RequestID RequestID
	Text      string
	Success   bool
	Provider  types.ProviderID
	Decision  RoutingDecision
	Denial    *PolicyDenial
	// Discarded is true when the caller cancelled and the result was not stored
	Discarded bool
	Elapsed   time.Duration
}

// RequestContext is assembled once per request and reused across fallbacks.
type RequestContext struct {
	History     []Message
	Memories    []*Memory
	QueryVector []float32
}
