package classifier

import (
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
)

// Route fills PreferredTier from the routing table. Low confidence
// decisions, including the degraded default, use the low confidence tier.
func Route(d model.RoutingDecision, routing config.Routing) model.RoutingDecision {
	d.PreferredTier = routing.TierFor(d.Intent, d.Confidence)
	return d
}
