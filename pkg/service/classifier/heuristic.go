package classifier

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// Heuristic classifies with keyword rules and message length. It needs no
// backend and is the default when no classifier provider is configured.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

type rule struct {
	re         *regexp.Regexp
	intent     types.Intent
	confidence float64
}

// rules are evaluated in order; recall phrasing must precede store phrasing.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(do you remember|what did i (say|tell)|recall|remind me what|what do you know about me)\b`), types.IntentMemoryRecall, 0.85},
	{regexp.MustCompile(`(?i)\b(remember|don'?t forget|note (that|down)|keep in mind|save (this|that))\b`), types.IntentMemoryStore, 0.85},
	{regexp.MustCompile(`(?i)\b(write|implement|refactor|analy[sz]e|design|plan|compare|debug|explain in detail|step by step|draft)\b`), types.IntentComplexTask, 0.75},
}

const (
	shortMessageRunes = 120
	longMessageRunes  = 600
)

func (h *Heuristic) Classify(ctx context.Context, text string, history []model.Message) model.RoutingDecision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.DefaultRoutingDecision("empty message")
	}

	for _, r := range rules {
		if r.re.MatchString(trimmed) {
			return model.RoutingDecision{Intent: r.intent, Confidence: r.confidence}
		}
	}

	n := utf8.RuneCountInString(trimmed)
	switch {
	case n >= longMessageRunes:
		return model.RoutingDecision{Intent: types.IntentComplexTask, Confidence: 0.6}
	case n <= shortMessageRunes && strings.HasSuffix(trimmed, "?"):
		return model.RoutingDecision{Intent: types.IntentSimpleQuery, Confidence: 0.8}
	case n <= shortMessageRunes:
		return model.RoutingDecision{Intent: types.IntentSimpleQuery, Confidence: 0.6}
	default:
		return model.RoutingDecision{Intent: types.IntentOther, Confidence: 0.5}
	}
}
