package sanitizer

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"golang.org/x/text/unicode/norm"
)

// Labels reported in Result.Reason
const (
	LabelInstructionOverride = "instruction-override"
	LabelRoleReassignment    = "role-reassignment"
	LabelJailbreakKeyword    = "jailbreak-keyword"
	LabelStructuralInjection = "structural-injection"
	LabelHomoglyph           = "homoglyph-obfuscation"
)

// Result of Inspect. Reason is empty when not flagged.
type Result struct {
	Flagged bool
	Reason  string
}

type pattern struct {
	re    *regexp.Regexp
	label string
}

// patterns are evaluated in order; the first match wins.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass)\s+(all\s+|any\s+|the\s+|your\s+)*(previous|prior|above|earlier|preceding|system)\s+(instructions?|prompts?|rules?|directions?|messages?)`), LabelInstructionOverride},
	{regexp.MustCompile(`(?i)\bdo\s+not\s+follow\s+(your|the)\s+(instructions?|rules?|guidelines?)`), LabelInstructionOverride},
	{regexp.MustCompile(`(?i)\bnew\s+(system\s+)?instructions?\s*:`), LabelInstructionOverride},
	{regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\s+`), LabelRoleReassignment},
	{regexp.MustCompile(`(?i)\b(pretend|act)\s+(to\s+be|as\s+if\s+you\s+are|as)\s+(an?\s+)?(unrestricted|unfiltered|different|evil|jailbroken)`), LabelRoleReassignment},
	{regexp.MustCompile(`(?i)\bfrom\s+now\s+on\s*,?\s+you\s+(will|are|must)\b`), LabelRoleReassignment},
	{regexp.MustCompile(`(?i)\b(jailbreak|jailbroken|DAN\s+mode|developer\s+mode|god\s+mode|do\s+anything\s+now)\b`), LabelJailbreakKeyword},
}

// roleMarkers are chat-template tokens that have no business in user text.
var roleMarkers = []string{
	"[system]", "[/system]", "[inst]", "[/inst]",
	"<|im_start|>", "<|im_end|>", "<|system|>", "<|assistant|>",
	"<<sys>>", "<</sys>>", "### instruction", "### system",
	"system:", "assistant:",
}

// Sanitizer detects adversarial input.
type Sanitizer struct {
	cfg config.Sanitizer
}

func New(cfg config.Sanitizer) *Sanitizer {
	return &Sanitizer{cfg: cfg}
}

// Inspect runs pattern, structure and normalization checks in that order.
// It has no side effect other than an audit log entry when flagged.
func (s *Sanitizer) Inspect(ctx context.Context, text string) Result {
	res := s.inspect(ctx, text)
	if res.Flagged {
		logging.From(ctx).Warn("content flagged by sanitizer",
			"reason", res.Reason,
			"length", len(text),
		)
	}
	return res
}

func (s *Sanitizer) inspect(ctx context.Context, text string) Result {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return Result{Flagged: true, Reason: p.label}
		}
	}

	if s.structural(text) {
		return Result{Flagged: true, Reason: LabelStructuralInjection}
	}

	flagged, err := s.homoglyph(text)
	if err != nil {
		logging.From(ctx).Debug("normalization check skipped", "error", err)
		return Result{}
	}
	if flagged {
		return Result{Flagged: true, Reason: LabelHomoglyph}
	}
	return Result{}
}

func (s *Sanitizer) structural(text string) bool {
	lower := strings.ToLower(text)
	markers := 0
	for _, m := range roleMarkers {
		markers += strings.Count(lower, m)
	}
	if s.cfg.RoleMarkerLimit > 0 && markers >= s.cfg.RoleMarkerLimit {
		return true
	}

	runes := utf8.RuneCountInString(text)
	if runes < s.cfg.MinDensityLength || runes == 0 || s.cfg.BracketDensity <= 0 {
		return false
	}
	brackets := 0
	for _, r := range text {
		switch r {
		case '[', ']', '{', '}', '<', '>', '(', ')':
			brackets++
		}
	}
	return float64(brackets)/float64(runes) > s.cfg.BracketDensity
}

// homoglyph compares the byte length before and after NFKC normalization.
// Full-width letters, ligatures and math alphanumerics all shrink under NFKC.
func (s *Sanitizer) homoglyph(text string) (flagged bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("panic during normalization", goerr.V("panic", r))
		}
	}()

	if !utf8.ValidString(text) {
		return false, goerr.New("text is not valid UTF-8")
	}
	if len(text) == 0 || s.cfg.NormalizationDelta <= 0 {
		return false, nil
	}

	normalized := norm.NFKC.String(text)
	delta := len(text) - len(normalized)
	if delta < 0 {
		delta = -delta
	}
	return float64(delta)/float64(len(text)) > s.cfg.NormalizationDelta, nil
}
