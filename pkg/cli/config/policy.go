package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/provider"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Policy holds the location of the routing policy file
type Policy struct {
	path string
}

func (x *Policy) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy",
			Aliases:     []string{"p"},
			Usage:       "Policy file path (.toml, .yaml or .yml)",
			Category:    "Policy",
			Value:       "concierge.toml",
			Sources:     cli.EnvVars("CONCIERGE_POLICY"),
			Destination: &x.path,
		},
	}
}

func (x *Policy) Path() string {
	return x.path
}

func (x *Policy) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", x.path))
}

// Configure loads and validates the policy file
func (x *Policy) Configure() (*config.Policy, error) {
	return LoadPolicy(x.path)
}

// Policy file layout. Unset values keep the defaults of config.Default().
type policyFile struct {
	Routing    routingFile    `toml:"routing" yaml:"routing"`
	Classifier classifierFile `toml:"classifier" yaml:"classifier"`
	Providers  []providerFile `toml:"providers" yaml:"providers"`
	Budget     budgetFile     `toml:"budget" yaml:"budget"`
	RateLimit  rateLimitFile  `toml:"rate_limit" yaml:"rate_limit"`
	Retry      retryFile      `toml:"retry" yaml:"retry"`
	Health     healthFile     `toml:"health" yaml:"health"`
	Context    contextFile    `toml:"context" yaml:"context"`
	Sanitizer  sanitizerFile  `toml:"sanitizer" yaml:"sanitizer"`
}

type routingFile struct {
	MinConfidence     *float64          `toml:"min_confidence" yaml:"min_confidence"`
	LowConfidenceTier string            `toml:"low_confidence_tier" yaml:"low_confidence_tier"`
	DefaultTier       string            `toml:"default_tier" yaml:"default_tier"`
	Intents           map[string]string `toml:"intents" yaml:"intents"`
}

type classifierFile struct {
	Kind     string `toml:"kind" yaml:"kind"`
	Provider string `toml:"provider" yaml:"provider"`
	Timeout  string `toml:"timeout" yaml:"timeout"`
}

type providerFile struct {
	ID              string  `toml:"id" yaml:"id"`
	Backend         string  `toml:"backend" yaml:"backend"`
	Model           string  `toml:"model" yaml:"model"`
	Tier            string  `toml:"tier" yaml:"tier"`
	InputCostPer1K  float64 `toml:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `toml:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	ChargeOnFailure bool    `toml:"charge_on_failure" yaml:"charge_on_failure"`
	Timeout         string  `toml:"timeout" yaml:"timeout"`
}

type budgetFile struct {
	DailyCapUSD     *float64  `toml:"daily_cap_usd" yaml:"daily_cap_usd"`
	MonthlyCapUSD   *float64  `toml:"monthly_cap_usd" yaml:"monthly_cap_usd"`
	Thresholds      []float64 `toml:"thresholds" yaml:"thresholds"`
	HardStopPercent *float64  `toml:"hard_stop_percent" yaml:"hard_stop_percent"`
	Timezone        string    `toml:"timezone" yaml:"timezone"`
	Caps            []capFile `toml:"caps" yaml:"caps"`
}

type capFile struct {
	Period   string  `toml:"period" yaml:"period"`
	Provider string  `toml:"provider" yaml:"provider"`
	Task     string  `toml:"task" yaml:"task"`
	CapUSD   float64 `toml:"cap_usd" yaml:"cap_usd"`
}

type rateLimitFile struct {
	MaxRequests     *int   `toml:"max_requests" yaml:"max_requests"`
	Window          string `toml:"window" yaml:"window"`
	WarningCooldown string `toml:"warning_cooldown" yaml:"warning_cooldown"`
}

type retryFile struct {
	MaxRetries     *int   `toml:"max_retries" yaml:"max_retries"`
	BaseDelay      string `toml:"base_delay" yaml:"base_delay"`
	MaxDelay       string `toml:"max_delay" yaml:"max_delay"`
	AttemptTimeout string `toml:"attempt_timeout" yaml:"attempt_timeout"`
}

type healthFile struct {
	FailureThreshold *int   `toml:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         string `toml:"cooldown" yaml:"cooldown"`
	ProbeInterval    string `toml:"probe_interval" yaml:"probe_interval"`
}

type contextFile struct {
	TopK           *int   `toml:"top_k" yaml:"top_k"`
	MaxTopK        *int   `toml:"max_top_k" yaml:"max_top_k"`
	HistoryLimit   *int   `toml:"history_limit" yaml:"history_limit"`
	MaxPromptChars *int   `toml:"max_prompt_chars" yaml:"max_prompt_chars"`
	AutoRemember   *bool  `toml:"auto_remember" yaml:"auto_remember"`
	Timeout        string `toml:"timeout" yaml:"timeout"`
}

type sanitizerFile struct {
	BracketDensity     *float64 `toml:"bracket_density" yaml:"bracket_density"`
	MinDensityLength   *int     `toml:"min_density_length" yaml:"min_density_length"`
	RoleMarkerLimit    *int     `toml:"role_marker_limit" yaml:"role_marker_limit"`
	NormalizationDelta *float64 `toml:"normalization_delta" yaml:"normalization_delta"`
}

// LoadPolicy reads a policy file and validates it. The format is chosen by
// file extension.
func LoadPolicy(path string) (*config.Policy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrConfigNotFound, "policy file not found", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read policy file", goerr.V(ConfigPathKey, path))
	}

	p, err := ParsePolicy(data, filepath.Ext(path))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid policy file", goerr.V(ConfigPathKey, path))
	}
	return p, nil
}

// ParsePolicy decodes policy data of the given extension (".toml", ".yaml"
// or ".yml") over the defaults and validates the result.
func ParsePolicy(data []byte, ext string) (*config.Policy, error) {
	var f policyFile
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, goerr.Wrap(ErrInvalidConfig, "failed to decode TOML", goerr.V("error", err.Error()))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, goerr.Wrap(ErrInvalidConfig, "failed to decode YAML", goerr.V("error", err.Error()))
		}
	default:
		return nil, goerr.Wrap(ErrUnsupportedFormat, "unsupported policy file extension", goerr.V("ext", ext))
	}

	p := config.Default()
	if err := f.apply(p); err != nil {
		return nil, err
	}
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	return p, nil
}

func parseDuration(dst *time.Duration, field, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return goerr.Wrap(ErrInvalidDuration, "invalid duration", goerr.V(FieldKey, field), goerr.V(ValueKey, s))
	}
	*dst = d
	return nil
}

func parseTier(dst *types.Tier, field, s string) error {
	if s == "" {
		return nil
	}
	t, err := types.ParseTier(s)
	if err != nil {
		return goerr.Wrap(ErrInvalidTier, "invalid tier", goerr.V(FieldKey, field), goerr.V(ValueKey, s))
	}
	*dst = t
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (f *policyFile) apply(p *config.Policy) error {
	setIf(&p.Routing.MinConfidence, f.Routing.MinConfidence)
	if err := parseTier(&p.Routing.LowConfidenceTier, "routing.low_confidence_tier", f.Routing.LowConfidenceTier); err != nil {
		return err
	}
	if err := parseTier(&p.Routing.DefaultTier, "routing.default_tier", f.Routing.DefaultTier); err != nil {
		return err
	}
	for name, tierName := range f.Routing.Intents {
		intent, err := types.ParseIntent(name)
		if err != nil {
			return goerr.Wrap(ErrInvalidIntent, "unknown intent in routing.intents", goerr.V(ValueKey, name))
		}
		var tier types.Tier
		if err := parseTier(&tier, "routing.intents."+name, tierName); err != nil {
			return err
		}
		if tier != "" {
			p.Routing.IntentTiers[intent] = tier
		}
	}

	if f.Classifier.Kind != "" {
		p.Classifier.Kind = f.Classifier.Kind
	}
	p.Classifier.ProviderID = types.ProviderID(f.Classifier.Provider)
	if err := parseDuration(&p.Classifier.Timeout, "classifier.timeout", f.Classifier.Timeout); err != nil {
		return err
	}

	for i, pf := range f.Providers {
		prov := config.Provider{
			ID:              types.ProviderID(pf.ID),
			Backend:         pf.Backend,
			Model:           pf.Model,
			InputCostPer1K:  pf.InputCostPer1K,
			OutputCostPer1K: pf.OutputCostPer1K,
			ChargeOnFailure: pf.ChargeOnFailure,
		}
		if pf.Tier == "" {
			return goerr.Wrap(ErrInvalidTier, "provider tier is required", goerr.V(ProviderKey, pf.ID), goerr.V("index", i))
		}
		if err := parseTier(&prov.Tier, "providers.tier", pf.Tier); err != nil {
			return goerr.Wrap(err, "invalid provider", goerr.V(ProviderKey, pf.ID))
		}
		if err := parseDuration(&prov.Timeout, "providers.timeout", pf.Timeout); err != nil {
			return goerr.Wrap(err, "invalid provider", goerr.V(ProviderKey, pf.ID))
		}
		p.Providers = append(p.Providers, prov)
	}

	setIf(&p.Budget.DailyCapUSD, f.Budget.DailyCapUSD)
	setIf(&p.Budget.MonthlyCapUSD, f.Budget.MonthlyCapUSD)
	setIf(&p.Budget.HardStopPercent, f.Budget.HardStopPercent)
	if f.Budget.Thresholds != nil {
		p.Budget.Thresholds = f.Budget.Thresholds
	}
	if f.Budget.Timezone != "" {
		loc, err := time.LoadLocation(f.Budget.Timezone)
		if err != nil {
			return goerr.Wrap(ErrInvalidConfig, "unknown budget timezone", goerr.V(ValueKey, f.Budget.Timezone))
		}
		p.Budget.Location = loc
	}
	for _, cf := range f.Budget.Caps {
		period, err := types.ParseBudgetPeriod(cf.Period)
		if err != nil {
			return goerr.Wrap(ErrInvalidConfig, "invalid budget cap period", goerr.V(ValueKey, cf.Period))
		}
		p.Budget.Caps = append(p.Budget.Caps, config.ScopedCap{
			Period:     period,
			ProviderID: types.ProviderID(cf.Provider),
			Task:       cf.Task,
			CapUSD:     cf.CapUSD,
		})
	}

	setIf(&p.RateLimit.MaxRequests, f.RateLimit.MaxRequests)
	if err := parseDuration(&p.RateLimit.Window, "rate_limit.window", f.RateLimit.Window); err != nil {
		return err
	}
	if err := parseDuration(&p.RateLimit.WarningCooldown, "rate_limit.warning_cooldown", f.RateLimit.WarningCooldown); err != nil {
		return err
	}

	setIf(&p.Retry.MaxRetries, f.Retry.MaxRetries)
	for _, d := range []struct {
		dst   *time.Duration
		field string
		value string
	}{
		{&p.Retry.BaseDelay, "retry.base_delay", f.Retry.BaseDelay},
		{&p.Retry.MaxDelay, "retry.max_delay", f.Retry.MaxDelay},
		{&p.Retry.AttemptTimeout, "retry.attempt_timeout", f.Retry.AttemptTimeout},
		{&p.Health.Cooldown, "health.cooldown", f.Health.Cooldown},
		{&p.Health.ProbeInterval, "health.probe_interval", f.Health.ProbeInterval},
		{&p.Context.Timeout, "context.timeout", f.Context.Timeout},
	} {
		if err := parseDuration(d.dst, d.field, d.value); err != nil {
			return err
		}
	}

	setIf(&p.Health.FailureThreshold, f.Health.FailureThreshold)

	setIf(&p.Context.TopK, f.Context.TopK)
	setIf(&p.Context.MaxTopK, f.Context.MaxTopK)
	setIf(&p.Context.HistoryLimit, f.Context.HistoryLimit)
	setIf(&p.Context.MaxPromptChars, f.Context.MaxPromptChars)
	setIf(&p.Context.AutoRemember, f.Context.AutoRemember)

	setIf(&p.Sanitizer.BracketDensity, f.Sanitizer.BracketDensity)
	setIf(&p.Sanitizer.MinDensityLength, f.Sanitizer.MinDensityLength)
	setIf(&p.Sanitizer.RoleMarkerLimit, f.Sanitizer.RoleMarkerLimit)
	setIf(&p.Sanitizer.NormalizationDelta, f.Sanitizer.NormalizationDelta)

	return nil
}

func invalid(field string, value any) error {
	return goerr.Wrap(ErrInvalidConfig, "invalid policy value", goerr.V(FieldKey, field), goerr.V(ValueKey, value))
}

// ValidatePolicy checks cross-field constraints of a decoded policy
func ValidatePolicy(p *config.Policy) error {
	if len(p.Providers) == 0 {
		return goerr.Wrap(ErrNoProviders, "at least one provider is required")
	}

	seen := make(map[types.ProviderID]bool, len(p.Providers))
	for _, prov := range p.Providers {
		if err := prov.ID.Validate(); err != nil {
			return goerr.Wrap(err, "invalid provider id", goerr.V(ProviderKey, prov.ID))
		}
		if seen[prov.ID] {
			return goerr.Wrap(ErrDuplicateProvider, "provider id is used twice", goerr.V(ProviderKey, prov.ID))
		}
		seen[prov.ID] = true

		switch prov.Backend {
		case provider.BackendOpenAI, provider.BackendClaude, provider.BackendGemini:
		default:
			return goerr.Wrap(provider.ErrUnknownBackend, "invalid provider backend",
				goerr.V(ProviderKey, prov.ID), goerr.V(ValueKey, prov.Backend))
		}
		if prov.InputCostPer1K < 0 || prov.OutputCostPer1K < 0 {
			return goerr.Wrap(invalid("providers.cost", prov.InputCostPer1K), "negative cost", goerr.V(ProviderKey, prov.ID))
		}
	}

	if p.Routing.MinConfidence < 0 || p.Routing.MinConfidence > 1 {
		return invalid("routing.min_confidence", p.Routing.MinConfidence)
	}

	switch p.Classifier.Kind {
	case config.ClassifierHeuristic:
	case config.ClassifierLLM:
		if p.Classifier.ProviderID == "" {
			return goerr.Wrap(ErrUnknownProvider, "classifier.provider is required for the llm classifier")
		}
		if !seen[p.Classifier.ProviderID] {
			return goerr.Wrap(ErrUnknownProvider, "classifier provider is not defined", goerr.V(ProviderKey, p.Classifier.ProviderID))
		}
	default:
		return invalid("classifier.kind", p.Classifier.Kind)
	}

	if p.Budget.DailyCapUSD < 0 {
		return invalid("budget.daily_cap_usd", p.Budget.DailyCapUSD)
	}
	if p.Budget.MonthlyCapUSD < 0 {
		return invalid("budget.monthly_cap_usd", p.Budget.MonthlyCapUSD)
	}
	for _, th := range p.Budget.Thresholds {
		if th <= 0 {
			return invalid("budget.thresholds", th)
		}
	}
	if p.Budget.HardStopPercent < 0 {
		return invalid("budget.hard_stop_percent", p.Budget.HardStopPercent)
	}
	for _, c := range p.Budget.Caps {
		if c.ProviderID == "" && c.Task == "" {
			return invalid("budget.caps", "provider or task is required")
		}
		if c.ProviderID != "" && !seen[c.ProviderID] {
			return goerr.Wrap(ErrUnknownProvider, "budget cap provider is not defined", goerr.V(ProviderKey, c.ProviderID))
		}
		if c.CapUSD <= 0 {
			return invalid("budget.caps.cap_usd", c.CapUSD)
		}
	}

	if p.RateLimit.MaxRequests < 0 {
		return invalid("rate_limit.max_requests", p.RateLimit.MaxRequests)
	}
	if p.RateLimit.MaxRequests > 0 && p.RateLimit.Window <= 0 {
		return invalid("rate_limit.window", p.RateLimit.Window.String())
	}

	if p.Retry.MaxRetries < 0 {
		return invalid("retry.max_retries", p.Retry.MaxRetries)
	}
	if p.Retry.MaxDelay < p.Retry.BaseDelay {
		return invalid("retry.max_delay", p.Retry.MaxDelay.String())
	}

	if p.Health.FailureThreshold < 1 {
		return invalid("health.failure_threshold", p.Health.FailureThreshold)
	}

	if p.Context.TopK < 1 {
		return invalid("context.top_k", p.Context.TopK)
	}
	if p.Context.MaxTopK < p.Context.TopK {
		return invalid("context.max_top_k", p.Context.MaxTopK)
	}
	if p.Context.HistoryLimit < 0 {
		return invalid("context.history_limit", p.Context.HistoryLimit)
	}
	if p.Context.MaxPromptChars < 0 {
		return invalid("context.max_prompt_chars", p.Context.MaxPromptChars)
	}

	return nil
}
