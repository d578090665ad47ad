package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/cli"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

const validPolicy = `
[[providers]]
id = "fast"
backend = "openai"
model = "gpt-4o-mini"
tier = "fast"
input_cost_per_1k = 0.00015
output_cost_per_1k = 0.0006

[budget]
daily_cap_usd = 1.0
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600)).Required()
	return path
}

func TestRun_ValidateCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("valid policy", func(t *testing.T) {
		err := cli.Run(ctx, []string{"concierge", "validate", "--policy", writePolicy(t, validPolicy)}, "test")
		gt.NoError(t, err)
	})

	t.Run("invalid policy", func(t *testing.T) {
		path := writePolicy(t, "[[providers]]\nid = \"x\"\nbackend = \"openai\"\ntier = \"gold\"\n")
		err := cli.Run(ctx, []string{"concierge", "validate", "--policy", path}, "test")
		gt.Value(t, err).NotNil()
	})

	t.Run("missing policy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nonexistent.toml")
		err := cli.Run(ctx, []string{"concierge", "validate", "--policy", path}, "test")
		gt.Value(t, err).NotNil()
	})
}

func TestRun_BudgetCommand(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"concierge", "budget",
		"--policy", writePolicy(t, validPolicy),
		"--repository-backend", "memory",
	}, "test")
	gt.NoError(t, err)
}

func TestRun_SaltCommands(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "concierge.salt")

	err := cli.Run(ctx, []string{"concierge", "salt", "show", "--salt-location", location}, "test")
	gt.Value(t, err).NotNil()

	gt.NoError(t, cli.Run(ctx, []string{"concierge", "salt", "init", "--salt-location", location}, "test")).Required()
	first, err := os.ReadFile(location)
	gt.NoError(t, err).Required()

	// init never replaces an existing salt
	gt.NoError(t, cli.Run(ctx, []string{"concierge", "salt", "init", "--salt-location", location}, "test"))
	second, err := os.ReadFile(location)
	gt.NoError(t, err).Required()
	gt.Value(t, string(second)).Equal(string(first))

	gt.NoError(t, cli.Run(ctx, []string{"concierge", "salt", "show", "--salt-location", location}, "test"))
}

func TestRun_EnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "CONCIERGE_POLICY=" + writePolicy(t, validPolicy) + "\n"
	gt.NoError(t, os.WriteFile(envPath, []byte(content), 0o600)).Required()
	t.Cleanup(func() { _ = os.Unsetenv("CONCIERGE_POLICY") })

	err := cli.Run(context.Background(), []string{"concierge", "--env-file", envPath, "validate"}, "test")
	gt.NoError(t, err)

	t.Run("missing env file", func(t *testing.T) {
		err := cli.Run(context.Background(), []string{"concierge", "--env-file=" + envPath + ".missing", "validate"}, "test")
		gt.Value(t, err).NotNil()
	})
}

func TestEnvFilePath(t *testing.T) {
	t.Setenv("CONCIERGE_ENV_FILE", "from-env")

	gt.Value(t, cli.EnvFilePath([]string{"concierge", "--env-file", "a.env", "serve"})).Equal("a.env")
	gt.Value(t, cli.EnvFilePath([]string{"concierge", "--env-file=b.env"})).Equal("b.env")
	gt.Value(t, cli.EnvFilePath([]string{"concierge", "ask", "--", "--env-file", "c.env"})).Equal("from-env")
	gt.Value(t, cli.EnvFilePath([]string{"concierge", "serve"})).Equal("from-env")
}

func TestPrintResponse(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		cli.PrintResponse(&buf, &model.Response{
			Success:  true,
			Text:     "Your flight is on Friday.",
			Provider: "fast",
			Decision: model.RoutingDecision{Intent: types.IntentMemoryRecall, Confidence: 0.85, PreferredTier: types.TierBalanced},
			Elapsed:  1234 * time.Millisecond,
		})
		gt.String(t, buf.String()).Contains("Your flight is on Friday.")
		gt.String(t, buf.String()).Contains("intent=memory-recall")
		gt.String(t, buf.String()).Contains("provider=fast")
	})

	t.Run("denied", func(t *testing.T) {
		var buf bytes.Buffer
		cli.PrintResponse(&buf, &model.Response{Denial: model.NewRateLimitDenial(time.Minute, true)})
		gt.String(t, buf.String()).Contains("denied (rate-limited)")
	})
}

func TestPrintBudget(t *testing.T) {
	var buf bytes.Buffer
	cli.PrintBudget(&buf, []model.BudgetState{
		{Scope: model.BudgetScope{Period: types.BudgetPeriodDaily}, SpentUSD: 0.9, CapUSD: 1, PercentUsed: 90, WithinLimit: true},
		{Scope: model.BudgetScope{Period: types.BudgetPeriodMonthly}, SpentUSD: 3},
		{Scope: model.BudgetScope{Period: types.BudgetPeriodDaily, ProviderID: "fast"}, SpentUSD: 0.9},
	})
	gt.String(t, buf.String()).Contains("(90.0%)")
	gt.String(t, buf.String()).Contains("(no cap)")
	gt.String(t, buf.String()).Contains("daily/fast")
}

func TestGetIndexConfig(t *testing.T) {
	cfg := cli.GetIndexConfig(768)
	gt.Array(t, cfg.Collections).Length(2).Required()
	vector := cfg.Collections[0].Indexes[0].Fields[0]
	gt.Value(t, vector.Path).Equal("Embedding")
	gt.Value(t, vector.Vector).NotNil()
}
