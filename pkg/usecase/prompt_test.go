package usecase_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/usecase"
)

func TestBuildPrompt(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rc := &model.RequestContext{
		Memories: []*model.Memory{
			{Text: "best match " + strings.Repeat("a", 100), Score: 0.9, CreatedAt: at},
			{Text: "weak match " + strings.Repeat("b", 100), Score: 0.2, CreatedAt: at},
		},
		History: []model.Message{
			{Role: model.RoleUser, Text: "oldest " + strings.Repeat("c", 100)},
			{Role: model.RoleAssistant, Text: "newest " + strings.Repeat("d", 100)},
		},
	}
	input := "what should I do today?"

	t.Run("no limit keeps everything", func(t *testing.T) {
		p := usecase.BuildPrompt(rc, input, 0)
		gt.String(t, p.System).Contains("best match")
		gt.String(t, p.System).Contains("weak match")
		gt.Array(t, p.History).Length(2)
		gt.Value(t, p.Input).Equal(input)
	})

	full := usecase.BuildPrompt(rc, input, 0).Chars()

	t.Run("lowest scoring memory goes first", func(t *testing.T) {
		p := usecase.BuildPrompt(rc, input, full-50)
		gt.String(t, p.System).Contains("best match")
		gt.String(t, p.System).NotContains("weak match")
		gt.Array(t, p.History).Length(2)
		gt.Number(t, p.Chars()).LessOrEqual(full - 50)
	})

	t.Run("oldest history goes after memories", func(t *testing.T) {
		p := usecase.BuildPrompt(rc, input, full-300)
		gt.String(t, p.System).NotContains("match")
		gt.Array(t, p.History).Length(1).Required()
		gt.String(t, p.History[0].Text).Contains("newest")
	})

	t.Run("input is never cut", func(t *testing.T) {
		p := usecase.BuildPrompt(rc, input, 10)
		gt.Value(t, p.Input).Equal(input)
		gt.Array(t, p.History).Length(0)
	})

	t.Run("context is not mutated", func(t *testing.T) {
		_ = usecase.BuildPrompt(rc, input, 10)
		gt.Array(t, rc.Memories).Length(2)
		gt.Array(t, rc.History).Length(2)
	})
}
