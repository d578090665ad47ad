package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

func TestNewMemoryID(t *testing.T) {
	id1 := model.NewMemoryID()
	id2 := model.NewMemoryID()

	gt.Value(t, string(id1)).NotEqual("")
	gt.Value(t, id1).NotEqual(id2)
}

func TestNewUsageIDSortsByTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := model.NewUsageID(base)
	b := model.NewUsageID(base.Add(time.Second))
	gt.Bool(t, string(a) < string(b)).True()
}

func TestMemoryRecordValidate(t *testing.T) {
	valid := func() *model.MemoryRecord {
		return &model.MemoryRecord{
			ID:         model.NewMemoryID(),
			Owner:      "U1",
			Vector:     []float32{0.1, 0.2},
			Ciphertext: []byte{1, 2, 3},
			Metadata:   model.MemoryMetadata{Kind: types.RecordKindExplicit},
		}
	}

	gt.NoError(t, valid().Validate())

	r := valid()
	r.Vector = nil
	gt.Bool(t, errors.Is(r.Validate(), model.ErrIncompleteRecord)).True()

	r = valid()
	r.Ciphertext = nil
	gt.Bool(t, errors.Is(r.Validate(), model.ErrIncompleteRecord)).True()

	r = valid()
	r.Owner = ""
	gt.Error(t, r.Validate())
}

func TestMemoryRecordCopyDoesNotAlias(t *testing.T) {
	r := &model.MemoryRecord{Vector: []float32{1}, Ciphertext: []byte{1}}
	c := r.Copy()
	c.Vector[0] = 2
	c.Ciphertext[0] = 2
	gt.Value(t, r.Vector[0]).Equal(float32(1))
	gt.Value(t, r.Ciphertext[0]).Equal(byte(1))
}

func TestDefaultRoutingDecision(t *testing.T) {
	d := model.DefaultRoutingDecision("timeout")
	gt.Value(t, d.Intent).Equal(types.IntentSimpleQuery)
	gt.Value(t, d.Confidence).Equal(0.0)
	gt.Bool(t, d.Degraded).True()
}

func TestOutcomeExhaustive(t *testing.T) {
	outcomes := []model.Outcome{
		model.Success{Text: "ok", CostUSD: 0.1},
		model.RetryableFailure{Reason: "timeout"},
		model.FatalFailure{Reason: "auth", CostUSD: 0.02},
	}
	var costs float64
	for _, o := range outcomes {
		switch v := o.(type) {
		case model.Success, model.RetryableFailure, model.FatalFailure:
			costs += v.Cost()
		default:
			t.Fatalf("unexpected outcome %T", v)
		}
	}
	gt.Number(t, costs).Greater(0.119)
}

func TestPolicyDenial(t *testing.T) {
	d := model.NewRateLimitDenial(12*time.Second, true)
	gt.Bool(t, d.Silent()).False()
	gt.String(t, d.Message).Contains("12s")

	gt.Bool(t, model.NewRateLimitDenial(time.Second, false).Silent()).True()
	gt.String(t, model.NewContentDenial("instruction-override").Message).Contains("instruction-override")
}

func TestEventSummary(t *testing.T) {
	ev := model.Event{
		Kind:      model.EventBudgetThreshold,
		Threshold: 80,
		Budget: &model.BudgetState{
			Scope:       model.BudgetScope{Period: types.BudgetPeriodDaily},
			SpentUSD:    8,
			CapUSD:      10,
			PercentUsed: 80,
		},
	}
	gt.Bool(t, strings.HasPrefix(ev.Summary(), "daily budget crossed 80%")).True()
}

func TestPromptChars(t *testing.T) {
	p := model.Prompt{System: "ab", Input: "日本", History: []model.Message{{Text: "xyz"}}}
	gt.Value(t, p.Chars()).Equal(7)
}
