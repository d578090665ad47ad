package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/notify"
	goslack "github.com/slack-go/slack"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*model.Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, ev *model.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func providerDown(id types.ProviderID) *model.Event {
	return &model.Event{Kind: model.EventProviderDown, At: time.Now(), ProviderID: id, Detail: "timeout"}
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	ctx := context.Background()
	failing := &recordingSink{err: errors.New("slack down")}
	ok := &recordingSink{}
	d := notify.NewDispatcher([]notify.Sink{failing, ok, notify.LogSink{}}, notify.WithRate(time.Millisecond, 10))
	d.Start(ctx)

	d.Notify(ctx, providerDown("a"))
	d.Notify(ctx, providerDown("b"))
	d.Stop()

	// a failing sink does not prevent delivery to the others
	gt.Number(t, failing.count()).Equal(2)
	gt.Number(t, ok.count()).Equal(2)
}

func TestDispatcherNeverBlocks(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{block: make(chan struct{})}
	d := notify.NewDispatcher([]notify.Sink{sink}, notify.WithQueueSize(1), notify.WithRate(time.Millisecond, 10))
	d.Start(ctx)

	done := make(chan struct{})
	go func() {
		for range 10 {
			d.Notify(ctx, providerDown("a"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stalled sink")
	}

	close(sink.block)
	d.Stop()
	gt.Number(t, sink.count()).Less(10)
}

type mockSlack struct {
	channel string
	text    string
	blocks  []goslack.Block
}

func (m *mockSlack) PostMessage(ctx context.Context, channelID string, blocks []goslack.Block, text string) (string, error) {
	m.channel, m.text, m.blocks = channelID, text, blocks
	return "1.0", nil
}

func (m *mockSlack) Verify(ctx context.Context) (string, error) { return "team", nil }

func TestSlackSink(t *testing.T) {
	svc := &mockSlack{}
	sink := notify.NewSlackSink(svc, "C-ALERTS")

	ev := &model.Event{
		Kind:      model.EventBudgetThreshold,
		At:        time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Threshold: 80,
		Budget: &model.BudgetState{
			Scope:       model.BudgetScope{Period: types.BudgetPeriodDaily},
			SpentUSD:    0.85,
			CapUSD:      1,
			PercentUsed: 85,
		},
	}
	gt.NoError(t, sink.Send(context.Background(), ev)).Required()
	gt.Value(t, svc.channel).Equal("C-ALERTS")
	gt.String(t, svc.text).Contains("daily budget crossed 80%")
	gt.Array(t, svc.blocks).Length(2)
}
