package executor

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
)

func TestTransition(t *testing.T) {
	const maxRetries, chainLen = 1, 2

	run := func(outcomes ...model.Outcome) []State {
		s := step{state: StateDispatch}
		trace := []State{s.state}
		i := 0
		for !s.state.Terminal() {
			var out model.Outcome
			if s.state == StateAwait {
				out = outcomes[i]
				i++
			}
			s = transition(s, out, maxRetries, chainLen)
			trace = append(trace, s.state)
		}
		return trace
	}

	t.Run("success on first attempt", func(t *testing.T) {
		gt.Value(t, run(model.Success{})).Equal([]State{StateDispatch, StateAwait, StateSuccess})
	})

	t.Run("retry then advance then succeed", func(t *testing.T) {
		trace := run(model.RetryableFailure{}, model.RetryableFailure{}, model.Success{})
		gt.Value(t, trace).Equal([]State{
			StateDispatch, StateAwait, StateRetryable, StateBackoff,
			StateDispatch, StateAwait, StateRetryable, StateAdvance,
			StateDispatch, StateAwait, StateSuccess,
		})
	})

	t.Run("fatal advances without backoff", func(t *testing.T) {
		trace := run(model.FatalFailure{}, model.FatalFailure{})
		gt.Value(t, trace).Equal([]State{
			StateDispatch, StateAwait, StateFatal, StateAdvance,
			StateDispatch, StateAwait, StateFatal, StateAdvance,
			StateExhausted,
		})
	})

	t.Run("retry budget resets per provider", func(t *testing.T) {
		s := step{state: StateBackoff, index: 0, attempt: 0}
		s = transition(s, nil, maxRetries, chainLen)
		gt.Number(t, s.attempt).Equal(1)

		s = step{state: StateAdvance, index: 0, attempt: 1}
		s = transition(s, nil, maxRetries, chainLen)
		gt.Value(t, s).Equal(step{state: StateDispatch, index: 1, attempt: 0})
	})
}

func TestBackoff(t *testing.T) {
	zero := func() float64 { return 0 }
	top := func() float64 { return 0.999999 }

	gt.Value(t, backoff(0, time.Second, 10*time.Second, 0, zero)).Equal(500 * time.Millisecond)
	gt.Value(t, backoff(2, time.Second, 10*time.Second, 0, zero)).Equal(2 * time.Second)

	t.Run("capped at max delay", func(t *testing.T) {
		gt.Value(t, backoff(10, time.Second, 10*time.Second, 0, zero)).Equal(5 * time.Second)
		gt.Number(t, int64(backoff(10, time.Second, 10*time.Second, 0, top))).LessOrEqual(int64(10 * time.Second))
		gt.Number(t, int64(backoff(60, time.Second, 10*time.Second, 0, top))).Greater(int64(9 * time.Second))
	})

	t.Run("provider hint honoured up to max", func(t *testing.T) {
		gt.Value(t, backoff(0, time.Second, 10*time.Second, 3*time.Second, zero)).Equal(3 * time.Second)
		gt.Value(t, backoff(0, time.Second, 10*time.Second, time.Minute, zero)).Equal(10 * time.Second)
	})

	t.Run("zero base disables waiting", func(t *testing.T) {
		gt.Value(t, backoff(3, 0, time.Second, 0, zero)).Equal(time.Duration(0))
	})
}
