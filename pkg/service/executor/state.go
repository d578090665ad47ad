package executor

import (
	"math/rand/v2"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/model"
)

// State of the per-request attempt machine
type State int

const (
	StateDispatch State = iota
	StateAwait
	StateSuccess
	StateRetryable
	StateFatal
	StateBackoff
	StateAdvance
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDispatch:
		return "dispatch"
	case StateAwait:
		return "await"
	case StateSuccess:
		return "success"
	case StateRetryable:
		return "retryable"
	case StateFatal:
		return "fatal"
	case StateBackoff:
		return "backoff"
	case StateAdvance:
		return "advance"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition exists
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhausted
}

// step is the position of the machine: which provider of the chain and
// which retry of that provider.
type step struct {
	state   State
	index   int
	attempt int
}

// transition is the pure transition function. out is only consulted in
// StateAwait. Each provider gets its own retry budget of maxRetries.
func transition(s step, out model.Outcome, maxRetries, chainLen int) step {
	switch s.state {
	case StateDispatch:
		s.state = StateAwait

	case StateAwait:
		switch out.(type) {
		case model.Success:
			s.state = StateSuccess
		case model.RetryableFailure:
			s.state = StateRetryable
		default:
			s.state = StateFatal
		}

	case StateRetryable:
		if s.attempt < maxRetries {
			s.state = StateBackoff
		} else {
			s.state = StateAdvance
		}

	case StateFatal:
		s.state = StateAdvance

	case StateBackoff:
		s.attempt++
		s.state = StateDispatch

	case StateAdvance:
		s.index++
		s.attempt = 0
		if s.index >= chainLen {
			s.state = StateExhausted
		} else {
			s.state = StateDispatch
		}
	}
	return s
}

// backoff returns the delay before retry number attempt+1: the base delay
// doubled per attempt, capped at maxDelay, with equal jitter. A provider
// supplied retry hint is honoured up to maxDelay.
func backoff(attempt int, base, maxDelay time.Duration, hint time.Duration, jitter func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for range attempt {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}

	half := d / 2
	d = half + time.Duration(jitter()*float64(d-half))

	if hint > d {
		d = hint
		if maxDelay > 0 && d > maxDelay {
			d = maxDelay
		}
	}
	return d
}

func defaultJitter() float64 {
	return rand.Float64()
}
