package model

import (
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// ProviderHealth is the advisory liveness state of one provider.
type ProviderHealth struct {
	ProviderID          types.ProviderID
	Tier                types.Tier
	Available           bool
	LastCheckedAt       time.Time
	ConsecutiveFailures int
	// DownSince is the time the provider was marked unavailable
	DownSince time.Time
}

// Outcome is the closed result type of one provider dispatch. The set of
// implementations is fixed to Success, RetryableFailure and FatalFailure.
type Outcome interface {
	outcome()
	// Cost returns the cost in USD reported for the attempt
	Cost() float64
}

type Success struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

type RetryableFailure struct {
	Reason  string
	Err     error
	CostUSD float64
	// RetryAfter is a provider supplied hint, zero when absent
	RetryAfter time.Duration
}

type FatalFailure struct {
	Reason  string
	Err     error
	CostUSD float64
}

func (Success) outcome()          {}
func (RetryableFailure) outcome() {}
func (FatalFailure) outcome()     {}

func (s Success) Cost() float64          { return s.CostUSD }
func (f RetryableFailure) Cost() float64 { return f.CostUSD }
func (f FatalFailure) Cost() float64     { return f.CostUSD }

// Prompt is what a generation provider receives.
type Prompt struct {
	System  string
	History []Message
	Input   string
}

// Chars is the total character count used for prompt trimming.
func (p *Prompt) Chars() int {
	n := len([]rune(p.System)) + len([]rune(p.Input))
	for _, m := range p.History {
		n += len([]rune(m.Text))
	}
	return n
}
