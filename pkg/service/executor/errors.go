package executor

import (
	"fmt"
	"strings"

	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// ProviderError is the last failure of one provider in the chain
type ProviderError struct {
	ProviderID types.ProviderID
	Kind       model.ErrorKind
	Reason     string
	Attempts   int
	Err        error
}

// ExhaustedError is returned when every provider of the chain has failed.
// It carries the last error of each attempted provider in chain order.
type ExhaustedError struct {
	Providers []ProviderError
}

func (e *ExhaustedError) Error() string {
	if len(e.Providers) == 0 {
		return "no generation provider to attempt"
	}
	parts := make([]string, len(e.Providers))
	for i, p := range e.Providers {
		parts[i] = fmt.Sprintf("%s: %s after %d attempt(s)", p.ProviderID, p.Reason, p.Attempts)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the underlying provider errors to errors.Is and errors.As
func (e *ExhaustedError) Unwrap() []error {
	var errs []error
	for _, p := range e.Providers {
		if p.Err != nil {
			errs = append(errs, p.Err)
		}
	}
	return errs
}

// DenialError is returned when policy forbids every candidate
type DenialError struct {
	Denial *model.PolicyDenial
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("request denied: %s (%s)", e.Denial.Reason, e.Denial.Detail)
}
