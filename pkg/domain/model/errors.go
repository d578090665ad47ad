package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrIncompleteRecord = errors.New("memory record must carry both vector and ciphertext")
	ErrNotFound         = errors.New("not found")
)

// ErrorKind is the handling category of a failure.
type ErrorKind int

const (
	ErrorKindDegraded ErrorKind = iota + 1
	ErrorKindRetryable
	ErrorKindFatalProvider
	ErrorKindPolicyDenied
	ErrorKindFatalSystem
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindDegraded:
		return "degraded"
	case ErrorKindRetryable:
		return "retryable"
	case ErrorKindFatalProvider:
		return "fatal-provider"
	case ErrorKindPolicyDenied:
		return "policy-denied"
	case ErrorKindFatalSystem:
		return "fatal-system"
	default:
		return "unknown"
	}
}

// DenialReason tells which policy rejected a request.
type DenialReason string

const (
	DenialRateLimited     DenialReason = "rate-limited"
	DenialBudgetExhausted DenialReason = "budget-exhausted"
	DenialContentFlagged  DenialReason = "content-flagged"
)

// PolicyDenial is a user-legible rejection. It is a value, not an error, so it
// can never be mistaken for a generic failure.
type PolicyDenial struct {
	Reason     DenialReason
	Message    string
	Detail     string
	RetryAfter time.Duration
}

func NewRateLimitDenial(retryAfter time.Duration, warn bool) *PolicyDenial {
	d := &PolicyDenial{
		Reason:     DenialRateLimited,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("You are sending requests too quickly. Please retry in %s.", retryAfter.Round(time.Second)),
	}
	if !warn {
		d.Message = ""
	}
	return d
}

func NewBudgetDenial(detail string) *PolicyDenial {
	return &PolicyDenial{
		Reason:  DenialBudgetExhausted,
		Message: "The spending budget for the current period has been reached. Please try again later.",
		Detail:  detail,
	}
}

func NewContentDenial(label string) *PolicyDenial {
	return &PolicyDenial{
		Reason:  DenialContentFlagged,
		Message: "Your message was rejected by the content safety check (" + label + ").",
		Detail:  label,
	}
}

// Silent reports whether the denial must not be shown to the user again.
func (d *PolicyDenial) Silent() bool {
	return d.Message == ""
}
