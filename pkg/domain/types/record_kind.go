package types

import "github.com/m-mizutani/goerr/v2"

// RecordKind tells how a memory record came to exist.
type RecordKind string

const (
	// RecordKindExplicit is created by an explicit "remember" action
	RecordKindExplicit RecordKind = "explicit"
	// RecordKindExchange is stored automatically after a completed exchange
	RecordKindExchange RecordKind = "exchange"
	// RecordKindCorrection supersedes an older record
	RecordKindCorrection RecordKind = "correction"
)

func (k RecordKind) IsValid() bool {
	switch k {
	case RecordKindExplicit, RecordKindExchange, RecordKindCorrection:
		return true
	default:
		return false
	}
}

func (k RecordKind) String() string {
	return string(k)
}

func ParseRecordKind(s string) (RecordKind, error) {
	kind := RecordKind(s)
	if !kind.IsValid() {
		return "", goerr.New("invalid record kind", goerr.V("kind", s))
	}
	return kind, nil
}
