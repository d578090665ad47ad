package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

var providerIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_.][a-z0-9]+)*$`)

// OwnerID identifies the user that owns memories, history and rate windows.
type OwnerID string

// Validate checks that the owner is non-empty and usable as a storage path segment
func (o OwnerID) Validate() error {
	if o == "" {
		return goerr.New("owner ID cannot be empty")
	}
	for _, r := range o {
		if r == '/' || r < 0x20 {
			return goerr.New("owner ID contains invalid character", goerr.V("owner", o))
		}
	}
	return nil
}

func (o OwnerID) String() string {
	return string(o)
}

// ProviderID identifies one configured generation provider.
type ProviderID string

func (p ProviderID) Validate() error {
	if p == "" {
		return goerr.New("provider ID cannot be empty")
	}
	if !providerIDPattern.MatchString(string(p)) {
		return goerr.New("provider ID must be lowercase alphanumeric separated by '-', '_' or '.'", goerr.V("id", p))
	}
	return nil
}

func (p ProviderID) String() string {
	return string(p)
}

// ChannelRef points at the conversation a request came from. It is opaque to the broker.
type ChannelRef string

func (c ChannelRef) String() string {
	return string(c)
}
