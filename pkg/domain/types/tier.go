package types

import "github.com/m-mizutani/goerr/v2"

// Tier is a coarse quality/cost class of generation providers.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierQuality  Tier = "quality"
)

// AllTiers returns tiers from cheapest to most capable
func AllTiers() []Tier {
	return []Tier{TierFast, TierBalanced, TierQuality}
}

func (t Tier) IsValid() bool {
	switch t {
	case TierFast, TierBalanced, TierQuality:
		return true
	default:
		return false
	}
}

// Rank orders tiers by cost: fast=0, balanced=1, quality=2. Invalid tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierFast:
		return 0
	case TierBalanced:
		return 1
	case TierQuality:
		return 2
	default:
		return -1
	}
}

func (t Tier) String() string {
	return string(t)
}

func ParseTier(s string) (Tier, error) {
	tier := Tier(s)
	if !tier.IsValid() {
		return "", goerr.New("invalid tier", goerr.V("tier", s))
	}
	return tier, nil
}

// UnmarshalText lets tiers be decoded directly from policy files.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
