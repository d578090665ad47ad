package model

import (
	"context"

	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type ownerKey struct{}

// WithOwner binds the owner a call is made for, so internal provider calls
// such as classification and embedding can be attributed in the ledger.
func WithOwner(ctx context.Context, owner types.OwnerID) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func OwnerFrom(ctx context.Context) types.OwnerID {
	owner, _ := ctx.Value(ownerKey{}).(types.OwnerID)
	return owner
}
