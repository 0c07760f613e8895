package interfaces

import (
	"context"

	"classroomhub/pkg/types"
)

// TokenValidator validates opaque bearer tokens.
type TokenValidator interface {
	// Validate returns the token's claims. valid is false for any malformed,
	// expired or wrongly signed token; err is reserved for collaborator failures.
	Validate(ctx context.Context, token string) (claims *types.Claims, valid bool, err error)
}
