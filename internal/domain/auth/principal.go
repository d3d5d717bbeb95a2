// Package auth resolves bearer credentials into principals and decides
// whether a principal may act on a resource.
package auth

import (
	"fmt"
	"slices"

	"github.com/xenking/dscommerce/internal/domain/apperr"
)

// Role is a named permission set granted to a user.
type Role string

const (
	// RoleClient is granted to every customer account.
	RoleClient Role = "ROLE_CLIENT"
	// RoleAdmin is granted to catalog operators. Admins bypass ownership checks.
	RoleAdmin Role = "ROLE_ADMIN"
)

// Credential verification failures. Each one wraps apperr.ErrUnauthorized.
var (
	ErrMissingCredential   = fmt.Errorf("missing credential: %w", apperr.ErrUnauthorized)
	ErrMalformedCredential = fmt.Errorf("malformed credential: %w", apperr.ErrUnauthorized)
	ErrInvalidCredential   = fmt.Errorf("invalid credential: %w", apperr.ErrUnauthorized)
	ErrExpiredCredential   = fmt.Errorf("expired credential: %w", apperr.ErrUnauthorized)
)

// Principal is an authenticated caller.
type Principal struct {
	ID    int64
	Name  string
	Email string
	Roles []Role
}

// HasRole reports whether the principal was granted role.
func (p Principal) HasRole(role Role) bool {
	return slices.Contains(p.Roles, role)
}

// Identity is the outcome of resolving a request credential: either an
// authenticated Principal or the reason verification failed. The zero value
// is an unauthenticated identity with a missing credential.
type Identity struct {
	principal     Principal
	err           error
	authenticated bool
}

// Authenticated returns an Identity for a verified principal.
func Authenticated(p Principal) Identity {
	return Identity{principal: p, authenticated: true}
}

// Unauthenticated returns an Identity that failed verification with err.
func Unauthenticated(err error) Identity {
	if err == nil {
		err = ErrMissingCredential
	}
	return Identity{err: err}
}

// Principal returns the verified principal, if any.
func (id Identity) Principal() (Principal, bool) {
	return id.principal, id.authenticated
}

// Err returns the verification failure, or nil for an authenticated identity.
func (id Identity) Err() error {
	if id.authenticated {
		return nil
	}
	if id.err == nil {
		return ErrMissingCredential
	}
	return id.err
}
