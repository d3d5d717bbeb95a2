package auth

import "github.com/xenking/dscommerce/internal/domain/apperr"

// Decision is the outcome of an authorization check.
type Decision int

const (
	Allowed Decision = iota
	Unauthorized
	NotFound
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Err maps a rejection to its apperr sentinel. Allowed maps to nil.
func (d Decision) Err() error {
	switch d {
	case Allowed:
		return nil
	case Unauthorized:
		return apperr.ErrUnauthorized
	case NotFound:
		return apperr.ErrNotFound
	default:
		return apperr.ErrForbidden
	}
}

// Authorize decides whether id may read a resource owned by ownerID.
//
// Checks run in a fixed order and stop at the first rejection: identity first
// so that unauthenticated callers never learn whether the resource exists,
// then existence, then the admin bypass, then ownership.
func Authorize(id Identity, found bool, ownerID int64) Decision {
	p, ok := id.Principal()
	if !ok {
		return Unauthorized
	}
	if !found {
		return NotFound
	}
	if p.HasRole(RoleAdmin) {
		return Allowed
	}
	if p.ID == ownerID {
		return Allowed
	}
	return Forbidden
}

// RequireRole decides whether id may perform an operation restricted to role.
func RequireRole(id Identity, role Role) Decision {
	p, ok := id.Principal()
	if !ok {
		return Unauthorized
	}
	if !p.HasRole(role) {
		return Forbidden
	}
	return Allowed
}

// Deny returns the error for a rejected decision d about id. When id is
// unauthenticated because resolution itself failed, such as an unreachable
// token store, that failure is returned instead of the unauthorized sentinel.
func Deny(id Identity, d Decision) error {
	if d == Unauthorized {
		if err := id.Err(); err != nil && apperr.KindOf(err) != apperr.KindUnauthorized {
			return err
		}
	}
	return d.Err()
}
