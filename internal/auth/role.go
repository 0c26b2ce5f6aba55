// Package auth derives a typed role capability from the static pre-shared
// request keys, so handlers gate on roles instead of comparing raw headers.
package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// Role is a per-request capability derived from the presented key.
type Role string

const (
	// RoleDataOwner holds the recipient addresses and the token map.
	RoleDataOwner Role = "data-owner"
	// RoleContentOwner authors subject/body and triggers sends; it never
	// sees raw recipient addresses.
	RoleContentOwner Role = "content-owner"
)

// Role key headers. One static secret per role.
const (
	HeaderDataKey    = "X-M-Key"
	HeaderContentKey = "X-C-Key"
)

const rolesLocalKey = "auth.roles"

// Authenticator resolves request headers to roles using constant-time key
// comparison.
type Authenticator struct {
	dataKey    []byte
	contentKey []byte
}

func NewAuthenticator(dataKey, contentKey string) (*Authenticator, error) {
	if dataKey == "" || contentKey == "" {
		return nil, fmt.Errorf("both role keys are required")
	}
	if dataKey == contentKey {
		return nil, fmt.Errorf("role keys must differ")
	}

	return &Authenticator{
		dataKey:    []byte(dataKey),
		contentKey: []byte(contentKey),
	}, nil
}

// RolesFromHeaders returns every role whose key matches. A caller
// presenting both valid keys holds both roles.
func (a *Authenticator) RolesFromHeaders(get func(key string) string) []Role {
	var roles []Role
	if keyMatches(a.dataKey, get(HeaderDataKey)) {
		roles = append(roles, RoleDataOwner)
	}
	if keyMatches(a.contentKey, get(HeaderContentKey)) {
		roles = append(roles, RoleContentOwner)
	}
	return roles
}

// Require returns middleware admitting requests that hold at least one of
// the given roles. The derived roles are stored on the request context for
// handlers that need them.
func (a *Authenticator) Require(allowed ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles := a.RolesFromHeaders(func(key string) string { return c.Get(key) })
		c.Locals(rolesLocalKey, roles)

		for _, have := range roles {
			for _, want := range allowed {
				if have == want {
					return c.Next()
				}
			}
		}

		return fmt.Errorf("%w: invalid or missing api key", domain.ErrUnauthorized)
	}
}

// RolesFromContext returns the roles derived by Require middleware.
func RolesFromContext(c *fiber.Ctx) []Role {
	roles, _ := c.Locals(rolesLocalKey).([]Role)
	return roles
}

func keyMatches(secret []byte, presented string) bool {
	if len(secret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(secret, []byte(presented)) == 1
}
