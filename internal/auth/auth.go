package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleVendor   = "vendor"
	RoleOperator = "operator"
)

// Claims identify the caller of vendor routes. Operators may act for any vendor.
type Claims struct {
	VendorID string `json:"vendor_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// CanActFor reports whether the caller may read or move money of vendorID.
func (c *Claims) CanActFor(vendorID string) bool {
	if c.Role == RoleOperator {
		return true
	}
	return c.Role == RoleVendor && c.VendorID != "" && c.VendorID == vendorID
}

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type JWTTokenGenerator struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	now    func() time.Time
}
