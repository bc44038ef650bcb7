package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/spotpay-billing/internal"
)

const defaultIssuer = "spotpay-billing"

// NewJWTTokenGenerator creates an HMAC token generator
func NewJWTTokenGenerator(secret string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTTokenGenerator{
		Secret: []byte(secret),
		TTL:    ttl,
		Issuer: defaultIssuer,
		now:    time.Now,
	}
}

// GenerateAccessToken signs a token for a vendor, or for an operator when
// vendorID is empty and role is RoleOperator.
func (j *JWTTokenGenerator) GenerateAccessToken(vendorID, role string) (string, error) {
	switch role {
	case RoleVendor:
		if vendorID == "" {
			return "", errors.New("vendor tokens need a vendor id")
		}
	case RoleOperator:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := j.now()
	subject := vendorID
	if subject == "" {
		subject = role
	}
	claims := &Claims{
		VendorID: vendorID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, jwt.WithIssuer(j.Issuer), jwt.WithTimeFunc(j.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
