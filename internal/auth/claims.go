package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind tags which identity domain a token was issued for.
type TokenKind string

const (
	// TokenKindUser marks a token issued to a person account; subject is the user id.
	TokenKindUser TokenKind = "user"

	// TokenKindKit marks a token issued to a kit; subject is the kit serial.
	TokenKindKit TokenKind = "kit"
)

// Fallback TTLs when the caller passes a non-positive value. Kit tokens
// run longer because devices authenticate unattended.
const (
	defaultUserTokenTTL = 15 * time.Minute
	defaultKitTokenTTL  = 24 * time.Hour
)

// All tokens are HMAC-signed; ParseToken rejects anything else.
var signingMethod = jwt.SigningMethodHS256

// CustomClaims extends JWT standard claims with Verdant-specific fields.
type CustomClaims struct {
	jwt.RegisteredClaims
	TokenKind TokenKind `json:"knd"`
}

func (c *CustomClaims) validate() error {
	if c.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	switch c.TokenKind {
	case TokenKindUser, TokenKindKit:
		return nil
	default:
		return fmt.Errorf("%w: missing token kind", ErrTokenInvalid)
	}
}

// GenerateUserToken issues a signed access token for a person account.
// Access tokens are short-lived and validated by signature only, no DB hit.
func GenerateUserToken(user *User, secret string, ttlMinutes int) (string, error) {
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultUserTokenTTL
	}
	return signToken(user.ID, TokenKindUser, secret, ttl)
}

// GenerateKitToken issues a signed token for a kit device, with the kit
// serial as subject.
func GenerateKitToken(serial, secret string, ttlMinutes int) (string, error) {
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultKitTokenTTL
	}
	return signToken(serial, TokenKindKit, secret, ttl)
}

func signToken(subject string, kind TokenKind, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(signingMethod, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenKind: kind,
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken checks signature and expiry, then returns the claims.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	keyFn := func(_ *jwt.Token) (any, error) { return []byte(secret), nil }

	tok, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, keyFn,
		jwt.WithValidMethods([]string{signingMethod.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := tok.Claims.(*CustomClaims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	return claims, nil
}
