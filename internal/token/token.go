// ABOUTME: Signed bearer token issuing and verification for vaultgate
// ABOUTME: HS256 JWTs carrying subject, email, role and tenant claims

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidFormat    = errors.New("token format invalid")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrMissingClaim     = errors.New("missing required claim")
)

// Claims are the verified contents of a bearer token.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	TenantID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service issues and verifies bearer tokens. Verification is stateless:
// only the signature and expiry are checked, no store is consulted.
// Rotating the secret invalidates every previously issued token.
type Service struct {
	secret []byte
}

// NewService creates a token service with the given signing secret.
func NewService(secret []byte) *Service {
	return &Service{secret: secret}
}

// Issue creates a signed token for the given claims with the given TTL.
func (s *Service) Issue(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	mapClaims := jwt.MapClaims{
		"sub":    c.Subject,
		"email":  c.Email,
		"role":   c.Role,
		"tenant": c.TenantID,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	return tok.SignedString(s.secret)
}

// Verify validates the token signature and expiry and returns its claims.
// The HMAC comparison inside the jwt library is constant-time.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	tok, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}

	if !tok.Valid {
		return nil, ErrInvalidSignature
	}

	mapClaims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidFormat
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	c := &Claims{Subject: sub}
	if v, ok := mapClaims["email"].(string); ok {
		c.Email = v
	}
	if v, ok := mapClaims["role"].(string); ok {
		c.Role = v
	}
	if v, ok := mapClaims["tenant"].(string); ok {
		c.TenantID = v
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	return c, nil
}
