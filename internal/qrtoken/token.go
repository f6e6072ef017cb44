package qrtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned for any token that does not parse, verify or
// carry the required fields.
var ErrMalformed = errors.New("malformed scan token")

// Payload is what a scan token carries.
type Payload struct {
	SessionID      string
	IssuedAtMillis int64
	TeacherID      string
}

// IssuedAt returns the issuance instant.
func (p Payload) IssuedAt() time.Time {
	return time.UnixMilli(p.IssuedAtMillis)
}

// Claims represents the JWT payload of a scan token.
type Claims struct {
	SessionID      string `json:"sid"`
	IssuedAtMillis int64  `json:"iat_ms"`
	TeacherID      string `json:"tid"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 scan tokens.
type Signer struct {
	key    []byte
	issuer string
}

// NewSigner creates a signer for the given key and issuer.
func NewSigner(key, issuer string) *Signer {
	return &Signer{key: []byte(key), issuer: issuer}
}

// Issue signs a token bound to a session, its teacher and the issuance time.
func (s *Signer) Issue(sessionID, teacherID string, issuedAt time.Time) (string, error) {
	claims := Claims{
		SessionID:      sessionID,
		IssuedAtMillis: issuedAt.UnixMilli(),
		TeacherID:      teacherID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies the signature and returns the payload. Expiry is not checked
// here; callers compare IssuedAtMillis against their own window.
func (s *Signer) Parse(tokenStr string) (Payload, error) {
	if tokenStr == "" {
		return Payload{}, ErrMalformed
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return Payload{}, ErrMalformed
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Payload{}, ErrMalformed
	}
	if claims.SessionID == "" || claims.TeacherID == "" || claims.IssuedAtMillis <= 0 {
		return Payload{}, ErrMalformed
	}
	return Payload{
		SessionID:      claims.SessionID,
		IssuedAtMillis: claims.IssuedAtMillis,
		TeacherID:      claims.TeacherID,
	}, nil
}
