// Package auth issues and verifies the bearer tokens that carry a caller
// address to escrowd.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"p2pescrow/crypto"
)

const issuer = "escrowd"

var (
	// ErrMissingSecret is returned when signing or verifying without a key.
	ErrMissingSecret = errors.New("auth: signing secret not configured")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Sign issues an HS256 token whose subject is the caller address.
func Sign(secret []byte, caller [20]byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": crypto.FormatAddress(caller),
		"iat": now.Unix(),
		"nbf": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verifier validates tokens produced by Sign.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret []byte, leeway time.Duration) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: append([]byte(nil), secret...), leeway: leeway, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for expiry checks.
func (v *Verifier) SetNowFunc(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Verify parses token and returns the caller address in its subject.
func (v *Verifier) Verify(token string) ([20]byte, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return [20]byte{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	addr, err := crypto.ParseAddress(sub)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return addr, nil
}
