// Package auth issues and verifies the HS256 stream tokens presented on WebSocket upgrades.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingToken signals a request that carried no token at all.
	ErrMissingToken = errors.New("missing auth token")
)

// DefaultLeeway tolerates small clock skew between token issuer and the service.
const DefaultLeeway = 2 * time.Second

// Claims is the payload carried by a stream token: subject, issue time and expiry.
type Claims struct {
	jwt.RegisteredClaims
}

// Authority signs and verifies JWTs with a shared HS256 secret.
type Authority struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewAuthority constructs an authority for the supplied secret and clock skew allowance.
func NewAuthority(secret string, leeway time.Duration) (*Authority, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Authority{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the authority clock for deterministic tests.
func (a *Authority) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Issue signs a token for subject that expires after ttl.
func (a *Authority) Issue(subject string, ttl time.Duration) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("authority not initialised")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature and expiry and returns the embedded claims.
func (a *Authority) Verify(token string) (*Claims, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, errors.New("authority not initialised")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		//1.- Pin the algorithm so "none" and asymmetric headers never reach the key lookup.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}

// Authenticate extracts a token from the request and returns the verified subject.
// The token is read from the auth_token query parameter, the X-Auth-Token header, or a bearer header.
func (a *Authority) Authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		if value := strings.TrimSpace(r.Header.Get("Authorization")); len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			token = strings.TrimSpace(value[7:])
		}
	}
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := a.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
