// Package auth implements the three independently-sufficient credential
// kinds edgegate's admin and audit surfaces accept: a bcrypt-hashed
// shared secret, MAC'd session tokens with no server-side session table,
// and opaque long-lived API keys hashed at rest.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"go.edgegate.dev/edgegate/mod/clock"
)

// TokenKind distinguishes an access token from a refresh token. A refresh
// token is only ever accepted by the refresh endpoint.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the payload carried inside a session token.
type Claims struct {
	Subject   string    `json:"subject"`
	Kind      TokenKind `json:"kind"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrWrongTokenKind = errors.New("auth: token kind not accepted here")
)

// TokenIssuer issues and verifies session tokens. It deliberately keeps no
// server-side session table: a token is valid if and only if its MAC
// verifies and its expiry has not passed.
type TokenIssuer struct {
	sc         *securecookie.SecureCookie
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
}

// NewTokenIssuer builds a TokenIssuer from a symmetric signing key
// (TOKEN_SIGNING_KEY). accessTTL/refreshTTL default to 30m/7d if zero.
func NewTokenIssuer(signingKey []byte, accessTTL, refreshTTL time.Duration, clk clock.Clock) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	sc := securecookie.New(signingKey, nil)
	// securecookie.Decode rejects anything older than its own internal
	// timestamp window, which defaults to 24h — shorter than refreshTTL.
	// Disable it and rely solely on the explicit Claims.ExpiresAt check
	// in Verify.
	sc.MaxAge(0)

	return &TokenIssuer{
		sc:         sc,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
	}
}

// IssuePair returns a fresh access/refresh token pair for subject.
func (t *TokenIssuer) IssuePair(subject string) (access, refresh string, expiresIn int64, err error) {
	now := t.clock.Now()

	access, err = t.encode(Claims{Subject: subject, Kind: TokenAccess, IssuedAt: now, ExpiresAt: now.Add(t.accessTTL)})
	if err != nil {
		return "", "", 0, err
	}
	refresh, err = t.encode(Claims{Subject: subject, Kind: TokenRefresh, IssuedAt: now, ExpiresAt: now.Add(t.refreshTTL)})
	if err != nil {
		return "", "", 0, err
	}
	return access, refresh, int64(t.accessTTL.Seconds()), nil
}

func (t *TokenIssuer) encode(c Claims) (string, error) {
	return t.sc.Encode("edgegate-session", c)
}

// Verify decodes token and checks that it hasn't expired and matches want.
func (t *TokenIssuer) Verify(token string, want TokenKind) (*Claims, error) {
	var c Claims
	if err := t.sc.Decode("edgegate-session", token, &c); err != nil {
		return nil, err
	}
	if c.Kind != want {
		return nil, ErrWrongTokenKind
	}
	if !t.clock.Now().Before(c.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &c, nil
}

// SharedSecret is the process-wide basic-auth credential.
type SharedSecret struct {
	Username     string
	PasswordHash []byte
}

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Verify performs a constant-time username comparison and a bcrypt
// password comparison. Both must succeed.
func (s SharedSecret) Verify(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.Username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.PasswordHash, []byte(password)) == nil
}
