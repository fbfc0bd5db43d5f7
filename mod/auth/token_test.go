package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/auth"
)

func TestIssuePairRoundTrips(t *testing.T) {
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour, mock)

	access, refresh, expiresIn, err := issuer.IssuePair("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1800), expiresIn)

	accessClaims, err := issuer.Verify(access, auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", accessClaims.Subject)

	refreshClaims, err := issuer.Verify(refresh, auth.TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "alice", refreshClaims.Subject)
}

// A refresh token is spec'd to survive ~7 days. securecookie.Decode
// enforces its own internal timestamp window (default 24h) unless
// MaxAge(0) is set, independent of the explicit Claims.ExpiresAt check
// below — this test would fail after 24h simulated time without that
// call in NewTokenIssuer.
func TestVerifyAcceptsRefreshTokenPastSecureCookiesDefaultWindow(t *testing.T) {
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour, mock)

	_, refresh, _, err := issuer.IssuePair("alice")
	require.NoError(t, err)

	mock.now = mock.now.Add(6 * 24 * time.Hour)

	claims, err := issuer.Verify(refresh, auth.TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour, mock)

	access, _, _, err := issuer.IssuePair("alice")
	require.NoError(t, err)

	mock.now = mock.now.Add(31 * time.Minute)

	_, err = issuer.Verify(access, auth.TokenAccess)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestVerifyRejectsWrongTokenKind(t *testing.T) {
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour, mock)

	access, _, _, err := issuer.IssuePair("alice")
	require.NoError(t, err)

	_, err = issuer.Verify(access, auth.TokenRefresh)
	assert.ErrorIs(t, err, auth.ErrWrongTokenKind)
}
