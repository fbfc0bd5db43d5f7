package auth_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/auth"
)

func newGate(t *testing.T) (*auth.Gate, string, *auth.KeyStore) {
	t.Helper()
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	secret := auth.SharedSecret{Username: "admin", PasswordHash: hash}

	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour, mock)

	keys, _ := openKeyStore(t)

	return auth.NewGate(secret, issuer, keys), "hunter2", keys
}

func TestGateAcceptsBasicAuth(t *testing.T) {
	gate, _, _ := newGate(t)

	req := httptest.NewRequest("GET", "/admin/status", nil)
	req.SetBasicAuth("admin", "hunter2")

	out := gate.Check(req)
	assert.True(t, out.Allowed)
	assert.Equal(t, auth.CredentialBasic, out.Kind)
}

func TestGateRejectsWrongPassword(t *testing.T) {
	gate, _, _ := newGate(t)

	req := httptest.NewRequest("GET", "/admin/status", nil)
	req.SetBasicAuth("admin", "wrong")

	out := gate.Check(req)
	assert.False(t, out.Allowed)
}

func TestGateAcceptsBearerToken(t *testing.T) {
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	secret := auth.SharedSecret{Username: "admin", PasswordHash: hash}
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour, mock)
	keys, _ := openKeyStore(t)
	gate := auth.NewGate(secret, issuer, keys)

	access, _, _, err := issuer.IssuePair("admin")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+access)

	out := gate.Check(req)
	assert.True(t, out.Allowed)
	assert.Equal(t, auth.CredentialBearer, out.Kind)
	assert.Equal(t, "admin", out.Subject)
}

func TestGateAcceptsAPIKeyHeader(t *testing.T) {
	gate, _, keys := newGate(t)

	rec, plaintext, err := keys.Create("ci-bot")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin/status", nil)
	req.Header.Set("X-Api-Key", plaintext)

	out := gate.Check(req)
	assert.True(t, out.Allowed)
	assert.Equal(t, auth.CredentialAPIKey, out.Kind)
	assert.Equal(t, rec.KeyID, out.Subject)
}

func TestGateRejectsMissingCredentials(t *testing.T) {
	gate, _, _ := newGate(t)

	req := httptest.NewRequest("GET", "/admin/status", nil)

	out := gate.Check(req)
	assert.False(t, out.Allowed)
	assert.Equal(t, auth.CredentialNone, out.Kind)
}
