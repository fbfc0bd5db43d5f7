package auth_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/auth"
	"go.edgegate.dev/edgegate/mod/clock"
)

type keyClockMock struct{ now time.Time }

func (c *keyClockMock) Now() time.Time { return c.now }
func (c *keyClockMock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

var _ clock.Clock = (*keyClockMock)(nil)

func openKeyStore(t *testing.T) (*auth.KeyStore, *keyClockMock) {
	t.Helper()
	mock := &keyClockMock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "keys.db")
	ks, err := auth.OpenKeyStore(path, mock)
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return ks, mock
}

func TestCreateAndValidateRoundTrip(t *testing.T) {
	ks, _ := openKeyStore(t)

	rec, plaintext, err := ks.Create("ci-bot")
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.True(t, rec.Active)

	got, ok := ks.Validate(plaintext)
	require.True(t, ok)
	assert.Equal(t, rec.KeyID, got.KeyID)
}

func TestPlaintextKeyIsNeverStored(t *testing.T) {
	ks, _ := openKeyStore(t)

	_, plaintext, err := ks.Create("ci-bot")
	require.NoError(t, err)

	for _, rec := range ks.List() {
		assert.NotEqual(t, plaintext, rec.Hash)
		assert.NotContains(t, rec.Hash, plaintext)
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	ks, _ := openKeyStore(t)

	_, ok := ks.Validate("not-a-real-key")
	assert.False(t, ok)
}

func TestValidateRejectsRevokedKey(t *testing.T) {
	ks, _ := openKeyStore(t)

	rec, plaintext, err := ks.Create("ci-bot")
	require.NoError(t, err)

	require.NoError(t, ks.Revoke(rec.KeyID))

	_, ok := ks.Validate(plaintext)
	assert.False(t, ok)
}

func TestValidateUpdatesLastUsedAt(t *testing.T) {
	ks, mock := openKeyStore(t)

	_, plaintext, err := ks.Create("ci-bot")
	require.NoError(t, err)

	mock.now = mock.now.Add(time.Hour)
	got, ok := ks.Validate(plaintext)
	require.True(t, ok)
	assert.Equal(t, mock.now, got.LastUsedAt)
}

func TestDeleteRemovesKey(t *testing.T) {
	ks, _ := openKeyStore(t)

	rec, plaintext, err := ks.Create("ci-bot")
	require.NoError(t, err)

	require.NoError(t, ks.Delete(rec.KeyID))

	_, ok := ks.Validate(plaintext)
	assert.False(t, ok)
	assert.Empty(t, ks.List())
}

func TestRevokeUnknownKeyReturnsErrKeyNotFound(t *testing.T) {
	ks, _ := openKeyStore(t)
	assert.ErrorIs(t, ks.Revoke("does-not-exist"), auth.ErrKeyNotFound)
}
