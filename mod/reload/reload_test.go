package reload_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/clock"
	"go.edgegate.dev/edgegate/mod/config"
	"go.edgegate.dev/edgegate/mod/reload"
	"go.edgegate.dev/edgegate/mod/routetable"
	"go.edgegate.dev/edgegate/mod/ssrf"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
}

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	return f.addrs[host], nil
}

func newValidator(addrs map[string][]net.IPAddr) *ssrf.Validator {
	return &ssrf.Validator{
		Resolver:   fakeResolver{addrs: addrs},
		DenyRanges: ssrf.DefaultDenyRanges(),
	}
}

func initialLive(t *testing.T) *reload.LiveConfig {
	t.Helper()
	doc, err := config.Load(strings.NewReader("routes:\n  - path: /\n    target: http://origin.internal:8080\n"))
	require.NoError(t, err)
	snap, policy, err := config.Compile(doc, clock.New())
	require.NoError(t, err)
	return &reload.LiveConfig{Snapshot: snap, Policy: policy}
}

func TestReloadInstallsValidConfig(t *testing.T) {
	initial := initialLive(t)
	v := newValidator(map[string][]net.IPAddr{
		"api.example.com": {{IP: net.ParseIP("93.184.216.34")}},
	})
	r := reload.New(initial, v, clock.New())

	newDoc := "routes:\n  - path: /api\n    target: http://api.example.com\n"
	err := r.Reload(context.Background(), strings.NewReader(newDoc))
	require.NoError(t, err)

	route, err := r.Current().Snapshot.Match("/api/x")
	require.NoError(t, err)
	assert.Equal(t, "/api", route.PathPrefix)
	assert.Equal(t, reload.StateSteady, r.State())
}

func TestReloadRejectsSSRFTargetAndKeepsPreviousSnapshot(t *testing.T) {
	initial := initialLive(t)
	v := newValidator(map[string][]net.IPAddr{
		"169.254.169.254": {{IP: net.ParseIP("169.254.169.254")}},
	})
	r := reload.New(initial, v, clock.New())

	badDoc := "routes:\n  - path: /meta\n    target: http://169.254.169.254/\n"
	err := r.Reload(context.Background(), strings.NewReader(badDoc))
	require.Error(t, err)

	// Previous snapshot is still live and unchanged: /meta still falls
	// through to the original "/" catch-all.
	route, err := r.Current().Snapshot.Match("/meta")
	require.NoError(t, err)
	assert.Equal(t, "/", route.PathPrefix)
	assert.NotErrorIs(t, err, routetable.ErrNoMatch)
	assert.Equal(t, reload.StateSteady, r.State())
}

func TestReloadRejectsInvalidDocumentWithoutTouchingLiveConfig(t *testing.T) {
	initial := initialLive(t)
	r := reload.New(initial, nil, clock.New())

	before := r.Current()

	badDoc := "routes:\n  - path: no-leading-slash\n    target: http://a:8080\n"
	err := r.Reload(context.Background(), strings.NewReader(badDoc))
	require.Error(t, err)

	assert.Same(t, before, r.Current())
}

func TestConcurrentReloadsAreSerialized(t *testing.T) {
	initial := initialLive(t)
	v := newValidator(map[string][]net.IPAddr{
		"a.example.com": {{IP: net.ParseIP("1.2.3.4")}},
		"b.example.com": {{IP: net.ParseIP("1.2.3.5")}},
	})
	r := reload.New(initial, v, clock.New())

	done := make(chan error, 2)
	go func() {
		done <- r.Reload(context.Background(), strings.NewReader("routes:\n  - path: /a\n    target: http://a.example.com\n"))
	}()
	go func() {
		done <- r.Reload(context.Background(), strings.NewReader("routes:\n  - path: /b\n    target: http://b.example.com\n"))
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("reload did not complete in time")
		}
	}

	// Whichever reload landed last, exactly one route set is live and
	// the reloader ends in a consistent steady state.
	assert.Equal(t, reload.StateSteady, r.State())
	assert.Equal(t, 1, r.Current().Snapshot.Len())
}
