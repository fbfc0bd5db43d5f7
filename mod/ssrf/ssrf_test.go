package ssrf_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/ssrf"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if a, ok := f.addrs[host]; ok {
		return a, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func newValidator(addrs map[string][]net.IPAddr) *ssrf.Validator {
	return &ssrf.Validator{
		Resolver:   &fakeResolver{addrs: addrs},
		DenyRanges: ssrf.DefaultDenyRanges(),
	}
}

func TestValidateRejectsPrivateAddress(t *testing.T) {
	v := newValidator(map[string][]net.IPAddr{
		"internal.example.com": {{IP: net.ParseIP("10.0.0.5")}},
	})

	_, err := v.Validate(context.Background(), "http://internal.example.com/api")
	require.Error(t, err)
	var denied *ssrf.ErrDeniedAddress
	assert.ErrorAs(t, err, &denied)
}

func TestValidateAcceptsPublicAddress(t *testing.T) {
	v := newValidator(map[string][]net.IPAddr{
		"api.example.com": {{IP: net.ParseIP("93.184.216.34")}},
	})

	result, err := v.Validate(context.Background(), "https://api.example.com/api")
	require.NoError(t, err)
	require.Len(t, result.ResolvedAddrs, 1)
	assert.Equal(t, "api.example.com", result.Host)
}

func TestValidateRejectsBadScheme(t *testing.T) {
	v := newValidator(nil)
	_, err := v.Validate(context.Background(), "ftp://example.com/")
	assert.ErrorIs(t, err, ssrf.ErrDisallowedScheme)
}

func TestValidateRejectsMetadataHost(t *testing.T) {
	v := newValidator(map[string][]net.IPAddr{
		"169.254.169.254": {{IP: net.ParseIP("169.254.169.254")}},
	})
	v.MetadataHosts = []string{"169.254.169.254", "metadata.google.internal"}

	_, err := v.Validate(context.Background(), "http://metadata.google.internal/latest")
	assert.ErrorIs(t, err, ssrf.ErrMetadataHost)
}

func TestValidateRejectsWhenAnyResolvedAddressDenied(t *testing.T) {
	v := newValidator(map[string][]net.IPAddr{
		"mixed.example.com": {
			{IP: net.ParseIP("93.184.216.34")},
			{IP: net.ParseIP("127.0.0.1")},
		},
	})

	_, err := v.Validate(context.Background(), "http://mixed.example.com/")
	require.Error(t, err)
}
