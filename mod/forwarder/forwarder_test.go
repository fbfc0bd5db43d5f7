package forwarder_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.edgegate.dev/edgegate/mod/forwarder"
	"go.edgegate.dev/edgegate/mod/routetable"
)

func TestForwardRelaysUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/widgets", r.URL.Path)
		assert.Equal(t, "9.9.9.9", r.Header.Get("X-Real-Ip"))
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	fw := forwarder.New(forwarder.Options{})
	route := &routetable.Route{ID: "api", PathPrefix: "/api", UpstreamBase: upstreamURL}

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()

	ferr := fw.Forward(rec, req, route, "9.9.9.9", 0)
	require.Nil(t, ferr)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "hello", string(body))
}

func TestForwardStripsPathWhenConfigured(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/widgets", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	fw := forwarder.New(forwarder.Options{})
	route := &routetable.Route{ID: "api", PathPrefix: "/api", UpstreamBase: upstreamURL, StripPath: true}

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()

	ferr := fw.Forward(rec, req, route, "9.9.9.9", 0)
	require.Nil(t, ferr)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForwardReturnsUpstreamConnectErrorForDeadHost(t *testing.T) {
	deadURL, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)

	fw := forwarder.New(forwarder.Options{})
	route := &routetable.Route{ID: "dead", PathPrefix: "/", UpstreamBase: deadURL}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	ferr := fw.Forward(rec, req, route, "9.9.9.9", 0)
	require.NotNil(t, ferr)
	assert.Equal(t, forwarder.KindUpstreamConnect, ferr.Kind)
}

func TestCheckContentLength(t *testing.T) {
	assert.True(t, forwarder.CheckContentLength(2048, 1024))
	assert.False(t, forwarder.CheckContentLength(512, 1024))
	assert.False(t, forwarder.CheckContentLength(-1, 1024))
}

func TestForwardEnforcesBodyCapOnChunkedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.Copy(io.Discard, r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	fw := forwarder.New(forwarder.Options{})
	route := &routetable.Route{ID: "api", PathPrefix: "/", UpstreamBase: upstreamURL}

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("a", 100)))
	req.ContentLength = -1 // force the streaming path CheckContentLength cannot see
	rec := httptest.NewRecorder()

	ferr := fw.Forward(rec, req, route, "9.9.9.9", 10)
	require.NotNil(t, ferr)
}
