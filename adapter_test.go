package wren

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEdgeResponseBufferedBody(t *testing.T) {
	state := newEdgeResponseState()
	state.StatusCode = 200
	state.Body = []byte("hello")
	state.Headers.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	require.NoError(t, WriteEdgeResponse(rec, req, state))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestWriteEdgeResponseRedirect(t *testing.T) {
	state := newEdgeResponseState()
	state.StatusCode = 302
	state.Headers.Set(HeaderNextjsRedirect, "/new-location")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/old", nil)

	require.NoError(t, WriteEdgeResponse(rec, req, state))
	assert.Equal(t, 302, rec.Code)
	assert.Equal(t, "/new-location", rec.Header().Get("Location"))
}

func TestWriteEdgeResponsePermanentRedirectEmitsRefresh(t *testing.T) {
	state := newEdgeResponseState()
	state.StatusCode = http.StatusPermanentRedirect
	state.Headers.Set(HeaderNextjsRedirect, "/new-location")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/old", nil)

	require.NoError(t, WriteEdgeResponse(rec, req, state))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "0;url=/new-location", rec.Header().Get("Refresh"))
}

func TestCopyHeadersSkipsSentinels(t *testing.T) {
	src := Headers{}
	src.Set(HeaderNextjsNext, "1")
	src.Set("X-Keep", "yes")

	dst := http.Header{}
	copyHeaders(dst, src)

	assert.Empty(t, dst.Get(HeaderNextjsNext))
	assert.Equal(t, "yes", dst.Get("X-Keep"))
}

func TestIsAbsoluteURL(t *testing.T) {
	assert.True(t, isAbsoluteURL("https://example.com/x"))
	assert.False(t, isAbsoluteURL("/relative/path"))
}
