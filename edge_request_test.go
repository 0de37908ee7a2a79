package wren

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeRequestHeaderIsCaseInsensitive(t *testing.T) {
	headers := Headers{}
	headers.Set("X-Custom", "value")

	req := NewEdgeRequest("GET", &ParsedURL{Pathname: "/", Params: map[string]string{}}, headers, nil, "10.0.0.1")
	assert.Equal(t, "value", req.Header("x-custom"))
}

func TestEdgeRequestCookieParsing(t *testing.T) {
	headers := Headers{}
	headers.Set("Cookie", "a=1; b=2")

	req := NewEdgeRequest("GET", &ParsedURL{Pathname: "/", Params: map[string]string{}}, headers, nil, "10.0.0.1")

	v, ok := req.Cookie("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	all := req.Cookies()
	assert.Equal(t, "2", all["b"])

	_, ok = req.Cookie("missing")
	assert.False(t, ok)
}

func TestEdgeRequestPreflight(t *testing.T) {
	headers := Headers{}
	headers.Set(HeaderNextjsPreflight, "1")

	req := NewEdgeRequest("OPTIONS", &ParsedURL{Pathname: "/", Params: map[string]string{}}, headers, nil, "10.0.0.1")
	assert.True(t, req.Preflight())

	reqGet := NewEdgeRequest("GET", &ParsedURL{Pathname: "/", Params: map[string]string{}}, headers, nil, "10.0.0.1")
	assert.False(t, reqGet.Preflight())

	corsOnly := Headers{}
	corsOnly.Set("Origin", "https://example.com")
	corsOnly.Set("Access-Control-Request-Method", "POST")
	reqCORS := NewEdgeRequest("OPTIONS", &ParsedURL{Pathname: "/", Params: map[string]string{}}, corsOnly, nil, "10.0.0.1")
	assert.False(t, reqCORS.Preflight(), "a generic CORS preflight without the x-nextjs-preflight sentinel must not short-circuit")
}

func TestEdgeRequestHasConditionContext(t *testing.T) {
	headers := Headers{}
	headers.Set("Cookie", "session=abc")

	u := &ParsedURL{Pathname: "/", Host: "example.com", Query: Query{"q": {"1"}}, Params: map[string]string{}}
	req := NewEdgeRequest("GET", u, headers, strings.NewReader(""), "10.0.0.1")

	ctx := req.HasConditionContext()
	assert.Equal(t, "example.com", ctx.Host)
	assert.Equal(t, "1", ctx.Query.Get("q"))
	assert.Equal(t, "abc", ctx.Cookies["session"])
}
