package wren

import (
	"io"
	"sync"
)

// EdgeRequest is the request half of the edge function surface (spec
// §4.4). Method/URL/Headers are fixed at construction; Cookies is parsed
// lazily from the Cookie header on first access, grounded on air.Request's
// Cookie/Cookies pairing (request_test.go TestRequestCookie/Cookies).
type EdgeRequest struct {
	Method  string
	URL     *ParsedURL
	Headers Headers
	Body    io.Reader

	RemoteAddress string
	Params        map[string]string

	cookiesOnce sync.Once
	cookies     map[string]string
}

// NewEdgeRequest builds the request view an edge function invocation sees.
func NewEdgeRequest(method string, u *ParsedURL, headers Headers, body io.Reader, remoteAddr string) *EdgeRequest {
	return &EdgeRequest{
		Method:        method,
		URL:           u,
		Headers:       headers,
		Body:          body,
		RemoteAddress: remoteAddr,
		Params:        u.Params,
	}
}

// Header is a case-insensitive accessor over Headers (spec §4.4).
func (r *EdgeRequest) Header(key string) string {
	return r.Headers.Get(key)
}

// Cookie returns the value of the named cookie, and whether it was present
// (spec §4.4).
func (r *EdgeRequest) Cookie(name string) (string, bool) {
	r.parseCookies()
	v, ok := r.cookies[name]
	return v, ok
}

// Cookies returns every cookie sent with the request.
func (r *EdgeRequest) Cookies() map[string]string {
	r.parseCookies()
	return r.cookies
}

func (r *EdgeRequest) parseCookies() {
	r.cookiesOnce.Do(func() {
		r.cookies = parseCookieHeader(r.Headers.Get("Cookie"))
	})
}

// HasConditionContext builds the HasMatchContext a route's "has" clause
// evaluates against this request (spec §4.2).
func (r *EdgeRequest) HasConditionContext() HasMatchContext {
	return HasMatchContext{
		Headers: r.Headers,
		Cookies: r.Cookies(),
		Host:    r.URL.Host,
		Query:   r.URL.Query,
	}
}

// Preflight reports whether this is a Next.js preflight probe the pipeline
// should short-circuit (spec §4.6/§6): method OPTIONS carrying the
// x-nextjs-preflight request header, not a generic CORS preflight (which
// carries Origin/Access-Control-Request-Method instead and is not this
// sentinel).
func (r *EdgeRequest) Preflight() bool {
	if r.Method != "OPTIONS" {
		return false
	}
	return r.Headers.Has(HeaderNextjsPreflight)
}
