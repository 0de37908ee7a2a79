package wren

import "strings"

// Headers is a case-insensitive multimap of HTTP header names to values.
// It backs both the inbound edge request headers and the accumulating
// EdgeResponseState headers (spec §3, §4.4).
type Headers map[string][]string

// canonicalHeaderKey lower-cases k so lookups are case-insensitive. Unlike
// net/http.CanonicalHeaderKey, we don't title-case: the wire writer is
// responsible for canonical casing, this map is purely a lookup key.
func canonicalHeaderKey(k string) string {
	return strings.ToLower(k)
}

// Get returns the first value associated with key, or "" if there is none.
func (h Headers) Get(key string) string {
	vs := h[canonicalHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values associated with key.
func (h Headers) Values(key string) []string {
	return h[canonicalHeaderKey(key)]
}

// Set replaces any existing values for key with value.
func (h Headers) Set(key, value string) {
	h[canonicalHeaderKey(key)] = []string{value}
}

// Add appends value to the entries already associated with key. Used for
// multi-valued headers, most importantly Set-Cookie (spec §4.4: "always
// appended, never replaced").
func (h Headers) Add(key, value string) {
	h[canonicalHeaderKey(key)] = append(h[canonicalHeaderKey(key)], value)
}

// Del removes all values associated with key.
func (h Headers) Del(key string) {
	delete(h, canonicalHeaderKey(key))
}

// Has reports whether key has at least one value.
func (h Headers) Has(key string) bool {
	return len(h[canonicalHeaderKey(key)]) > 0
}

// Clone returns a deep copy of h, used when an edge response inherits the
// prior invocation's accumulated headers (spec §4.6 chain protocol).
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	c := make(Headers, len(h))
	for k, vs := range h {
		cp := make([]string, len(vs))
		copy(cp, vs)
		c[k] = cp
	}
	return c
}
