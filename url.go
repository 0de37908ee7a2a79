package wren

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Query is an ordered multimap of query string keys to values, preserving
// the spec's "string or ordered sequence of strings" shape (spec §3).
type Query map[string][]string

// Get returns the first value for key, or "" if absent.
func (q Query) Get(key string) string {
	vs := q[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Set replaces all values for key.
func (q Query) Set(key, value string) {
	q[key] = []string{value}
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	c := make(Query, len(q))
	for k, vs := range q {
		cp := make([]string, len(vs))
		copy(cp, vs)
		c[k] = cp
	}
	return c
}

// dataRequestPrefix is the well-known prefix for framework-internal data
// requests (spec §3, §6 glossary "Data request").
const dataRequestPrefix = "/_next/data/"

// ParsedURL is the shared URL value object routing and edge code operate on
// (spec §3). Its pathname never carries query or hash; BasePath, when
// present, is a prefix of the raw path stored separately; Params values are
// always already percent-decoded.
type ParsedURL struct {
	Protocol string
	Host     string
	Port     string
	Pathname string
	Query    Query
	Hash     string

	BasePath      string
	Locale        string
	DefaultLocale string
	BuildID       string
	Page          string
	Params        map[string]string
	Preflight     bool
}

// Clone returns a deep copy of u so handlers can roll back mutations (spec
// §4.3, "the engine maintains originalPathname").
func (u *ParsedURL) Clone() *ParsedURL {
	if u == nil {
		return nil
	}
	c := *u
	c.Query = u.Query.Clone()
	if u.Params != nil {
		c.Params = make(map[string]string, len(u.Params))
		for k, v := range u.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// canonicalizeLocalhost normalizes IPv4 loopback, IPv6 "::1" and the literal
// "localhost" to "localhost" before the underlying net/url parse (spec
// §4.1).
func canonicalizeLocalhost(host string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		h, port = host, ""
	}

	if h != "127.0.0.1" && h != "::1" && h != "localhost" {
		return host
	}

	if port != "" {
		return "localhost:" + port
	}
	return "localhost"
}

// ParseURL parses raw into a ParsedURL. It rejects unparseable input with a
// *DecodeError (spec §4.1).
func ParseURL(raw string) (*ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &DecodeError{Input: raw, Err: err}
	}

	pathname, err := url.PathUnescape(u.EscapedPath())
	if err != nil {
		return nil, &DecodeError{Input: raw, Err: err}
	}
	if pathname == "" {
		pathname = "/"
	}

	host := u.Host
	if host != "" {
		host = canonicalizeLocalhost(host)
	}

	port := u.Port()

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, &DecodeError{Input: raw, Err: err}
	}

	query := make(Query, len(q))
	for k, vs := range q {
		query[k] = vs
	}

	pu := &ParsedURL{
		Protocol: u.Scheme,
		Host:     host,
		Port:     port,
		Pathname: pathname,
		Query:    query,
		Hash:     u.Fragment,
		Params:   map[string]string{},
	}

	decomposeDataRequest(pu)

	return pu, nil
}

// decomposeDataRequest recognizes a "/_next/data/<buildId>/<path>.json" data
// request and splits it into BuildID and a cleaned Pathname (spec §3, §8
// "A data URL /_next/data/<buildId>/index.json decomposes to pathname /").
func decomposeDataRequest(pu *ParsedURL) {
	if !strings.HasPrefix(pu.Pathname, dataRequestPrefix) {
		return
	}

	rest := pu.Pathname[len(dataRequestPrefix):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return
	}

	buildID := rest[:slash]
	p := rest[slash+1:]
	if !strings.HasSuffix(p, ".json") {
		return
	}
	p = strings.TrimSuffix(p, ".json")

	pu.BuildID = buildID
	if p == "index" || p == "" {
		pu.Pathname = "/"
	} else {
		pu.Pathname = "/" + p
	}
}

// decodeURIComponent percent-decodes s the way captured path params are
// decoded (spec §3 invariant: "params values are always already-URI-
// decoded").
func decodeURIComponent(s string) (string, error) {
	return url.QueryUnescape(strings.ReplaceAll(s, "+", "%2B"))
}

// addPathPrefix prepends prefix to p. Per spec §4.1 edge-case policy, a p
// missing its leading "/" is passed through unchanged.
func addPathPrefix(p, prefix string) string {
	if prefix == "" {
		return p
	}
	if p == "" || p[0] != '/' {
		return p
	}
	if p == "/" {
		return prefix
	}
	return prefix + p
}

// StripBasePath removes basePath from p. It reports hadBasePath=false and
// returns p unchanged when p does not carry the prefix (spec §4.1).
func StripBasePath(p, basePath string) (stripped string, hadBasePath bool) {
	if basePath == "" {
		return p, true
	}
	if p == basePath {
		return "/", true
	}
	if strings.HasPrefix(p, basePath+"/") {
		rest := p[len(basePath):]
		if rest == "" {
			rest = "/"
		}
		return rest, true
	}
	return p, false
}

// DetectLocale strips a recognized locale from the first path segment of
// pathname, comparing case-insensitively against locales (spec §4.1).
func DetectLocale(pathname string, locales []string) (stripped string, locale string) {
	if pathname == "" || pathname[0] != '/' {
		return pathname, ""
	}

	rest := pathname[1:]
	seg := rest
	remainder := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		seg = rest[:i]
		remainder = rest[i:]
	}
	if seg == "" {
		return pathname, ""
	}

	for _, l := range locales {
		if strings.EqualFold(seg, l) {
			if remainder == "" {
				remainder = "/"
			}
			return remainder, l
		}
	}

	return pathname, ""
}

// escapePathSegment re-escapes a captured dynamic segment so serialized
// build-time keys (from getStaticPaths) match at runtime (spec §4.1
// edge-case policy).
func escapePathSegment(seg string) string {
	return strings.ReplaceAll(seg, "/", "%2F")
}

// Format rebuilds the canonical URL string for u (spec §4.1). For data
// requests it reinserts "/_next/data/<buildId>/….json" ("index.json" for
// root); the locale is prefixed when it differs from the default; the base
// path is prepended last.
func Format(u *ParsedURL) string {
	pathname := u.Pathname

	if u.Locale != "" && u.Locale != u.DefaultLocale {
		if pathname == "/" {
			pathname = "/" + u.Locale
		} else {
			pathname = "/" + u.Locale + pathname
		}
	}

	if u.BuildID != "" {
		dataPath := strings.TrimPrefix(pathname, "/")
		if dataPath == "" {
			dataPath = "index"
		}
		pathname = dataRequestPrefix + u.BuildID + "/" + dataPath + ".json"
	}

	pathname = addPathPrefix(pathname, u.BasePath)

	result := &url.URL{
		Scheme:   u.Protocol,
		Host:     hostPort(u.Host, u.Port),
		Path:     pathname,
		Fragment: u.Hash,
	}

	if len(u.Query) > 0 {
		vs := url.Values{}
		for k, v := range u.Query {
			vs[k] = v
		}
		result.RawQuery = vs.Encode()
	}

	return result.String()
}

func hostPort(host, port string) string {
	if host == "" {
		return ""
	}
	if port == "" {
		return host
	}
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%s", host, port)
}
