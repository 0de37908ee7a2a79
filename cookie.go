package wren

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cookie is an HTTP response cookie, built by the edge response surface's
// cookie/clearCookie operations (spec §4.4).
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	MaxAge   int // seconds, as written on the wire (Max-Age)
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// CookieOptions are the options accepted by EdgeResponse.Cookie (spec §4.4).
// MaxAge is expressed in milliseconds, matching the edge function surface;
// it is converted to seconds for the wire Max-Age and used to derive
// Expires (spec §6 "Cookies").
type CookieOptions struct {
	Domain   string
	Path     string
	MaxAgeMS int64
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// buildCookie turns name/value/opts into a wire-ready Cookie. Object values
// are encoded as "j:<json>" (spec §4.4, §6); Path defaults to "/" when
// unset.
func buildCookie(name string, value interface{}, opts CookieOptions) *Cookie {
	path := opts.Path
	if path == "" {
		path = "/"
	}

	c := &Cookie{
		Name:     name,
		Value:    encodeCookieValue(value),
		Domain:   opts.Domain,
		Path:     path,
		Secure:   opts.Secure,
		HTTPOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
		Expires:  opts.Expires,
	}

	if opts.MaxAgeMS != 0 {
		seconds := opts.MaxAgeMS / 1000
		c.MaxAge = int(seconds)
		if c.Expires.IsZero() {
			c.Expires = time.Now().Add(time.Duration(opts.MaxAgeMS) * time.Millisecond)
		}
	}

	return c
}

// buildClearCookie builds a Cookie that instructs the client to delete name:
// an empty value and an Expires in the past.
func buildClearCookie(name string, opts CookieOptions) *Cookie {
	path := opts.Path
	if path == "" {
		path = "/"
	}

	return &Cookie{
		Name:    name,
		Value:   "",
		Domain:  opts.Domain,
		Path:    path,
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	}
}

// encodeCookieValue encodes v for the wire. Strings pass through unchanged;
// every other type is JSON-marshalled and prefixed with "j:" (spec §4.4,
// §6).
func encodeCookieValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}

	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return "j:" + string(b)
}

// String returns the Set-Cookie serialization of c, or "" if c.Name is
// invalid (invalid cookies are silently dropped, as the teacher's
// Response.SetCookie does).
func (c *Cookie) String() string {
	if !validCookieName(c.Name) {
		return ""
	}

	buf := bytes.Buffer{}

	n := strings.ReplaceAll(c.Name, "\r", "-")
	n = strings.ReplaceAll(n, "\n", "-")
	v := sanitize(c.Value, func(b byte) bool {
		return validCookieValue(string(b))
	})
	if strings.IndexByte(v, ' ') >= 0 || strings.IndexByte(v, ',') >= 0 {
		v = `"` + v + `"`
	}

	buf.WriteString(n)
	buf.WriteByte('=')
	buf.WriteString(v)

	if len(c.Path) > 0 {
		buf.WriteString("; Path=")
		buf.WriteString(sanitize(c.Path, func(b byte) bool {
			return 0x20 <= b && b < 0x7f && b != ';'
		}))
	}

	if validCookieDomain(c.Domain) {
		d := c.Domain
		if d[0] == '.' {
			d = d[1:]
		}

		buf.WriteString("; Domain=")
		buf.WriteString(d)
	}

	if c.Expires.Year() >= 1601 {
		buf.WriteString("; Expires=")
		buf2 := buf.Bytes()
		buf.Reset()
		buf.Write(c.Expires.UTC().AppendFormat(buf2, http.TimeFormat))
	}

	if c.MaxAge > 0 {
		buf.WriteString("; Max-Age=")
		buf2 := buf.Bytes()
		buf.Reset()
		buf.Write(strconv.AppendInt(buf2, int64(c.MaxAge), 10))
	} else if c.MaxAge < 0 {
		buf.WriteString("; Max-Age=0")
	}

	if c.SameSite != "" {
		buf.WriteString("; SameSite=")
		buf.WriteString(c.SameSite)
	}

	if c.HTTPOnly {
		buf.WriteString("; HttpOnly")
	}

	if c.Secure {
		buf.WriteString("; Secure")
	}

	return buf.String()
}

// validCookieName returns whether n is a valid cookie name.
func validCookieName(n string) bool {
	return n != "" && strings.IndexFunc(n, func(r rune) bool {
		return !strings.ContainsRune(
			"!#$%&'*+-."+
				"0123456789"+
				"ABCDEFGHIJKLMNOPQRSTUWVXYZ"+
				"^_`"+
				"abcdefghijklmnopqrstuvwxyz"+
				"|~",
			r,
		)
	}) < 0
}

// validCookieValue returns whether v is a valid cookie value byte.
func validCookieValue(v string) bool {
	for _, b := range v {
		if 0x20 <= b && b < 0x7f && b != '"' && b != ';' && b != '\\' {
			return true
		}
	}

	return false
}

// validCookieDomain returns whether d is a valid cookie domain.
func validCookieDomain(d string) bool {
	if l := len(d); l == 0 || l > 255 {
		return false
	}

	if net.ParseIP(d) != nil && !strings.Contains(d, ":") {
		return true
	}

	if d[0] == '.' {
		d = d[1:]
	}

	ok := false
	last := byte('.')
	partlen := 0
	for i := 0; i < len(d); i++ {
		c := d[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
			ok = true
			partlen++
		case '0' <= c && c <= '9':
			partlen++
		case c == '-':
			if last == '.' {
				return false
			}
			partlen++
		case c == '.':
			if last == '.' || last == '-' {
				return false
			}
			if partlen > 63 || partlen == 0 {
				return false
			}
			partlen = 0
		default:
			return false
		}

		last = c
	}

	if last == '-' || partlen > 63 {
		return false
	}

	return ok
}

// sanitize drops every byte of s that fails valid.
func sanitize(s string, valid func(byte) bool) string {
	ok := true
	for i := 0; i < len(s); i++ {
		if !valid(s[i]) {
			ok = false
			break
		}
	}

	if ok {
		return s
	}

	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if b := s[i]; valid(b) {
			buf = append(buf, b)
		}
	}

	return string(buf)
}

// parseCookieHeader parses a raw Cookie request header into a name->value
// map (spec §4.4, "lazy cookies mapping parsed from the Cookie header").
func parseCookieHeader(header string) map[string]string {
	cookies := map[string]string{}
	if header == "" {
		return cookies
	}

	parts := strings.Split(header, ";")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(p[:eq])
		value := strings.TrimSpace(p[eq+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if name == "" {
			continue
		}
		cookies[name] = value
	}

	return cookies
}
