package wren

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildCookie(t *testing.T) {
	c := buildCookie("session", "abc123", CookieOptions{
		Domain:   "example.com",
		Path:     "/",
		MaxAgeMS: 3600_000,
		Secure:   true,
		HTTPOnly: true,
		SameSite: "Strict",
	})

	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "abc123", c.Value)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.Secure)
	assert.True(t, c.HTTPOnly)
	assert.Contains(t, c.String(), "session=abc123")
	assert.Contains(t, c.String(), "Secure")
	assert.Contains(t, c.String(), "HttpOnly")
	assert.Contains(t, c.String(), "SameSite=Strict")
}

func TestBuildCookieEncodesNonStringValues(t *testing.T) {
	c := buildCookie("prefs", map[string]interface{}{"theme": "dark"}, CookieOptions{})
	assert.Contains(t, c.Value, "j:")
}

func TestBuildClearCookie(t *testing.T) {
	c := buildClearCookie("session", CookieOptions{Path: "/"})
	assert.Equal(t, "", c.Value)
	assert.True(t, c.Expires.Before(time.Now()))
}

func TestParseCookieHeader(t *testing.T) {
	got := parseCookieHeader("foo=bar; baz=qux")
	assert.Equal(t, "bar", got["foo"])
	assert.Equal(t, "qux", got["baz"])
}
