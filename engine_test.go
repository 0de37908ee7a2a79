package wren

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, routes *RoutesManifest, pages PagesManifest) *Engine {
	t.Helper()
	logger := NewLogger("test")
	logger.Enabled = false

	catchAllEdge := func(ctx *RequestContext) (RouteResult, error) { return ResultContinue(), nil }
	catchAllPage := func(ctx *RequestContext) (RouteResult, error) {
		ctx.Writer.WriteHeader(http.StatusOK)
		_, _ = ctx.Writer.Write([]byte("page:" + ctx.URL.Pathname))
		return ResultFinished(), nil
	}

	e, err := NewEngine(routes, pages, catchAllEdge, catchAllPage, logger, false)
	require.NoError(t, err)
	return e
}

func TestEngineAppliesHeaderRoute(t *testing.T) {
	routes := &RoutesManifest{
		Headers: []RouteManifestEntry{
			{Source: "/:rest*", Headers: map[string]string{"X-Frame-Options": "DENY"}},
		},
	}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "page:/anything", rec.Body.String())
}

func TestEngineAppliesRedirectRoute(t *testing.T) {
	routes := &RoutesManifest{
		Redirects: []RouteManifestEntry{
			{Source: "/old", Destination: "/new", Permanent: true},
		},
	}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/old", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/new", rec.Header().Get("Location"))
}

func TestEngineAppliesRewriteBeforeFiles(t *testing.T) {
	routes := &RoutesManifest{
		Rewrites: RewritesManifest{
			BeforeFiles: []RouteManifestEntry{
				{Source: "/aliased", Destination: "/real"},
			},
		},
	}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/aliased", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, "page:/real", rec.Body.String())
}

func TestEnginePageCheckerRendersKnownPage(t *testing.T) {
	routes := &RoutesManifest{}
	pages := PagesManifest{"/about": "pages/about.js"}
	e := newTestEngine(t, routes, pages)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, "page:/about", rec.Body.String())
}

func TestEngineStripsBasePath(t *testing.T) {
	routes := &RoutesManifest{BasePath: "/app"}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/app/hello", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, "page:/hello", rec.Body.String())
}

func TestEngineMissingBasePathIs404(t *testing.T) {
	routes := &RoutesManifest{BasePath: "/app"}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineCatchAllRoutesDoNotPanicOnNilMatcher(t *testing.T) {
	e := newTestEngine(t, &RoutesManifest{}, PagesManifest{})

	assert.NotPanics(t, func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/anything/at/all", nil)
		e.ServeHTTP(rec, req)
	})
}

func TestEngineSkipsLocaleNegotiationForAPIRoutes(t *testing.T) {
	routes := &RoutesManifest{
		I18n: &I18nManifest{Locales: []string{"en", "fr"}, DefaultLocale: "en"},
	}
	e := newTestEngine(t, routes, PagesManifest{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set("Accept-Language", "fr")
	e.ServeHTTP(rec, req)

	assert.Equal(t, "page:/api/hello", rec.Body.String())
}
