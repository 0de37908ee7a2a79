package wren

import (
	"bytes"

	minify "github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// RenderKind discriminates the shape of a render collaborator's result.
type RenderKind string

const (
	RenderHTML     RenderKind = "html"
	RenderJSON     RenderKind = "json"
	RenderRedirect RenderKind = "redirect"
	RenderNotFound RenderKind = "notFound"
)

// RenderResult is what the page render collaborator returns for one
// pathname (spec §5: "page render has no intrinsic timeout, the
// collaborator's responsibility").
type RenderResult struct {
	Kind       RenderKind
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// PageRenderer renders one page's content. Implementations own template
// execution, data-fetching, and static-props/server-props resolution; the
// routing engine only needs the finished bytes.
type PageRenderer interface {
	Render(pathname string, query Query, params map[string]string) (*RenderResult, error)
}

// RenderBridge sits between the routing engine and a PageRenderer,
// minifying HTML output and caching successful renders (spec §5 "response
// cache"). Grounded on air.renderer's template-minification wiring, traded
// for tdewolff/minify/v2 (the pack's current major version) and folded
// into the single-flight cache rather than air.renderer's html/template
// execution, since page rendering here is delegated to PageRenderer.
type RenderBridge struct {
	Renderer PageRenderer
	Cache    *ResponseCache
	minifier *minify.M
}

// NewRenderBridge constructs a RenderBridge over renderer and cache.
func NewRenderBridge(renderer PageRenderer, cache *ResponseCache) *RenderBridge {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)

	return &RenderBridge{
		Renderer: renderer,
		Cache:    cache,
		minifier: m,
	}
}

// Render resolves pathname/query/params through the render collaborator,
// routing successful HTML/JSON renders through the response cache keyed by
// locale+pathname+amp (spec §5). preview requests always bypass the cache.
func (b *RenderBridge) Render(pathname string, query Query, params map[string]string, locale string, amp, preview bool) (*RenderResult, error) {
	if preview {
		return b.render(pathname, query, params)
	}

	key := CacheKey(locale, pathname, amp)

	var uncached *RenderResult
	entry, err := b.Cache.GetOrRender(key, false, func() (*CacheEntry, error) {
		result, err := b.render(pathname, query, params)
		if err != nil {
			return nil, err
		}
		if !cacheable(result) {
			uncached = result
			return nil, errUncacheable
		}
		return &CacheEntry{
			StatusCode: result.StatusCode,
			Headers:    result.Headers,
			Body:       result.Body,
		}, nil
	})

	if err == errUncacheable {
		if uncached != nil {
			return uncached, nil
		}
		return b.render(pathname, query, params)
	}
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		Kind:       RenderHTML,
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers,
		Body:       entry.Body,
	}, nil
}

func (b *RenderBridge) render(pathname string, query Query, params map[string]string) (*RenderResult, error) {
	result, err := b.Renderer.Render(pathname, query, params)
	if err != nil {
		return nil, err
	}

	if result.Kind == RenderHTML {
		var buf bytes.Buffer
		if err := b.minifier.Minify("text/html", &buf, bytes.NewReader(result.Body)); err == nil {
			minified := *result
			minified.Body = buf.Bytes()
			result = &minified
		}
	}

	return result, nil
}

func cacheable(r *RenderResult) bool {
	return (r.Kind == RenderHTML || r.Kind == RenderJSON) && r.StatusCode == 200
}

// errUncacheable is a sentinel singleflight.Group error used internally to
// signal "render succeeded but shouldn't populate the cache" without
// collapsing concurrent non-cacheable renders into a shared, stale result.
var errUncacheable = renderSkipCacheError{}

type renderSkipCacheError struct{}

func (renderSkipCacheError) Error() string { return "wren: render result is not cacheable" }
