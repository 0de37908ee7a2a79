package wren

import (
	"errors"
	"net/http"
	"strings"
)

// RequestContext is the per-request state threaded through one request's
// traversal of the ordered route groups (spec §4.3). It plays the role
// air.Request/air.Response play for the teacher's router, generalized to
// carry the shared ParsedURL, the edge request/response surface, and the
// routing-local bookkeeping (page-exists memo, bubble-no-fallback) the
// engine's control flow needs.
type RequestContext struct {
	Writer  http.ResponseWriter
	Request *http.Request

	URL              *ParsedURL
	originalPathname string

	EdgeRequest *EdgeRequest
	Headers     Headers

	pageExistsMemo   map[string]bool
	bubbleNoFallback bool
}

// pageExists memoizes a page existence check for the lifetime of one
// request (spec §5 "page-exists memo is per-request and not shared").
func (c *RequestContext) pageExists(page string, check func(string) bool) bool {
	if c.pageExistsMemo == nil {
		c.pageExistsMemo = map[string]bool{}
	}
	if v, ok := c.pageExistsMemo[page]; ok {
		return v
	}
	v := check(page)
	c.pageExistsMemo[page] = v
	return v
}

// Engine is the routing engine (spec §4.3): it builds the ordered route
// groups once at startup from the manifests and traverses them, in order,
// for each request. Grounded on air.router's compiled-route-table design,
// replacing its single trie match with the ordered-groups-of-routes model
// spec §4.3 requires.
type Engine struct {
	BasePath   string
	Locale     LocaleConfig
	MinimalMode bool

	HeaderRoutes   []*Route
	RedirectRoutes []*Route
	RewritesBeforeFiles []*Route
	FilesystemRoutes    []*Route
	PageCheckerRoutes   []*Route
	RewritesAfterFiles  []*Route
	RewritesFallback    []*Route
	CatchAllEdge   *Route
	CatchAllPage   *Route

	Pages *PagesManifest

	Logger *Logger

	// ErrorHandler, when set, takes over for errors the built-in taxonomy
	// (DecodeError/PageNotFoundError/TooManyEdgeCalls/ProxyError) doesn't
	// recognize, mirroring air.Air.ErrorHandler's role as the centralized
	// last-resort handler.
	ErrorHandler func(error, http.ResponseWriter, *http.Request)

	localeNeg *localeNegotiator
}

// NewEngine builds an Engine over a parsed RoutesManifest/PagesManifest and
// the edge pipeline's catch-all handler.
func NewEngine(routes *RoutesManifest, pages PagesManifest, catchAllEdge, catchAllPage Handler, logger *Logger, minimal bool) (*Engine, error) {
	localeCfg := routes.LocaleConfig()

	e := &Engine{
		BasePath:    routes.BasePath,
		Locale:      localeCfg,
		MinimalMode: minimal,
		Pages:       &pages,
		Logger:      logger,
		localeNeg:   newLocaleNegotiator(localeCfg),
	}

	var err error
	e.HeaderRoutes, err = compileManifestRoutes(routes.Headers, KindHeader)
	if err != nil {
		return nil, err
	}
	e.RedirectRoutes, err = compileManifestRoutes(routes.Redirects, KindRedirect)
	if err != nil {
		return nil, err
	}
	e.RewritesBeforeFiles, err = compileManifestRoutes(routes.Rewrites.BeforeFiles, KindRewrite)
	if err != nil {
		return nil, err
	}
	e.RewritesAfterFiles, err = compileManifestRoutes(routes.Rewrites.AfterFiles, KindRewrite)
	if err != nil {
		return nil, err
	}
	e.RewritesFallback, err = compileManifestRoutes(routes.Rewrites.Fallback, KindRewrite)
	if err != nil {
		return nil, err
	}

	e.CatchAllEdge = &Route{Kind: KindCatchAllEdge, Name: "edge", Handler: catchAllEdge}
	e.CatchAllPage = &Route{Kind: KindCatchAllPage, Name: "page", Handler: catchAllPage}

	pageCheckerMatcher, err := CompilePattern("/:rest*")
	if err != nil {
		return nil, err
	}
	e.PageCheckerRoutes = []*Route{{
		Kind:    KindPageChecker,
		Name:    "page-checker",
		Matcher: pageCheckerMatcher,
		Handler: e.checkPageExists,
	}}

	return e, nil
}

// checkPageExists is the page-checker route (spec §4.3): it resolves the
// current pathname against the pages manifest, memoized per request. On a
// hit it hands off to the page catch-all and finishes routing; on a miss it
// continues so the remaining groups (rewrites afterFiles/fallback, the page
// catch-all) still get a chance to run.
func (e *Engine) checkPageExists(ctx *RequestContext) (RouteResult, error) {
	exists := ctx.pageExists(ctx.URL.Pathname, func(page string) bool {
		if e.Pages == nil {
			return false
		}
		_, err := e.Pages.Lookup(page)
		return err == nil
	})
	if !exists {
		return ResultContinue(), nil
	}
	if e.CatchAllPage == nil || e.CatchAllPage.Handler == nil {
		return ResultFinished(), nil
	}
	return e.CatchAllPage.Handler(ctx)
}

func compileManifestRoutes(entries []RouteManifestEntry, kind RouteKind) ([]*Route, error) {
	out := make([]*Route, 0, len(entries))
	for _, entry := range entries {
		m, err := CompilePattern(entry.Source)
		if err != nil {
			return nil, err
		}

		has := make([]HasCondition, 0, len(entry.Has))
		for _, h := range entry.Has {
			c, err := compileHas(HasCondition{Type: HasConditionType(h.Type), Key: h.Key, Value: h.Value})
			if err != nil {
				return nil, err
			}
			has = append(has, c)
		}

		requireBasePath := entry.BasePath == nil || *entry.BasePath

		route := &Route{
			Kind:            kind,
			Name:            entry.Source,
			Matcher:         m,
			Has:             has,
			RequireBasePath: requireBasePath,
			StatusCode:      entry.StatusCode,
		}

		switch kind {
		case KindHeader:
			hdrs := entry.Headers
			route.Handler = func(ctx *RequestContext) (RouteResult, error) {
				for k, v := range hdrs {
					ctx.Writer.Header().Add(k, v)
				}
				return ResultContinue(), nil
			}
		case KindRedirect:
			dest := entry.Destination
			status := entry.StatusCode
			if status == 0 {
				if entry.Permanent {
					status = http.StatusMovedPermanently
				} else {
					status = http.StatusFound
				}
			}
			route.Handler = func(ctx *RequestContext) (RouteResult, error) {
				ctx.Writer.Header().Set("Location", dest)
				ctx.Writer.WriteHeader(status)
				return ResultFinished(), nil
			}
		case KindRewrite:
			dest := entry.Destination
			route.Handler = func(ctx *RequestContext) (RouteResult, error) {
				return ResultRewrite(dest, ctx.URL.Query), nil
			}
		}

		out = append(out, route)
	}
	return out, nil
}

// isAPIRoute reports whether pathname falls under "/api", which spec §6
// excludes from locale negotiation entirely (no locale prefix, no
// Accept-Language fallback).
func isAPIRoute(pathname string) bool {
	return pathname == "/api" || strings.HasPrefix(pathname, "/api/")
}

// ServeHTTP implements http.Handler by traversing the ordered route groups
// of spec §4.3 for one request.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := ParseURL(r.URL.String())
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	u.Host = r.Host

	headers := Headers{}
	for k, vs := range r.Header {
		headers[canonicalHeaderKey(k)] = vs
	}

	if !e.MinimalMode {
		stripped, had := StripBasePath(u.Pathname, e.BasePath)
		if e.BasePath != "" && !had {
			http.NotFound(w, r)
			return
		}
		u.Pathname = stripped
		u.BasePath = e.BasePath

		if !isAPIRoute(u.Pathname) {
			strippedLocale, locale, defaultLocale := e.localeNeg.negotiate(u.Pathname, u.Host, headers.Values("Accept-Language"))
			u.Pathname = strippedLocale
			u.Locale = locale
			u.DefaultLocale = defaultLocale
		}
	}

	ctx := &RequestContext{
		Writer:           w,
		Request:          r,
		URL:              u,
		originalPathname: u.Pathname,
		Headers:          headers,
	}
	ctx.EdgeRequest = NewEdgeRequest(r.Method, u, headers, r.Body, r.RemoteAddr)

	if err := e.route(ctx); err != nil {
		e.handleError(w, r, err)
	}
}

// route runs the ordered route groups in the sequence spec §4.3 fixes:
// headers -> redirects -> rewrites(beforeFiles) -> filesystem ->
// edge catch-all -> page checker -> rewrites(afterFiles) ->
// rewrites(fallback) -> page catch-all.
func (e *Engine) route(ctx *RequestContext) error {
	groups := [][]*Route{
		e.HeaderRoutes,
		e.RedirectRoutes,
		e.RewritesBeforeFiles,
		e.FilesystemRoutes,
	}

	for _, group := range groups {
		finished, err := e.runGroup(ctx, group)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}

	if finished, err := e.runOne(ctx, e.CatchAllEdge); err != nil || finished {
		return err
	}

	for _, group := range [][]*Route{e.PageCheckerRoutes, e.RewritesAfterFiles, e.RewritesFallback} {
		finished, err := e.runGroup(ctx, group)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}

	_, err := e.runOne(ctx, e.CatchAllPage)
	return err
}

func (e *Engine) runGroup(ctx *RequestContext, routes []*Route) (bool, error) {
	for _, route := range routes {
		finished, err := e.runRoute(ctx, route)
		if err != nil {
			return false, err
		}
		if finished {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) runOne(ctx *RequestContext, route *Route) (bool, error) {
	if route == nil || route.Handler == nil {
		return false, nil
	}
	return e.runRoute(ctx, route)
}

func (e *Engine) runRoute(ctx *RequestContext, route *Route) (bool, error) {
	hasCtx := ctx.EdgeRequest.HasConditionContext()

	params, ok := route.Match(ctx.URL.Pathname, hasCtx)
	if !ok {
		return false, nil
	}
	for k, v := range params {
		ctx.URL.Params[k] = v
	}
	ctx.EdgeRequest.Params = ctx.URL.Params

	result, err := route.Handler(ctx)
	if err != nil {
		return false, err
	}

	if result.hasPathname {
		ctx.URL.Pathname = result.Pathname
	}
	if result.hasQuery {
		ctx.URL.Query = result.Query
		ctx.EdgeRequest.URL = ctx.URL
	}

	if route.Check {
		return e.applyCheckTrue(ctx)
	}

	return result.Finished, nil
}

// applyCheckTrue re-enters the filesystem and page-checker routes after a
// check-flagged handler returns, per spec §4.3's "bubble-no-fallback"
// recovery subroutine: a rewrite target that itself doesn't resolve to a
// real page falls back to the original, pre-rewrite pathname.
func (e *Engine) applyCheckTrue(ctx *RequestContext) (bool, error) {
	if finished, err := e.runGroup(ctx, e.FilesystemRoutes); err != nil || finished {
		return finished, err
	}
	if finished, err := e.runGroup(ctx, e.PageCheckerRoutes); err != nil || finished {
		return finished, err
	}

	if ctx.bubbleNoFallback {
		return false, &NoFallbackError{Pathname: ctx.URL.Pathname}
	}

	ctx.URL.Pathname = ctx.originalPathname
	return false, nil
}

func (e *Engine) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var decodeErr *DecodeError
	var notFoundErr *PageNotFoundError
	var noFallbackErr *NoFallbackError
	var tooMany *TooManyEdgeCalls
	var proxyErr *ProxyError

	switch {
	case errors.As(err, &decodeErr):
		http.Error(w, "bad request", http.StatusBadRequest)
	case errors.As(err, &notFoundErr), errors.As(err, &noFallbackErr):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &tooMany):
		http.Error(w, "too many edge function calls", http.StatusInternalServerError)
	case errors.As(err, &proxyErr):
		http.Error(w, "bad gateway", http.StatusBadGateway)
	default:
		if e.Logger != nil {
			e.Logger.Errorf("wren: unhandled routing error: %v", err)
		}
		if e.ErrorHandler != nil {
			e.ErrorHandler(err, w, r)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
