package wren

// RouteKind discriminates the tagged variant spec §9 models Route as.
type RouteKind uint8

const (
	KindHeader RouteKind = iota
	KindRedirect
	KindRewrite
	KindFilesystem
	KindPageChecker
	KindCatchAllEdge
	KindCatchAllPage
	KindPublicFile
)

// Handler serves or transforms one request for a matched Route. It mutates
// req/res in place and returns a RouteResult describing what happened.
type Handler func(ctx *RequestContext) (RouteResult, error)

// Route is an immutable record built once at server start from the route
// manifests (spec §3). The engine's per-route logic is a dispatch on Kind;
// per-route knobs (Check, RequireBasePath, Internal) are plain fields, per
// the design notes' "dynamic dispatch over heterogeneous handlers".
type Route struct {
	Kind RouteKind
	Name string

	Matcher *Matcher
	Has     []HasCondition

	RequireBasePath bool
	Internal        bool
	StatusCode      int
	Check           bool

	Handler Handler
}

// RouteResult is returned by every handler (spec §3). Finished=true ends
// routing with whatever the handler wrote; Pathname/Query mutate the shared
// ParsedURL for subsequent routes only when set through ResultRewrite
// (which records them in hasPathname/hasQuery).
type RouteResult struct {
	Finished bool
	Pathname string
	Query    Query

	// hasPathname/hasQuery distinguish "didn't touch" from "set to the
	// zero value", since an empty Pathname is never meaningful but the
	// zero Query is indistinguishable from "no mutation" otherwise.
	hasPathname bool
	hasQuery    bool
}

// ResultContinue is the zero RouteResult: the handler did not finish and
// did not mutate the URL.
func ResultContinue() RouteResult {
	return RouteResult{}
}

// ResultFinished reports a terminal response already written to the wire.
func ResultFinished() RouteResult {
	return RouteResult{Finished: true}
}

// ResultRewrite mutates the shared ParsedURL to pathname/query and
// continues routing (spec §3, §4.3).
func ResultRewrite(pathname string, query Query) RouteResult {
	return RouteResult{Pathname: pathname, Query: query, hasPathname: true, hasQuery: true}
}

// Match reports whether route matches the given pathname and "has"
// context, merging any "has"-clause captures into the returned params.
// A nil Matcher matches every pathname with no captures: the two
// catch-all routes (spec §4.3) run unconditionally once routing reaches
// them, rather than carrying a redundant "/:rest*" matcher of their own.
func (r *Route) Match(pathname string, ctx HasMatchContext) (map[string]string, bool) {
	var params map[string]string
	if r.Matcher != nil {
		var ok bool
		params, ok = r.Matcher.Match(pathname)
		if !ok {
			return nil, false
		}
	} else {
		params = map[string]string{}
	}

	for _, h := range r.Has {
		caps, matched := h.Match(ctx)
		if !matched {
			return nil, false
		}
		for k, v := range caps {
			params[k] = v
		}
	}

	return params, true
}
