package wren

import (
	"sort"
	"strconv"
)

// maxEdgeCalls is the recursion cap spec §4.6 sets for internally-resolved
// rewrites inside the edge pipeline.
const maxEdgeCalls = 5

// EdgePipeline runs every matching edge function for a request in manifest
// order and composes their effects into one RouteResult (spec §4.6).
// Grounded on air.router's ordered-match-then-dispatch shape, adapted from
// a single matched route to a chain of matches whose response state
// accumulates across invocations.
type EdgePipeline struct {
	Sandbox     *Sandbox
	Descriptors []*EdgeFunctionDescriptor
	BasePath    string
	Locale      LocaleConfig
}

// NewEdgePipeline builds a pipeline over descs, pre-sorted into manifest
// order.
func NewEdgePipeline(sandbox *Sandbox, descs []*EdgeFunctionDescriptor, basePath string, locale LocaleConfig) *EdgePipeline {
	sorted := append([]*EdgeFunctionDescriptor(nil), descs...)
	SortDescriptors(sorted)
	return &EdgePipeline{Sandbox: sandbox, Descriptors: sorted, BasePath: basePath, Locale: locale}
}

// matching returns the descriptors whose pattern matches pathname, in
// manifest order (spec §4.6: "Multiple matches run in manifest order").
func (p *EdgePipeline) matching(pathname string) []*EdgeFunctionDescriptor {
	var out []*EdgeFunctionDescriptor
	for _, d := range p.Descriptors {
		if _, ok := d.Matcher.Match(pathname); ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// PipelineOutcome is the result of running the edge pipeline once: the
// resolved RouteResult for the engine, plus the final accumulated response
// state so the caller (middleware adapter, or a further routing step) can
// inspect headers/body.
type PipelineOutcome struct {
	Result       RouteResult
	Response     *EdgeResponseState
	Event        string
	InvokeCount  int
	Preflight    bool
}

// Run executes the chain of edge functions matching u.Pathname against
// req, starting from an empty response, and returns the composed outcome
// (spec §4.6).
func (p *EdgePipeline) Run(u *ParsedURL, req *EdgeRequest) (*PipelineOutcome, error) {
	return p.run(u, req, newEdgeResponseState(), 0)
}

func (p *EdgePipeline) run(u *ParsedURL, req *EdgeRequest, state *EdgeResponseState, prevCalls int) (*PipelineOutcome, error) {
	if prevCalls >= maxEdgeCalls {
		return nil, &TooManyEdgeCalls{Limit: maxEdgeCalls}
	}

	matches := p.matching(u.Pathname)
	if len(matches) == 0 {
		return &PipelineOutcome{Result: ResultContinue(), Response: state}, nil
	}

	calls := prevCalls
	cur := state

	for _, d := range matches {
		if calls >= maxEdgeCalls {
			return nil, &TooManyEdgeCalls{Limit: maxEdgeCalls}
		}

		invocationState := cur.inherit()
		result, err := p.Sandbox.Run(d, req, invocationState)
		if err != nil {
			return nil, err
		}
		calls++
		cur = result.Response

		if req.Preflight() && cur.Headers.Has(HeaderNextjsPreflight) {
			cur.Headers.Set(HeaderNextjsFunctions, strconv.Itoa(calls))
			return &PipelineOutcome{
				Result:      ResultFinished(),
				Response:    cur,
				Preflight:   true,
				InvokeCount: calls,
			}, nil
		}

		if cur.Headers.Has(HeaderNextjsNext) {
			continue
		}

		return p.translate(u, req, cur, calls)
	}

	cur.Headers.Set(HeaderNextjsFunctions, strconv.Itoa(calls))
	return &PipelineOutcome{Result: ResultContinue(), Response: cur, InvokeCount: calls}, nil
}

// translate converts the terminal sentinel on state into a RouteResult
// (spec §4.6 "Effect translation back to the engine").
func (p *EdgePipeline) translate(u *ParsedURL, req *EdgeRequest, state *EdgeResponseState, calls int) (*PipelineOutcome, error) {
	state.Headers.Set(HeaderNextjsFunctions, strconv.Itoa(calls))

	if target := state.Headers.Get(HeaderNextjsRedirect); target != "" {
		return &PipelineOutcome{Result: ResultFinished(), Response: state, InvokeCount: calls}, nil
	}

	if target := state.Headers.Get(HeaderNextjsRewrite); target != "" {
		if len(target) > 0 && target[0] == '/' {
			stripped, _ := StripBasePath(target, p.BasePath)
			stripped, locale := DetectLocale(stripped, p.Locale.Locales)

			nested := u.Clone()
			nested.Pathname = stripped
			if locale != "" {
				nested.Locale = locale
			}

			if again := p.matching(nested.Pathname); len(again) > 0 {
				return p.run(nested, req, state, calls)
			}
		}

		return &PipelineOutcome{
			Result:      ResultRewrite(target, u.Query),
			Response:    state,
			InvokeCount: calls,
		}, nil
	}

	event := ""
	switch state.BodyMode {
	case BodyStreaming:
		event = "streaming"
	case BodyBuffered:
		event = "data"
	}

	return &PipelineOutcome{
		Result:      ResultFinished(),
		Response:    state,
		Event:       event,
		InvokeCount: calls,
	}, nil
}

