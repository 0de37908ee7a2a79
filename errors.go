package wren

import "fmt"

// DecodeError is returned when a raw URL or one of its captured segments
// contains malformed percent-encoding. It is surfaced to the client as a 400.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wren: failed to decode %q: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PageNotFoundError means the pages manifest has no entry for the requested
// page. Surfaced as a 404 unless a fallback is configured.
type PageNotFoundError struct {
	Page string
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("wren: page not found: %s", e.Page)
}

// NoFallbackError is an internal signal raised when a dynamic page has no
// fallback for an unknown path. Recovered by the routing engine when
// bubbleNoFallback is set; otherwise it becomes a 404.
type NoFallbackError struct {
	Pathname string
}

func (e *NoFallbackError) Error() string {
	return fmt.Sprintf("wren: no fallback configured for %s", e.Pathname)
}

// WrappedBuildError carries an error produced during a development build. It
// must be rendered on the error page without being logged as a server error.
type WrappedBuildError struct {
	Inner error
}

func (e *WrappedBuildError) Error() string {
	return fmt.Sprintf("wren: build error: %v", e.Inner)
}

func (e *WrappedBuildError) Unwrap() error {
	return e.Inner
}

// HeadersAlreadySent is a programmer error raised when an edge function
// mutates its response after it has already finished. Fatal to that
// function's invocation; becomes a 500.
type HeadersAlreadySent struct {
	Function string
}

func (e *HeadersAlreadySent) Error() string {
	return fmt.Sprintf("wren: headers already sent in %s", e.Function)
}

// TooManyEdgeCalls is raised when the edge pipeline's recursion cap (5,
// spec §4.6) is exceeded. Fatal to the request; becomes a 500.
type TooManyEdgeCalls struct {
	Limit int
}

func (e *TooManyEdgeCalls) Error() string {
	return fmt.Sprintf("wren: too many edge function calls (limit %d)", e.Limit)
}

// ProxyError wraps an upstream failure encountered while proxying an
// external rewrite. Becomes a 502.
type ProxyError struct {
	Target string
	Err    error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("wren: proxy to %s failed: %v", e.Target, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}
