package wren

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/aofei/mimesniffer"
	"golang.org/x/net/http/httpguts"
)

// Sentinel header names the edge pipeline and routing engine use to read
// an edge function's decision back out of its response (spec §6). They are
// never forwarded to the client.
const (
	HeaderNextjsNext      = "x-nextjs-next"
	HeaderNextjsRewrite   = "x-nextjs-rewrite"
	HeaderNextjsRedirect  = "x-nextjs-redirect"
	HeaderNextjsPreflight = "x-nextjs-preflight"
	HeaderNextjsFunctions = "x-nextjs-functions"
	HeaderMatchedPath     = "x-matched-path"
)

// BodyMode is the body-writing mode of an EdgeResponse (spec §3, §4.4).
type BodyMode uint8

const (
	BodyNone BodyMode = iota
	BodyBuffered
	BodyStreaming
)

func (m BodyMode) String() string {
	switch m {
	case BodyBuffered:
		return "buffered"
	case BodyStreaming:
		return "streaming"
	default:
		return "none"
	}
}

// EdgeResponseState is the state machine of spec §4.4/§3:
//
//	init → (status|setHeaders)* → [write → streaming] | [send → buffered] | [redirect|rewrite|next → terminal] → finished
//
// Finished tracks whether *this* response has been fully decided (a
// terminal sentinel was set, or End was called) — distinct from the
// routing engine's RouteResult.Finished, which tracks whether a wire
// response has been emitted to the client. A rewrite, for example, leaves
// EdgeResponseState.Finished=true (this response is decided) while the
// routing engine's RouteResult.Finished stays false (routing continues
// with the rewritten path).
type EdgeResponseState struct {
	Headers    Headers
	StatusCode int
	BodyMode   BodyMode
	Finished   bool

	Body       []byte
	StreamChan chan []byte

	// decided is set by the first body/sentinel-establishing call
	// (send/write/redirect/rewrite/next) in the *current* invocation.
	// Once true, a conflicting call is a no-op: "first writer wins"
	// (spec §4.4). The edge pipeline resets this to false when it
	// starts a new invocation on an inherited response, so a later
	// invocation's redirect/rewrite can still be decided even though an
	// earlier invocation already streamed or buffered a body (Open
	// Question 1, SPEC_FULL.md §11): the middleware adapter then writes
	// the redirect's status and Location and does not send that body.
	decided bool
}

// newEdgeResponseState returns the empty initial response state the first
// invocation of a chain starts with (spec §4.6: "The first invocation
// starts with an empty response.").
func newEdgeResponseState() *EdgeResponseState {
	return &EdgeResponseState{
		Headers:    Headers{},
		StatusCode: http.StatusOK,
	}
}

// inherit builds the response state the next invocation in a chain starts
// with: headers and any already-written body carry forward, but the
// per-invocation "decided" latch resets (spec §4.6 chain protocol, "the
// response state inherited from the prior step (so that headers
// accumulate)").
func (s *EdgeResponseState) inherit() *EdgeResponseState {
	n := &EdgeResponseState{
		Headers:    s.Headers.Clone(),
		StatusCode: s.StatusCode,
		BodyMode:   s.BodyMode,
		Body:       append([]byte(nil), s.Body...),
		StreamChan: s.StreamChan,
	}
	n.Headers.Del(HeaderNextjsNext)
	return n
}

// EdgeResponse is the response half of the edge function surface (spec
// §4.4), wrapping one EdgeResponseState with the mutator methods user code
// calls.
type EdgeResponse struct {
	state    *EdgeResponseState
	request  *EdgeRequest
	function string // descriptor page, for HeadersAlreadySent messages
}

// NewEdgeResponse wraps state for one invocation of function against req.
func NewEdgeResponse(state *EdgeResponseState, req *EdgeRequest, function string) *EdgeResponse {
	return &EdgeResponse{state: state, request: req, function: function}
}

// Status sets the status code. Default is 200.
func (r *EdgeResponse) Status(code int) *EdgeResponse {
	if r.state.Finished {
		return r
	}
	r.state.StatusCode = code
	return r
}

// StatusCode returns the currently set status code.
func (r *EdgeResponse) StatusCode() int {
	return r.state.StatusCode
}

// SetHeader sets key to value, auto-appending a default charset to
// Content-Type when the caller didn't specify one (spec §4.4 "Content-Type
// auto-charset").
func (r *EdgeResponse) SetHeader(key, value string) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("wren: invalid header %q=%q", key, value)
	}

	if strings.EqualFold(key, "Content-Type") {
		value = withDefaultCharset(value)
	}

	r.state.Headers.Set(key, value)
	return nil
}

// SetHeaders sets every key/value pair of hs (spec §4.4 "setHeaders(map)").
func (r *EdgeResponse) SetHeaders(hs map[string]string) error {
	for k, v := range hs {
		if err := r.SetHeader(k, v); err != nil {
			return err
		}
	}
	return nil
}

// AppendHeader appends value to key without clearing existing values.
func (r *EdgeResponse) AppendHeader(key, value string) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("wren: invalid header %q=%q", key, value)
	}
	r.state.Headers.Add(key, value)
	return nil
}

// Header returns the first value set for key.
func (r *EdgeResponse) Header(key string) string {
	return r.state.Headers.Get(key)
}

// withDefaultCharset appends "; charset=..." to contentType when it lacks
// a charset parameter and a default is known for its media type (spec
// §4.4, §8 "Content-Type: text/html without charset receives charset=utf-8
// appended").
func withDefaultCharset(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	if _, ok := params["charset"]; ok {
		return contentType
	}

	charset, ok := defaultCharsetFor(mediaType)
	if !ok {
		return contentType
	}

	return contentType + "; charset=" + charset
}

func defaultCharsetFor(mediaType string) (string, bool) {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return "utf-8", true
	case mediaType == "application/json", mediaType == "application/xml",
		mediaType == "application/javascript", mediaType == "application/ecmascript":
		return "utf-8", true
	default:
		return "", false
	}
}

// Cookie sets a Set-Cookie header for name/value/opts (spec §4.4). Set-
// Cookie always accumulates, never replaces (spec §8).
func (r *EdgeResponse) Cookie(name string, value interface{}, opts CookieOptions) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	c := buildCookie(name, value, opts)
	if s := c.String(); s != "" {
		r.state.Headers.Add("Set-Cookie", s)
	}
	return nil
}

// ClearCookie emits a Set-Cookie that deletes name (spec §4.4).
func (r *EdgeResponse) ClearCookie(name string, opts CookieOptions) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	c := buildClearCookie(name, opts)
	if s := c.String(); s != "" {
		r.state.Headers.Add("Set-Cookie", s)
	}
	return nil
}

// Write enqueues chunk into the streaming body. The first call transitions
// BodyMode to streaming and commits headers (spec §4.4).
func (r *EdgeResponse) Write(chunk []byte) (int, error) {
	if r.state.Finished {
		return 0, &HeadersAlreadySent{Function: r.function}
	}
	if r.state.decided && r.state.BodyMode != BodyStreaming {
		// First writer wins (spec §4.4): an earlier redirect/rewrite/
		// send already decided this invocation's effect.
		return 0, nil
	}

	if r.state.BodyMode == BodyNone {
		r.state.BodyMode = BodyStreaming
		r.state.decided = true
		r.state.StreamChan = make(chan []byte, 16)
	}

	cp := append([]byte(nil), chunk...)
	r.state.StreamChan <- cp
	return len(chunk), nil
}

// Send buffers data as the response body (spec §4.4). Objects are
// JSON-encoded; Content-Type/Content-Length are auto-set; the body is
// suppressed for 204/205/304 and for HEAD requests.
func (r *EdgeResponse) Send(data interface{}, headers map[string]string) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if r.state.decided {
		return nil // first writer wins
	}

	var body []byte
	contentType := "text/plain"

	switch v := data.(type) {
	case nil:
		body = nil
	case string:
		body = []byte(v)
	case []byte:
		body = v
		contentType = sniffContentType(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body = b
		contentType = "application/json"
	}

	if err := r.SetHeaders(headers); err != nil {
		return err
	}
	if r.Header("Content-Type") == "" {
		if err := r.SetHeader("Content-Type", contentType); err != nil {
			return err
		}
	}

	suppressBody := r.StatusCode() == 204 || r.StatusCode() == 205 || r.StatusCode() == 304 ||
		(r.request != nil && r.request.Method == http.MethodHead)

	if !suppressBody {
		r.state.Body = body
		r.SetHeader("Content-Length", strconv.Itoa(len(body)))
	} else {
		r.SetHeader("Content-Length", "0")
	}

	r.state.BodyMode = BodyBuffered
	r.state.decided = true
	return nil
}

func sniffContentType(b []byte) string {
	if len(b) == 0 {
		return "application/octet-stream"
	}
	return mimesniffer.Sniff(b)
}

// location resolves the "back" literal to the Referer header, or "/" if
// absent (spec §4.4 location(url) helper).
func (r *EdgeResponse) location(url string) string {
	if url != "back" {
		return url
	}
	if r.request != nil {
		if ref := r.request.Headers.Get("Referer"); ref != "" {
			return ref
		}
	}
	return "/"
}

// Redirect sets the x-nextjs-redirect sentinel to the formatted target and
// ends this invocation's response (spec §4.4). Status defaults to 302.
func (r *EdgeResponse) Redirect(status int, url string) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if r.state.decided {
		return nil // first writer wins
	}
	if status == 0 {
		status = http.StatusFound
	}

	r.state.StatusCode = status
	r.state.Headers.Set(HeaderNextjsRedirect, r.location(url))
	r.state.decided = true
	r.state.Finished = true
	return nil
}

// Rewrite sets the x-nextjs-rewrite sentinel to the formatted target and
// ends this invocation's response (spec §4.4).
func (r *EdgeResponse) Rewrite(url string) error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if r.state.decided {
		return nil // first writer wins
	}

	r.state.Headers.Set(HeaderNextjsRewrite, url)
	r.state.decided = true
	r.state.Finished = true
	return nil
}

// Next sets the x-nextjs-next sentinel, yielding to the next matching edge
// function in the chain (spec §4.6).
func (r *EdgeResponse) Next() error {
	if r.state.Finished {
		return &HeadersAlreadySent{Function: r.function}
	}
	if r.state.decided {
		return nil
	}

	r.state.Headers.Set(HeaderNextjsNext, "1")
	r.state.decided = true
	r.state.Finished = true
	return nil
}

// End is the terminal transition (spec §4.4). Calling it a second time
// fails with HeadersAlreadySent.
func (r *EdgeResponse) End(data []byte) error {
	if r.state.Finished && (r.state.BodyMode != BodyStreaming || r.state.StreamChan == nil) {
		return &HeadersAlreadySent{Function: r.function}
	}
	if r.state.Finished {
		// A streaming response whose decision was latched by a
		// redirect/rewrite/next may still have its stream closed once.
		close(r.state.StreamChan)
		r.state.StreamChan = nil
		return nil
	}

	if len(data) > 0 {
		if err := r.Send(data, nil); err != nil {
			return err
		}
	}

	if r.state.StreamChan != nil {
		close(r.state.StreamChan)
		r.state.StreamChan = nil
	}

	r.state.Finished = true
	r.state.decided = true
	return nil
}

// finalize is invoked by the sandbox host after an edge function's entry
// point returns without having reached a terminal transition itself. It
// implicitly calls End so the function's buffered/streamed body is closed
// out (§4.4 design: send/write alone don't finish the response, a runtime
// completion does).
func (r *EdgeResponse) finalize() {
	if r.state.Finished {
		if r.state.BodyMode == BodyStreaming && r.state.StreamChan != nil {
			close(r.state.StreamChan)
			r.state.StreamChan = nil
		}
		return
	}
	if !r.state.decided {
		return
	}
	_ = r.End(nil)
}
