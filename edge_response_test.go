package wren

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEdgeResponse() (*EdgeResponseState, *EdgeResponse) {
	state := newEdgeResponseState()
	req := NewEdgeRequest("GET", &ParsedURL{Pathname: "/", Params: map[string]string{}}, Headers{}, nil, "127.0.0.1")
	return state, NewEdgeResponse(state, req, "test-function")
}

func TestEdgeResponseSetHeaderAndStatus(t *testing.T) {
	state, res := newTestEdgeResponse()
	res.Status(201)
	require.NoError(t, res.SetHeader("X-Test", "value"))

	assert.Equal(t, 201, state.StatusCode)
	assert.Equal(t, "value", state.Headers.Get("X-Test"))
}

func TestEdgeResponseNextSetsSentinel(t *testing.T) {
	state, res := newTestEdgeResponse()
	require.NoError(t, res.Next())
	assert.True(t, state.Headers.Has(HeaderNextjsNext))
	assert.True(t, state.Finished)
}

func TestEdgeResponseRedirectSetsSentinel(t *testing.T) {
	state, res := newTestEdgeResponse()
	require.NoError(t, res.Redirect(302, "/elsewhere"))
	assert.Equal(t, "/elsewhere", state.Headers.Get(HeaderNextjsRedirect))
	assert.True(t, state.Finished)
}

func TestEdgeResponseRewriteSetsSentinel(t *testing.T) {
	state, res := newTestEdgeResponse()
	require.NoError(t, res.Rewrite("/internal"))
	assert.Equal(t, "/internal", state.Headers.Get(HeaderNextjsRewrite))
}

func TestEdgeResponseSendThenDecidedBlocksFurtherTerminal(t *testing.T) {
	state, res := newTestEdgeResponse()
	require.NoError(t, res.Send("hello", nil))
	assert.Equal(t, BodyBuffered, state.BodyMode)

	// First writer wins (spec §4.4): a second terminal call within the
	// same invocation is a silent no-op, not an error.
	require.NoError(t, res.Next())
	assert.False(t, state.Headers.Has(HeaderNextjsNext))
	assert.False(t, state.Finished)
}

func TestEdgeResponseWriteStreamsBody(t *testing.T) {
	state, res := newTestEdgeResponse()
	n, err := res.Write([]byte("chunk-1"))
	require.NoError(t, err)
	assert.Equal(t, len("chunk-1"), n)
	assert.Equal(t, BodyStreaming, state.BodyMode)
}

func TestEdgeResponseSendSuppressesBodyFor204(t *testing.T) {
	state, res := newTestEdgeResponse()
	res.Status(204)
	require.NoError(t, res.Send("should not appear", nil))
	assert.Empty(t, state.Body)
}

func TestEdgeResponseStateInheritResetsDecidedButKeepsHeaders(t *testing.T) {
	state, res := newTestEdgeResponse()
	require.NoError(t, res.SetHeader("X-Carried", "yes"))
	require.NoError(t, res.Next())

	next := state.inherit()
	assert.False(t, next.decided, "a fresh chain invocation must not inherit the 'decided' latch")
	assert.Equal(t, "yes", next.Headers.Get("X-Carried"))
}
