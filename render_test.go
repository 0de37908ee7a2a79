package wren

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubRenderer struct {
	calls  int
	result *RenderResult
	err    error
}

func (s *stubRenderer) Render(pathname string, query Query, params map[string]string) (*RenderResult, error) {
	s.calls++
	return s.result, s.err
}

func TestRenderBridgeMinifiesAndCaches(t *testing.T) {
	stub := &stubRenderer{result: &RenderResult{
		Kind:       RenderHTML,
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       []byte("<html>  <body>  hi  </body>  </html>"),
	}}

	bridge := NewRenderBridge(stub, NewResponseCache(1<<20))

	r1, err := bridge.Render("/", Query{}, nil, "en", false, false)
	assert.NoError(t, err)
	assert.Less(t, len(r1.Body), len(stub.result.Body))

	r2, err := bridge.Render("/", Query{}, nil, "en", false, false)
	assert.NoError(t, err)
	assert.Equal(t, r1.Body, r2.Body)
	assert.Equal(t, 1, stub.calls, "second render should be served from cache")
}

func TestRenderBridgeBypassesCacheForNotFound(t *testing.T) {
	stub := &stubRenderer{result: &RenderResult{Kind: RenderNotFound, StatusCode: 404}}
	bridge := NewRenderBridge(stub, NewResponseCache(1<<20))

	_, err := bridge.Render("/missing", Query{}, nil, "en", false, false)
	assert.NoError(t, err)
	_, err = bridge.Render("/missing", Query{}, nil, "en", false, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, stub.calls, "non-cacheable results must not be memoized")
}

func TestRenderBridgePreviewBypassesCache(t *testing.T) {
	stub := &stubRenderer{result: &RenderResult{Kind: RenderHTML, StatusCode: 200, Body: []byte("<p>x</p>")}}
	bridge := NewRenderBridge(stub, NewResponseCache(1<<20))

	_, err := bridge.Render("/", Query{}, nil, "en", false, true)
	assert.NoError(t, err)
	_, err = bridge.Render("/", Query{}, nil, "en", false, true)
	assert.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}
