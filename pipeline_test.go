package wren

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEdgeModule(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func newTestPipeline(t *testing.T, descs []*EdgeFunctionDescriptor) *EdgePipeline {
	t.Helper()
	logger := NewLogger("test")
	logger.Enabled = false
	sandbox, err := NewSandbox(logger, false)
	require.NoError(t, err)
	return NewEdgePipeline(sandbox, descs, "", LocaleConfig{})
}

func descriptorFor(t *testing.T, page, modulePath string) *EdgeFunctionDescriptor {
	t.Helper()
	m, err := CompilePattern(page)
	require.NoError(t, err)
	return &EdgeFunctionDescriptor{Page: page, Matcher: m, ModulePath: modulePath}
}

func TestEdgePipelineNextContinuesRouting(t *testing.T) {
	dir := t.TempDir()
	modPath := writeEdgeModule(t, dir, "next.js", `module.exports = function(ctx) { ctx.response.next(); };`)

	p := newTestPipeline(t, []*EdgeFunctionDescriptor{descriptorFor(t, "/api/:rest*", modPath)})

	u := &ParsedURL{Pathname: "/api/hello", Params: map[string]string{}, Query: Query{}}
	req := NewEdgeRequest("GET", u, Headers{}, nil, "127.0.0.1")

	outcome, err := p.Run(u, req)
	require.NoError(t, err)
	assert.False(t, outcome.Result.Finished)
	assert.Equal(t, 1, outcome.InvokeCount)
}

func TestEdgePipelineRedirectFinishesWithSentinel(t *testing.T) {
	dir := t.TempDir()
	modPath := writeEdgeModule(t, dir, "redirect.js", `module.exports = function(ctx) { ctx.response.redirect(302, "/new"); };`)

	p := newTestPipeline(t, []*EdgeFunctionDescriptor{descriptorFor(t, "/old", modPath)})

	u := &ParsedURL{Pathname: "/old", Params: map[string]string{}, Query: Query{}}
	req := NewEdgeRequest("GET", u, Headers{}, nil, "127.0.0.1")

	outcome, err := p.Run(u, req)
	require.NoError(t, err)
	assert.True(t, outcome.Result.Finished)
	assert.Equal(t, "/new", outcome.Response.Headers.Get(HeaderNextjsRedirect))
}

func TestEdgePipelineNoMatchContinues(t *testing.T) {
	p := newTestPipeline(t, nil)

	u := &ParsedURL{Pathname: "/unmatched", Params: map[string]string{}, Query: Query{}}
	req := NewEdgeRequest("GET", u, Headers{}, nil, "127.0.0.1")

	outcome, err := p.Run(u, req)
	require.NoError(t, err)
	assert.False(t, outcome.Result.Finished)
	assert.Equal(t, 0, outcome.InvokeCount)
}

func TestEdgePipelineRecursionCapTrips(t *testing.T) {
	dir := t.TempDir()
	modPath := writeEdgeModule(t, dir, "loop.js", `module.exports = function(ctx) { ctx.response.rewrite("/loop"); };`)

	p := newTestPipeline(t, []*EdgeFunctionDescriptor{descriptorFor(t, "/loop", modPath)})

	u := &ParsedURL{Pathname: "/loop", Params: map[string]string{}, Query: Query{}}
	req := NewEdgeRequest("GET", u, Headers{}, nil, "127.0.0.1")

	_, err := p.Run(u, req)
	require.Error(t, err)
	var tooMany *TooManyEdgeCalls
	assert.ErrorAs(t, err, &tooMany)
}
