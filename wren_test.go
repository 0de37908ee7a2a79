package wren

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wrenStubRenderer struct {
	result *RenderResult
	err    error
}

func (s *wrenStubRenderer) Render(pathname string, query Query, params map[string]string) (*RenderResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestWren(t *testing.T, renderer PageRenderer, routes *RoutesManifest, pages PagesManifest) *Wren {
	t.Helper()
	cfg := DefaultConfig("wrend-test")
	cfg.SandboxDevMode = false

	edgeManifest := &EdgeManifest{EdgeFunctions: map[string]EdgeFunctionManifestEntry{}}

	w, err := New(cfg, edgeManifest, pages, routes, renderer)
	require.NoError(t, err)
	w.Logger.Enabled = false
	t.Cleanup(func() { _ = w.Sandbox.Close() })
	return w
}

func TestWrenHandlePageCatchAllRendersBody(t *testing.T) {
	renderer := &wrenStubRenderer{result: &RenderResult{
		Kind:       RenderHTML,
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       []byte("<p>hi</p>"),
	}}
	w := newTestWren(t, renderer, &RoutesManifest{}, PagesManifest{"/hi": "pages/hi.js"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hi", nil)
	w.Engine.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "<p>hi</p>", rec.Body.String())
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
}

func TestWrenHandlePageCatchAllPropagatesRenderError(t *testing.T) {
	renderer := &wrenStubRenderer{err: &PageNotFoundError{Page: "/missing"}}
	w := newTestWren(t, renderer, &RoutesManifest{}, PagesManifest{"/missing": "pages/missing.js"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	w.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWrenAddAndRemoveShutdownJob(t *testing.T) {
	w := newTestWren(t, &wrenStubRenderer{result: &RenderResult{StatusCode: 200}}, &RoutesManifest{}, PagesManifest{})

	ran := false
	id := w.AddShutdownJob(func() { ran = true })
	assert.NotZero(t, id)

	w.RemoveShutdownJob(id)

	w.shutdownJobMutex.Lock()
	_, stillRegistered := w.shutdownJobs[id]
	w.shutdownJobMutex.Unlock()

	assert.False(t, stillRegistered)
	assert.False(t, ran)
}

func TestWrenDefaultErrorHandlerWrites500(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	DefaultErrorHandler(assert.AnError, rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWrenShutdownWithoutServeIsNoop(t *testing.T) {
	w := newTestWren(t, &wrenStubRenderer{result: &RenderResult{StatusCode: 200}}, &RoutesManifest{}, PagesManifest{})
	assert.Nil(t, w.server)
	require.NoError(t, w.Shutdown(nil))
}
