package wren

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// WriteEdgeResponse is the middleware adapter (spec §4.7): it translates an
// EdgeResponseState into the outgoing socket when an edge function is the
// whole response (no further routing follows). Headers are copied
// verbatim; a streaming body is pumped chunk by chunk; a redirect sentinel
// emits status+Location (and Refresh at 308); a rewrite sentinel whose
// target is absolute is reverse-proxied upstream.
func WriteEdgeResponse(w http.ResponseWriter, r *http.Request, state *EdgeResponseState) error {
	if target := state.Headers.Get(HeaderNextjsRedirect); target != "" {
		return writeRedirect(w, state, target)
	}

	if target := state.Headers.Get(HeaderNextjsRewrite); target != "" && isAbsoluteURL(target) {
		return proxyUpstream(w, r, target)
	}

	copyHeaders(w.Header(), state.Headers)

	status := state.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	if state.BodyMode == BodyStreaming && state.StreamChan != nil {
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for chunk := range state.StreamChan {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		return nil
	}

	w.WriteHeader(status)
	if len(state.Body) > 0 {
		_, err := w.Write(state.Body)
		return err
	}
	return nil
}

func writeRedirect(w http.ResponseWriter, state *EdgeResponseState, target string) error {
	copyHeaders(w.Header(), state.Headers)
	w.Header().Set("Location", target)

	status := state.StatusCode
	if status < 300 || status >= 400 {
		status = http.StatusFound
	}

	if status == http.StatusPermanentRedirect {
		w.Header().Set("Refresh", "0;url="+target)
	}

	w.WriteHeader(status)
	return nil
}

// proxyUpstreamTimeout is the reverse-proxy timeout spec §4.7/§5 fixes at
// 30 seconds.
const proxyUpstreamTimeout = 30 * time.Second

func proxyUpstream(w http.ResponseWriter, r *http.Request, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return &ProxyError{Target: target, Err: err}
	}

	ctx, cancel := context.WithTimeout(r.Context(), proxyUpstreamTimeout)
	defer cancel()

	proxy := httputil.NewSingleHostReverseProxy(u)
	baseDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		baseDirector(req)
		req.Host = u.Host // changeOrigin=true
	}

	proxy.ServeHTTP(w, r.WithContext(ctx))
	return nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs()
}

func copyHeaders(dst http.Header, src Headers) {
	for k, vs := range src {
		switch k {
		case "x-nextjs-next", "x-nextjs-rewrite", "x-nextjs-redirect", "x-nextjs-preflight":
			continue // sentinels never reach the client (spec §3)
		}
		for _, v := range vs {
			dst.Add(http.CanonicalHeaderKey(k), v)
		}
	}
}
