package wren

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Wren is one running instance of the routing and edge-function pipeline.
// Adapted from air.Air: the same Config-driven *http.Server lifecycle
// (Serve/Shutdown, h2c for cleartext HTTP/2), generalized from air's single
// gas-chain-then-router dispatch to this package's Engine/EdgePipeline
// split. TLS/ACME is intentionally not carried over (Non-goal).
type Wren struct {
	Config *Config

	Logger   *Logger
	Sandbox  *Sandbox
	Pipeline *EdgePipeline
	Engine   *Engine
	Cache    *ResponseCache
	Renderer *RenderBridge

	ErrorHandler func(error, http.ResponseWriter, *http.Request)

	server           *http.Server
	shutdownJobMutex sync.Mutex
	shutdownJobs     map[int]func()
	shutdownJobSeq   int
}

// New builds a Wren instance from cfg. It wires the sandbox, edge pipeline,
// response cache, and routing engine together, but does not start serving;
// call Serve for that.
func New(cfg *Config, edgeManifest *EdgeManifest, pages PagesManifest, routes *RoutesManifest, renderer PageRenderer) (*Wren, error) {
	logger := NewLogger(cfg.AppName)
	logger.Format = cfg.LogFormat

	sandbox, err := NewSandbox(logger, cfg.SandboxDevMode)
	if err != nil {
		return nil, fmt.Errorf("wren: failed to build sandbox: %w", err)
	}

	descs, err := edgeManifest.Descriptors()
	if err != nil {
		return nil, err
	}
	for _, d := range descs {
		if err := sandbox.Watch(d.ModulePath); err != nil {
			logger.Warnf("wren: failed to watch edge module %s: %v", d.ModulePath, err)
		}
	}

	localeCfg := routes.LocaleConfig()
	pipeline := NewEdgePipeline(sandbox, descs, routes.BasePath, localeCfg)

	cache := NewResponseCache(cfg.ResponseCacheMaxBytes)
	bridge := NewRenderBridge(renderer, cache)

	w := &Wren{
		Config:       cfg,
		Logger:       logger,
		Sandbox:      sandbox,
		Pipeline:     pipeline,
		Cache:        cache,
		Renderer:     bridge,
		ErrorHandler: DefaultErrorHandler,
		shutdownJobs: map[int]func(){},
	}

	engine, err := NewEngine(routes, pages, w.handleEdgeCatchAll, w.handlePageCatchAll, logger, cfg.MinimalMode)
	if err != nil {
		return nil, err
	}
	engine.ErrorHandler = func(err error, rw http.ResponseWriter, r *http.Request) {
		w.ErrorHandler(err, rw, r)
	}
	w.Engine = engine

	return w, nil
}

// handleEdgeCatchAll is the engine's edge catch-all route handler (spec
// §4.3/§4.6): it runs the edge pipeline against the current URL and
// translates its outcome into a RouteResult, writing the response directly
// when the pipeline's outcome is terminal.
func (w *Wren) handleEdgeCatchAll(ctx *RequestContext) (RouteResult, error) {
	outcome, err := w.Pipeline.Run(ctx.URL, ctx.EdgeRequest)
	if err != nil {
		return RouteResult{}, err
	}

	if outcome.Result.Finished {
		if outcome.Response != nil {
			if err := WriteEdgeResponse(ctx.Writer, ctx.Request, outcome.Response); err != nil {
				return RouteResult{}, err
			}
		}
		return ResultFinished(), nil
	}

	return outcome.Result, nil
}

// handlePageCatchAll is the engine's terminal page catch-all route handler
// (spec §4.3): it delegates to the render bridge, which owns page
// rendering and response caching.
func (w *Wren) handlePageCatchAll(ctx *RequestContext) (RouteResult, error) {
	result, err := w.Renderer.Render(
		ctx.URL.Pathname,
		ctx.URL.Query,
		ctx.URL.Params,
		ctx.URL.Locale,
		false,
		false,
	)
	if err != nil {
		return RouteResult{}, err
	}

	for k, v := range result.Headers {
		ctx.Writer.Header().Set(k, v)
	}

	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	ctx.Writer.WriteHeader(status)
	if len(result.Body) > 0 {
		_, err := ctx.Writer.Write(result.Body)
		if err != nil {
			return RouteResult{}, err
		}
	}

	return ResultFinished(), nil
}

// Serve starts the HTTP server, listening on Config.Address. Grounded on
// air.Air.Serve: when no TLS is configured, the handler is wrapped with
// golang.org/x/net/http2/h2c so HTTP/2 works in cleartext, exactly as the
// teacher's Serve does for its no-TLS branch.
func (w *Wren) Serve() error {
	w.server = &http.Server{
		Addr:         w.Config.Address,
		Handler:      w.Engine,
		ReadTimeout:  w.Config.ReadTimeout,
		WriteTimeout: w.Config.WriteTimeout,
	}

	h2s := &http2.Server{IdleTimeout: w.Config.ReadTimeout}
	w.server.Handler = h2c.NewHandler(w.Engine, h2s)

	w.server.RegisterOnShutdown(func() {
		w.shutdownJobMutex.Lock()
		defer w.shutdownJobMutex.Unlock()
		var wg sync.WaitGroup
		for _, job := range w.shutdownJobs {
			wg.Add(1)
			go func(j func()) {
				defer wg.Done()
				j()
			}(job)
		}
		wg.Wait()
	})

	w.Logger.Infof("wren: listening on %s", w.Config.Address)

	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return err
	}

	err = w.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server without interrupting any active
// connections, per air.Air.Shutdown's contract.
func (w *Wren) Shutdown(ctx context.Context) error {
	if w.server == nil {
		return nil
	}
	err := w.server.Shutdown(ctx)
	if w.Sandbox != nil {
		w.Sandbox.Close()
	}
	return err
}

// AddShutdownJob registers f to run, exactly once, when Shutdown is called.
// It returns an id usable with RemoveShutdownJob.
func (w *Wren) AddShutdownJob(f func()) int {
	w.shutdownJobMutex.Lock()
	defer w.shutdownJobMutex.Unlock()
	w.shutdownJobSeq++
	id := w.shutdownJobSeq
	w.shutdownJobs[id] = f
	return id
}

// RemoveShutdownJob removes a shutdown job previously added by
// AddShutdownJob.
func (w *Wren) RemoveShutdownJob(id int) {
	w.shutdownJobMutex.Lock()
	defer w.shutdownJobMutex.Unlock()
	delete(w.shutdownJobs, id)
}

// DefaultErrorHandler writes a generic 500, mirroring
// air.DefaultErrorHandler's role as the server's last line of defense. It
// does not log err; the engine logs unhandled errors before calling it.
func DefaultErrorHandler(err error, w http.ResponseWriter, r *http.Request) {
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
