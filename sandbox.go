package wren

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/fsnotify/fsnotify"
)

// EdgeFunctionDescriptor is one compiled edge function ready to be matched
// and invoked (spec §3, §4.5): the page pattern it runs for, and the
// absolute path of the module implementing it.
type EdgeFunctionDescriptor struct {
	Page       string
	Matcher    *Matcher
	ModulePath string
}

// EdgeFunctionResult is the outcome of one sandbox invocation (spec §4.5
// contract: "run({name, modulePath, request}) -> EdgeFunctionResult"),
// carrying the response state the invocation left behind plus the event
// kind the edge pipeline dispatches on (spec §4.6).
type EdgeFunctionResult struct {
	Response *EdgeResponseState
	Event    string // "streaming" | "data" | ""
}

// ambientPrelude is evaluated into every fresh compartment before the
// user's module, providing the minimum ambient API set spec §4.5 names.
// It is intentionally a thin polyfill layer over a handful of Go-backed
// natives (__goBtoa, __goAtob, __goRandomUUID, __goRandomBytes, __goFetch,
// __goConsoleWrite); goja has
// no event loop of its own, so setTimeout/queueMicrotask run their
// callback synchronously rather than on a real clock.
const ambientPrelude = `
(function(global) {
  function TextEncoder() {}
  TextEncoder.prototype.encode = function(s) {
    s = String(s === undefined ? "" : s);
    var bytes = [];
    for (var i = 0; i < s.length; i++) {
      var c = s.charCodeAt(i);
      if (c < 0x80) { bytes.push(c); }
      else if (c < 0x800) {
        bytes.push(0xc0 | (c >> 6), 0x80 | (c & 0x3f));
      } else {
        bytes.push(0xe0 | (c >> 12), 0x80 | ((c >> 6) & 0x3f), 0x80 | (c & 0x3f));
      }
    }
    return new Uint8Array(bytes);
  };
  global.TextEncoder = TextEncoder;

  function TextDecoder() {}
  TextDecoder.prototype.decode = function(bytes) {
    var out = "";
    var arr = bytes || [];
    for (var i = 0; i < arr.length; i++) { out += String.fromCharCode(arr[i]); }
    return out;
  };
  global.TextDecoder = TextDecoder;

  global.btoa = function(s) { return __goBtoa(String(s)); };
  global.atob = function(s) { return __goAtob(String(s)); };

  function URLSearchParams(init) {
    this._pairs = [];
    if (typeof init === "string") {
      init = init.replace(/^\?/, "");
      if (init) {
        var parts = init.split("&");
        for (var i = 0; i < parts.length; i++) {
          var kv = parts[i].split("=");
          this._pairs.push([decodeURIComponent(kv[0] || ""), decodeURIComponent(kv[1] || "")]);
        }
      }
    } else if (init && typeof init === "object") {
      for (var k in init) { this._pairs.push([k, String(init[k])]); }
    }
  }
  URLSearchParams.prototype.get = function(name) {
    for (var i = 0; i < this._pairs.length; i++) { if (this._pairs[i][0] === name) return this._pairs[i][1]; }
    return null;
  };
  URLSearchParams.prototype.getAll = function(name) {
    var out = [];
    for (var i = 0; i < this._pairs.length; i++) { if (this._pairs[i][0] === name) out.push(this._pairs[i][1]); }
    return out;
  };
  URLSearchParams.prototype.set = function(name, value) {
    this._pairs = this._pairs.filter(function(p) { return p[0] !== name; });
    this._pairs.push([name, String(value)]);
  };
  URLSearchParams.prototype.append = function(name, value) { this._pairs.push([name, String(value)]); };
  URLSearchParams.prototype.has = function(name) {
    for (var i = 0; i < this._pairs.length; i++) { if (this._pairs[i][0] === name) return true; }
    return false;
  };
  URLSearchParams.prototype.toString = function() {
    return this._pairs.map(function(p) {
      return encodeURIComponent(p[0]) + "=" + encodeURIComponent(p[1]);
    }).join("&");
  };
  global.URLSearchParams = URLSearchParams;

  function Headers(init) {
    this._map = {};
    if (init instanceof Headers) {
      for (var k in init._map) { this._map[k] = init._map[k].slice(); }
    } else if (init && typeof init === "object") {
      for (var k2 in init) { this.set(k2, init[k2]); }
    }
  }
  Headers.prototype.set = function(name, value) { this._map[String(name).toLowerCase()] = [String(value)]; };
  Headers.prototype.append = function(name, value) {
    var key = String(name).toLowerCase();
    if (!this._map[key]) { this._map[key] = []; }
    this._map[key].push(String(value));
  };
  Headers.prototype.get = function(name) {
    var v = this._map[String(name).toLowerCase()];
    return v ? v.join(", ") : null;
  };
  Headers.prototype.has = function(name) { return !!this._map[String(name).toLowerCase()]; };
  Headers.prototype.delete = function(name) { delete this._map[String(name).toLowerCase()]; };
  Headers.prototype.forEach = function(fn) {
    for (var k in this._map) { fn(this._map[k].join(", "), k); }
  };
  global.Headers = Headers;

  function Blob(parts, opts) {
    this._parts = parts || [];
    this.type = (opts && opts.type) || "";
    this.size = this._parts.join("").length;
  }
  Blob.prototype.text = function() { return Promise.resolve(this._parts.join("")); };
  global.Blob = Blob;

  function File(parts, name, opts) {
    Blob.call(this, parts, opts);
    this.name = name;
  }
  File.prototype = Object.create(Blob.prototype);
  global.File = File;

  function FormData() { this._entries = []; }
  FormData.prototype.append = function(name, value) { this._entries.push([name, value]); };
  FormData.prototype.get = function(name) {
    for (var i = 0; i < this._entries.length; i++) { if (this._entries[i][0] === name) return this._entries[i][1]; }
    return null;
  };
  global.FormData = FormData;

  function ReadableStream(source) {
    this._chunks = [];
    this._closed = false;
    var self = this;
    var controller = {
      enqueue: function(chunk) { self._chunks.push(chunk); },
      close: function() { self._closed = true; },
    };
    if (source && source.start) { source.start(controller); }
  }
  global.ReadableStream = ReadableStream;

  function TransformStream() {
    this.readable = new ReadableStream();
    this.writable = { getWriter: function() { return { write: function() {}, close: function() {} }; } };
  }
  global.TransformStream = TransformStream;

  global.crypto = {
    randomUUID: function() { return __goRandomUUID(); },
    getRandomValues: function(arr) {
      var bytes = __goRandomBytes(arr.length);
      for (var i = 0; i < arr.length; i++) { arr[i] = bytes[i]; }
      return arr;
    },
  };

  global.fetch = function(url, init) {
    var result = __goFetch(String(url), init || {});
    return Promise.resolve({
      status: result.status,
      ok: result.status >= 200 && result.status < 300,
      headers: new Headers(result.headers),
      text: function() { return Promise.resolve(result.body); },
      json: function() { return Promise.resolve(JSON.parse(result.body)); },
    });
  };

  global.setTimeout = function(fn, _delay) { fn(); return 0; };
  global.clearTimeout = function() {};
  global.setInterval = function() { return 0; };
  global.clearInterval = function() {};
  global.queueMicrotask = function(fn) { fn(); };

  global.console = {
    log: function() { __goConsoleWrite("log", Array.prototype.slice.call(arguments)); },
    info: function() { __goConsoleWrite("info", Array.prototype.slice.call(arguments)); },
    warn: function() { __goConsoleWrite("warn", Array.prototype.slice.call(arguments)); },
    error: function() { __goConsoleWrite("error", Array.prototype.slice.call(arguments)); },
  };
})(this);
`

// Sandbox is the Edge Runtime Host (spec §4.5): it compiles edge-function
// module source once and memoizes the compiled program by absolute path,
// running it in a fresh compartment (goja.Runtime) per invocation for
// isolation, since a goja.Runtime is not safe for concurrent use. Grounded
// on air.coffer's process-wide cache-with-lock shape, adapted from a byte
// cache to a compiled-program cache.
type Sandbox struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
	prelude  *goja.Program

	logger  *Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSandbox constructs a Sandbox. When dev is true, it starts an fsnotify
// watcher so module edits invalidate their cached compiled program (spec
// §4.5: "exposes clearSandboxCache(path)... when a module file changes").
func NewSandbox(logger *Logger, dev bool) (*Sandbox, error) {
	prelude, err := goja.Compile("<ambient>", ambientPrelude, true)
	if err != nil {
		return nil, fmt.Errorf("wren: failed to compile ambient prelude: %w", err)
	}

	s := &Sandbox{
		programs: map[string]*goja.Program{},
		prelude:  prelude,
		logger:   logger,
	}

	if dev {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("wren: failed to start sandbox watcher: %w", err)
		}
		s.watcher = w
		s.done = make(chan struct{})
		go s.watchLoop()
	}

	return s, nil
}

// Close stops the dev-mode watcher, if any.
func (s *Sandbox) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

// Watch registers path for cache invalidation. Call once per edge-function
// module discovered at startup, in dev mode.
func (s *Sandbox) Watch(path string) error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Add(filepath.Dir(path))
}

func (s *Sandbox) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.ClearCache(ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Errorf("sandbox watcher error: %v", err)
			}
		}
	}
}

// ClearCache drops the compiled program cached for path, if any.
func (s *Sandbox) ClearCache(path string) {
	s.mu.Lock()
	delete(s.programs, path)
	s.mu.Unlock()
}

func (s *Sandbox) loadProgram(path string) (*goja.Program, error) {
	s.mu.RLock()
	p, ok := s.programs[path]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PageNotFoundError{Page: path}
		}
		return nil, fmt.Errorf("wren: failed to read edge module %s: %w", path, err)
	}

	prog, err := goja.Compile(path, wrapCommonJS(string(src)), true)
	if err != nil {
		return nil, &WrappedBuildError{Inner: fmt.Errorf("%s: %w", path, err)}
	}

	s.mu.Lock()
	s.programs[path] = prog
	s.mu.Unlock()

	return prog, nil
}

// wrapCommonJS wraps module source in a function body closing over
// module/exports, the minimal CommonJS surface edge-function bundles are
// expected to target (spec §4.5: "module.default (falling back to the
// whole module if no default export exists)").
func wrapCommonJS(src string) string {
	return "(function(module, exports) {\n" + src + "\n})(module, module.exports);"
}

// Run invokes d's module against req/state (spec §4.5 contract). It runs in
// a fresh compartment and returns the EdgeFunctionResult the pipeline
// dispatches on.
func (s *Sandbox) Run(d *EdgeFunctionDescriptor, req *EdgeRequest, state *EdgeResponseState) (*EdgeFunctionResult, error) {
	program, err := s.loadProgram(d.ModulePath)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if _, err := vm.RunProgram(s.prelude); err != nil {
		return nil, fmt.Errorf("wren: ambient prelude failed in %s: %w", d.Page, err)
	}

	s.installNatives(vm)

	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	vm.Set("module", moduleObj)

	res := NewEdgeResponse(state, req, d.Page)
	vm.Set("request", req)
	vm.Set("response", res)

	if _, err := vm.RunProgram(program); err != nil {
		return nil, &WrappedBuildError{Inner: fmt.Errorf("%s: %w", d.Page, err)}
	}

	entry, err := resolveEntryPoint(vm, moduleObj)
	if err != nil {
		return nil, err
	}

	if _, err := entry(goja.Undefined(), vm.ToValue(map[string]interface{}{
		"request":  req,
		"response": res,
	})); err != nil {
		return nil, &WrappedBuildError{Inner: fmt.Errorf("%s: %w", d.Page, err)}
	}

	res.finalize()

	event := ""
	switch state.BodyMode {
	case BodyStreaming:
		event = "streaming"
	case BodyBuffered:
		event = "data"
	}

	return &EdgeFunctionResult{Response: state, Event: event}, nil
}

// resolveEntryPoint resolves module.exports.default, falling back to
// module.exports itself when it is directly callable (spec §4.5).
func resolveEntryPoint(vm *goja.Runtime, moduleObj *goja.Object) (goja.Callable, error) {
	exportsVal := moduleObj.Get("exports")
	exportsObj := exportsVal.ToObject(vm)

	if def := exportsObj.Get("default"); def != nil {
		if fn, ok := goja.AssertFunction(def); ok {
			return fn, nil
		}
	}

	if fn, ok := goja.AssertFunction(exportsVal); ok {
		return fn, nil
	}

	return nil, fmt.Errorf("wren: module has no callable default export or module.exports function")
}

// installNatives binds the Go-backed functions the ambient prelude's JS
// polyfills call into.
func (s *Sandbox) installNatives(vm *goja.Runtime) {
	vm.Set("__goBtoa", natives.btoa)
	vm.Set("__goAtob", natives.atob)
	vm.Set("__goRandomUUID", natives.randomUUID)
	vm.Set("__goRandomBytes", natives.randomBytes)
	vm.Set("__goFetch", natives.fetch)
	vm.Set("__goConsoleWrite", func(level string, args []interface{}) {
		if s.logger == nil {
			return
		}
		s.logger.Infof("edge console.%s %v", level, args)
	})
}

// sandboxFetchResult is the plain value __goFetch returns to the JS
// polyfill's fetch() wrapper.
type sandboxFetchResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

var httpFetchClient = &http.Client{Timeout: 10 * time.Second}

// natives groups the stateless Go functions the sandbox prelude binds.
var natives = struct {
	btoa        func(string) string
	atob        func(string) (string, error)
	randomUUID  func() string
	randomBytes func(int) []byte
	fetch       func(string, map[string]interface{}) (sandboxFetchResult, error)
}{
	btoa:        b64Encode,
	atob:        b64Decode,
	randomUUID:  newUUIDv4,
	randomBytes: randomBytesOf,
	fetch:       sandboxFetch,
}

func sandboxFetch(url string, init map[string]interface{}) (sandboxFetchResult, error) {
	method := "GET"
	if m, ok := init["method"].(string); ok && m != "" {
		method = m
	}

	var bodyReader io.Reader
	if b, ok := init["body"].(string); ok {
		bodyReader = strings.NewReader(b)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return sandboxFetchResult{}, err
	}

	if hdrs, ok := init["headers"].(map[string]interface{}); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := httpFetchClient.Do(req)
	if err != nil {
		return sandboxFetchResult{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return sandboxFetchResult{}, err
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return sandboxFetchResult{Status: resp.StatusCode, Headers: headers, Body: string(b)}, nil
}

func b64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func b64Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func randomBytesOf(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func newUUIDv4() string {
	b := randomBytesOf(16)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
