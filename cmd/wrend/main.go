// Command wrend serves a prebuilt application directory: a routes
// manifest, a pages manifest, an edge manifest, and prebuilt HTML pages
// under the directory's "static" folder. It plays the role air's example cmd/air
// servers play for the teacher: a thin binary wiring library pieces
// together, not a framework of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wrenhq/wren"
)

const shutdownGracePeriod = 10 * time.Second

func main() {
	appDir := flag.String("dir", ".", "application build directory")
	configPath := flag.String("config", "", "path to a wren config file (json/yaml/toml)")
	appName := flag.String("name", "wren", "application name, used in logs")
	flag.Parse()

	cfg := wren.DefaultConfig(*appName)
	if *configPath != "" {
		loaded, err := wren.LoadConfig(*appName, *configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wrend:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	routes, pages, edge, err := loadManifests(*appDir, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wrend:", err)
		os.Exit(1)
	}

	renderer := &staticRenderer{root: filepath.Join(*appDir, "static")}

	w, err := wren.New(cfg, edge, pages, routes, renderer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wrend:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		_ = w.Shutdown(shutdownCtx)
	}()

	if err := w.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, "wrend:", err)
		os.Exit(1)
	}
}

func loadManifests(dir string, cfg *wren.Config) (*wren.RoutesManifest, wren.PagesManifest, *wren.EdgeManifest, error) {
	routesPath := manifestPath(dir, cfg.RoutesManifestPath, "routes-manifest.json")
	pagesPath := manifestPath(dir, cfg.PagesManifestPath, "pages-manifest.json")
	edgePath := manifestPath(dir, cfg.EdgeManifestPath, "edge-manifest.json")

	routesRaw, err := os.ReadFile(routesPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wrend: failed to read routes manifest: %w", err)
	}
	routes, err := wren.ParseRoutesManifest(routesRaw)
	if err != nil {
		return nil, nil, nil, err
	}

	pagesRaw, err := os.ReadFile(pagesPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wrend: failed to read pages manifest: %w", err)
	}
	pages, err := wren.ParsePagesManifest(pagesRaw)
	if err != nil {
		return nil, nil, nil, err
	}

	edgeRaw, err := os.ReadFile(edgePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wrend: failed to read edge manifest: %w", err)
	}
	edge, err := wren.ParseEdgeManifest(edgeRaw)
	if err != nil {
		return nil, nil, nil, err
	}

	return routes, pages, edge, nil
}

func manifestPath(dir, configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(dir, fallback)
}

// staticRenderer is the demo PageRenderer: it serves prebuilt HTML from
// disk. It has no JSON props lookup; data requests are served the HTML
// file of their pathname like any other request.
type staticRenderer struct {
	root string
}

func (r *staticRenderer) Render(pathname string, query wren.Query, params map[string]string) (*wren.RenderResult, error) {
	htmlPath := filepath.Join(r.root, pathname, "index.html")
	if pathname != "/" && filepath.Ext(pathname) == "" {
		htmlPath = filepath.Join(r.root, pathname+".html")
	}

	body, err := os.ReadFile(htmlPath)
	if os.IsNotExist(err) {
		return &wren.RenderResult{Kind: wren.RenderNotFound, StatusCode: 404}, nil
	}
	if err != nil {
		return nil, err
	}

	return &wren.RenderResult{
		Kind:       wren.RenderHTML,
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:       body,
	}, nil
}
