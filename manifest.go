package wren

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EdgeFunctionManifestEntry is one entry of the edge manifest's
// edgeFunctions map (spec §6).
type EdgeFunctionManifestEntry struct {
	File   string `json:"file"`
	Page   string `json:"page"`
	Regexp string `json:"regexp"`
}

// UnmarshalJSON accepts both the object form ({file, page, regexp}) and the
// flat backward-compatible form ({<pagePath>: <file>}) spec §6 requires.
func (e *EdgeFunctionManifestEntry) UnmarshalJSON(b []byte) error {
	var obj struct {
		File   string `json:"file"`
		Page   string `json:"page"`
		Regexp string `json:"regexp"`
	}
	if err := json.Unmarshal(b, &obj); err == nil && obj.File != "" {
		*e = EdgeFunctionManifestEntry(obj)
		return nil
	}

	var flat string
	if err := json.Unmarshal(b, &flat); err != nil {
		return fmt.Errorf("wren: invalid edge manifest entry: %w", err)
	}
	e.File = flat
	return nil
}

// EdgeManifest is the edge manifest read at startup (spec §6).
type EdgeManifest struct {
	Version       int                                  `json:"version"`
	EdgeFunctions map[string]EdgeFunctionManifestEntry `json:"edgeFunctions"`
}

// ParseEdgeManifest decodes raw into an EdgeManifest.
func ParseEdgeManifest(raw []byte) (*EdgeManifest, error) {
	var m EdgeManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wren: failed to parse edge manifest: %w", err)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return &m, nil
}

// Descriptors compiles every manifest entry into an EdgeFunctionDescriptor
// and returns them in the manifest order SortDescriptors defines (map
// iteration is non-deterministic in Go, so the order comes from that sort).
func (m *EdgeManifest) Descriptors() ([]*EdgeFunctionDescriptor, error) {
	out := make([]*EdgeFunctionDescriptor, 0, len(m.EdgeFunctions))
	for page, entry := range m.EdgeFunctions {
		pattern := entry.Page
		if pattern == "" {
			pattern = page
		}

		matcher, err := compileEdgeMatcher(pattern, entry.Regexp)
		if err != nil {
			return nil, fmt.Errorf("wren: edge function %s: %w", page, err)
		}

		out = append(out, &EdgeFunctionDescriptor{
			Page:       page,
			Matcher:    matcher,
			ModulePath: entry.File,
		})
	}

	SortDescriptors(out)

	return out, nil
}

// compileEdgeMatcher compiles an edge function's page path into a Matcher.
// A page path under a dynamic route segment (e.g. "/blog/[slug]") is
// translated to the ":name" pattern syntax route_matcher.go understands.
// The manifest's regexp argument is ignored: matching uses the page path
// alone, since CompilePattern has no regexp dialect of its own.
func compileEdgeMatcher(pagePath, _ string) (*Matcher, error) {
	converted := convertBracketSyntax(pagePath)
	return CompilePattern(converted)
}

// convertBracketSyntax rewrites "[name]"/"[...name]"/"[[...name]]" page-tree
// segment syntax into the ":name"/":name*"/":name?" pattern syntax
// route_matcher.go compiles (spec §4.2, §6).
func convertBracketSyntax(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		switch {
		case strings.HasPrefix(s, "[[...") && strings.HasSuffix(s, "]]"):
			segs[i] = ":" + s[5:len(s)-2] + "?"
		case strings.HasPrefix(s, "[...") && strings.HasSuffix(s, "]"):
			segs[i] = ":" + s[4:len(s)-1] + "*"
		case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
			segs[i] = ":" + s[1:len(s)-1]
		}
	}
	return "/" + strings.Join(segs, "/")
}

// SortDescriptors orders descriptors into the manifest order the edge
// pipeline must invoke matches in (spec §4.6: "Multiple matches run in
// manifest order"). Since Go map iteration isn't ordered, we define
// manifest order as the page path's byte-wise lexicographic order, which matches the
// common case of the pack's manifests being emitted path-sorted.
func SortDescriptors(descs []*EdgeFunctionDescriptor) {
	for i := 1; i < len(descs); i++ {
		for j := i; j > 0 && descs[j-1].Page > descs[j].Page; j-- {
			descs[j-1], descs[j] = descs[j], descs[j-1]
		}
	}
}

// PagesManifest is the {<pagePath>: <relativeBuildFile>} map read at
// startup (spec §6).
type PagesManifest map[string]string

// ParsePagesManifest decodes raw into a PagesManifest.
func ParsePagesManifest(raw []byte) (PagesManifest, error) {
	var m PagesManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wren: failed to parse pages manifest: %w", err)
	}
	return m, nil
}

// Lookup normalizes page (per spec §6: "/index/x" -> "/x", "/index" -> "/")
// and returns its build file, or a *PageNotFoundError.
func (m PagesManifest) Lookup(page string) (string, error) {
	normalized := normalizePageKey(page)
	if f, ok := m[normalized]; ok {
		return f, nil
	}
	return "", &PageNotFoundError{Page: page}
}

func normalizePageKey(page string) string {
	switch {
	case page == "/index":
		return "/"
	case strings.HasPrefix(page, "/index/"):
		return strings.TrimPrefix(page, "/index")
	default:
		return page
	}
}

// RouteManifestEntry describes one header/redirect/rewrite entry of the
// routes manifest (spec §6).
type RouteManifestEntry struct {
	Source      string            `json:"source"`
	Destination string            `json:"destination,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	StatusCode  int               `json:"statusCode,omitempty"`
	Permanent   bool              `json:"permanent,omitempty"`
	Has         []HasManifest     `json:"has,omitempty"`
	BasePath    *bool             `json:"basePath,omitempty"` // nil means true (RequireBasePath)
}

// HasManifest is the wire form of a HasCondition (spec §4.2).
type HasManifest struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// RewritesManifest captures both shapes spec §6 allows for "rewrites": an
// ordered sequence (treated as afterFiles), or the
// {beforeFiles,afterFiles,fallback} object.
type RewritesManifest struct {
	BeforeFiles []RouteManifestEntry
	AfterFiles  []RouteManifestEntry
	Fallback    []RouteManifestEntry
}

// UnmarshalJSON implements the dual-shape decode.
func (r *RewritesManifest) UnmarshalJSON(b []byte) error {
	var seq []RouteManifestEntry
	if err := json.Unmarshal(b, &seq); err == nil {
		r.AfterFiles = seq
		return nil
	}

	var grouped struct {
		BeforeFiles []RouteManifestEntry `json:"beforeFiles"`
		AfterFiles  []RouteManifestEntry `json:"afterFiles"`
		Fallback    []RouteManifestEntry `json:"fallback"`
	}
	if err := json.Unmarshal(b, &grouped); err != nil {
		return fmt.Errorf("wren: invalid rewrites manifest: %w", err)
	}

	r.BeforeFiles = grouped.BeforeFiles
	r.AfterFiles = grouped.AfterFiles
	r.Fallback = grouped.Fallback
	return nil
}

// I18nManifest is the routes manifest's optional "i18n" section.
type I18nManifest struct {
	Locales        []string          `json:"locales"`
	DefaultLocale  string            `json:"defaultLocale"`
	DomainLocales  map[string]string `json:"domainLocales,omitempty"`
}

// RoutesManifest is the top-level routes manifest (spec §6).
type RoutesManifest struct {
	BasePath  string             `json:"basePath"`
	I18n      *I18nManifest      `json:"i18n,omitempty"`
	Headers   []RouteManifestEntry `json:"headers"`
	Redirects []RouteManifestEntry `json:"redirects"`
	Rewrites  RewritesManifest    `json:"rewrites"`
}

// ParseRoutesManifest decodes raw into a RoutesManifest.
func ParseRoutesManifest(raw []byte) (*RoutesManifest, error) {
	var m RoutesManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wren: failed to parse routes manifest: %w", err)
	}
	return &m, nil
}

// LocaleConfig converts the manifest's i18n section into a LocaleConfig,
// defaulting to an empty (i18n-disabled) configuration when absent.
func (m *RoutesManifest) LocaleConfig() LocaleConfig {
	if m.I18n == nil {
		return LocaleConfig{}
	}
	return LocaleConfig{
		Locales:       m.I18n.Locales,
		DefaultLocale: m.I18n.DefaultLocale,
		DomainLocales: m.I18n.DomainLocales,
	}
}
