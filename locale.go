package wren

import (
	"golang.org/x/text/language"
)

// LocaleConfig is the i18n section of the routes manifest (spec §6, "i18n?"
// field on RoutesManifest): the configured locales, the default locale, and
// optional per-host overrides.
type LocaleConfig struct {
	Locales        []string
	DefaultLocale  string
	DomainLocales  map[string]string // host -> locale
}

// localeNegotiator resolves a request's locale from, in order: the
// path-segment detection of spec §4.1, an explicit domain override, and
// finally an Accept-Language match. Grounded on air.i18n's use of
// golang.org/x/text/language to match a request's favorite locale, adapted
// from "match a translation file" to "match a configured route locale".
type localeNegotiator struct {
	cfg     LocaleConfig
	matcher language.Matcher
	tags    []language.Tag
}

// newLocaleNegotiator builds a matcher over cfg.Locales. Unparseable locale
// identifiers are skipped rather than failing the whole server; routing by
// path-segment (DetectLocale) still works for them.
func newLocaleNegotiator(cfg LocaleConfig) *localeNegotiator {
	n := &localeNegotiator{cfg: cfg}

	tags := make([]language.Tag, 0, len(cfg.Locales))
	for _, l := range cfg.Locales {
		t, err := language.Parse(l)
		if err != nil {
			continue
		}
		tags = append(tags, t)
	}

	n.tags = tags
	if len(tags) > 0 {
		n.matcher = language.NewMatcher(tags)
	}

	return n
}

// forHost returns the locale pinned to host by DomainLocales, if any.
func (n *localeNegotiator) forHost(host string) (locale string, ok bool) {
	if n.cfg.DomainLocales == nil {
		return "", false
	}
	l, ok := n.cfg.DomainLocales[host]
	return l, ok
}

// fromAcceptLanguage matches the Accept-Language header values against the
// configured locale set, falling back to the default locale when nothing
// matches or no locales are configured.
func (n *localeNegotiator) fromAcceptLanguage(values []string) string {
	if n.matcher == nil || len(n.cfg.Locales) == 0 {
		return n.cfg.DefaultLocale
	}

	tag, _ := language.MatchStrings(n.matcher, values...)
	best := tag.String()
	for _, l := range n.cfg.Locales {
		if l == best {
			return l
		}
	}

	// language.MatchStrings can return a more specific tag (e.g. "en-US")
	// than any configured locale ("en"); fall back to a base-language
	// match before giving up.
	base, _ := tag.Base()
	for _, l := range n.cfg.Locales {
		if lt, err := language.Parse(l); err == nil {
			if lb, _ := lt.Base(); lb == base {
				return l
			}
		}
	}

	return n.cfg.DefaultLocale
}

// negotiate resolves the full locale decision for one request, combining
// path detection with the domain/header fallbacks (spec §4.1, §6 "Locale").
// It never runs for "/api" routes, per spec §6.
func (n *localeNegotiator) negotiate(pathname, host string, acceptLanguage []string) (strippedPathname, locale string, defaultLocale string) {
	defaultLocale = n.cfg.DefaultLocale

	if stripped, l := DetectLocale(pathname, n.cfg.Locales); l != "" {
		return stripped, l, defaultLocale
	}

	if l, ok := n.forHost(host); ok {
		return pathname, l, defaultLocale
	}

	if len(n.cfg.Locales) > 0 {
		return pathname, n.fromAcceptLanguage(acceptLanguage), defaultLocale
	}

	return pathname, "", defaultLocale
}
