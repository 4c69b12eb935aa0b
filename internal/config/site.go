package config

import (
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// SiteConfig holds settings for one host.
type SiteConfig struct {
	// Cookie is an HTTP cookie to send to this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to send to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Render always fetches this site with the browser.
	Render bool `yaml:"render,omitempty"`

	// IgnorePatterns are globs matched against the URL path; matching URLs
	// are not crawled. "*" stays within one path segment, "**" crosses them.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict crawling to matching paths when non-empty.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// File represents the structure of the .darc configuration file.
type File struct {
	// Sites maps host names (e.g. "example.onion") to their settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for host, merged over the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if result.Headers != nil {
		result.Headers = maps.Clone(result.Headers)
	}

	siteConfig, ok := cf.Sites[strings.ToLower(host)]
	if !ok {
		return result
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.Render {
		result.Render = true
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(siteConfig.Headers))
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	return result
}

// Sites is a compiled File ready for lookups during the crawl.
// A nil *Sites has no settings and skips nothing.
type Sites struct {
	file     *File
	defaults rules
	hosts    map[string]rules
}

type rules struct {
	ignore []glob.Glob
	follow []glob.Glob
}

// Compile compiles the glob patterns of every site. A nil File compiles to
// an empty Sites.
func (cf *File) Compile() (*Sites, error) {
	s := &Sites{file: cf, hosts: make(map[string]rules)}
	if cf == nil {
		s.file = &File{}
		return s, nil
	}

	var err error
	if s.defaults, err = compileRules(cf.Defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	for host := range cf.Sites {
		r, err := compileRules(cf.GetSiteConfig(host))
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", host, err)
		}
		s.hosts[strings.ToLower(host)] = r
	}
	return s, nil
}

func compileRules(sc SiteConfig) (rules, error) {
	var r rules
	for _, p := range sc.IgnorePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return rules{}, fmt.Errorf("%w %q: %w", ErrInvalidGlob, p, err)
		}
		r.ignore = append(r.ignore, g)
	}
	for _, p := range sc.FollowPatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return rules{}, fmt.Errorf("%w %q: %w", ErrInvalidGlob, p, err)
		}
		r.follow = append(r.follow, g)
	}
	return r, nil
}

// Lookup returns the merged settings of host.
func (s *Sites) Lookup(host string) SiteConfig {
	if s == nil {
		return SiteConfig{}
	}
	return s.file.GetSiteConfig(host)
}

// Skip reports whether rawURL is excluded by the ignore or follow patterns
// of its host.
func (s *Sites) Skip(rawURL string) bool {
	if s == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	r, ok := s.hosts[strings.ToLower(u.Hostname())]
	if !ok {
		r = s.defaults
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, g := range r.ignore {
		if g.Match(path) {
			return true
		}
	}
	if len(r.follow) == 0 {
		return false
	}
	for _, g := range r.follow {
		if g.Match(path) {
			return false
		}
	}
	return true
}
