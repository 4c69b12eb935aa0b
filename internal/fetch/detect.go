package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RenderPredicate decides from a directly fetched HTML body whether the page
// must be rendered in a browser to show its content.
type RenderPredicate func(body []byte) bool

// RenderThreshold is the RenderScore at which DefaultRenderPredicate asks for rendering.
const RenderThreshold = 7

// DefaultRenderPredicate reports RenderScore(body) >= RenderThreshold.
func DefaultRenderPredicate(body []byte) bool {
	return RenderScore(body) >= RenderThreshold
}

var (
	appContainers   = "#root, #app, #__next, #___gatsby, #__nuxt"
	loadingPhrases  = []string{"loading...", "please wait", "loading content", "initializing", "loading application"}
	noscriptPhrases = []string{"enable javascript", "requires javascript", "javascript is disabled", "javascript to run", "without javascript"}
	bundleNames     = []string{"bundle.js", "vendor.js", "vendors.js", "runtime.js", "runtime-main.js", "chunk.js"}
)

// RenderScore rates how strongly body looks like a client-side rendered
// application shell. Each signal adds points:
//
//	visible text < 200 chars                +5 (< 500 chars: +2)
//	empty #root/#app/#__next style mount    +4
//	"loading..." style placeholder text     +3
//	app mount point and < 300 chars of text +3
//	many scripts and little text            +2
//	two or more bundle scripts, little text +2
//	<noscript> asking to enable JavaScript  +3
//
// A body that cannot be parsed scores 0.
func RenderScore(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	page := doc.Find("body")
	if page.Length() == 0 {
		return 0
	}

	noscript := strings.ToLower(page.Find("noscript").Text())
	scripts := page.Find("script")
	containers := page.Find(appContainers)

	visibleDoc := page.Clone()
	visibleDoc.Find("script, style, noscript, template").Remove()
	visible := strings.Join(strings.Fields(visibleDoc.Text()), " ")
	visibleLower := strings.ToLower(visible)
	n := len(visible)

	score := 0
	switch {
	case n < 200:
		score += 5
	case n < 500:
		score += 2
	}

	emptyMount := false
	containers.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() == 0 && strings.TrimSpace(s.Text()) == "" {
			emptyMount = true
		}
		return !emptyMount
	})
	if emptyMount {
		score += 4
	}

	if containsAny(visibleLower, loadingPhrases) {
		score += 3
	}

	if containers.Length() > 0 && n < 300 {
		score += 3
	}

	if (scripts.Length() > 5 && n < 500) || (scripts.Length() > 10 && n < 1000) {
		score += 2
	}

	bundles := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if containsAny(strings.ToLower(src), bundleNames) {
			bundles++
		}
	})
	if bundles >= 2 && n < 500 {
		score += 2
	}

	if containsAny(noscript, noscriptPhrases) {
		score += 3
	}

	return score
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
