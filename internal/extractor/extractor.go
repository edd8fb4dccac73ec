// Package extractor parses fetched HTML into structured metadata.
package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Default truncation caps applied when Config leaves them zero.
const (
	DefaultMaxLinks  = 100
	DefaultMaxImages = 50
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:"}

// Config bounds extraction output.
type Config struct {
	MaxLinks  int
	MaxImages int
}

// Extractor implements scraper.Extractor using goquery. Extraction is
// best-effort: malformed markup degrades field by field, never errors.
type Extractor struct {
	cfg Config
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = DefaultMaxLinks
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	return &Extractor{cfg: cfg}
}

// Extract pulls title, meta description, links and images out of body,
// resolving relative references against baseURL.
func (e *Extractor) Extract(baseURL string, body []byte) scraper.ExtractedContent {
	content := scraper.ExtractedContent{
		URL:    baseURL,
		Links:  []string{},
		Images: []string{},
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return content
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		base = &url.URL{}
	}

	content.Title = strings.TrimSpace(doc.Find("title").First().Text())
	content.MetaDescription = metaDescription(doc)
	content.Links, content.LinksCount = collectRefs(doc, base, "a[href]", "href", e.cfg.MaxLinks, true)
	content.Images, content.ImagesCount = collectRefs(doc, base, "img[src]", "src", e.cfg.MaxImages, false)
	return content
}

// metaDescription prefers name=description and falls back to og:description.
func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}

// collectRefs gathers attribute values under selector, resolved to
// absolute URLs. The count reflects every valid entry found; the slice
// is truncated to max.
func collectRefs(
	doc *goquery.Document,
	base *url.URL,
	selector string,
	attr string,
	max int,
	filterSchemes bool,
) ([]string, int) {
	out := []string{}
	count := 0
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr(attr)
		if !ok {
			return
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if filterSchemes && hasSkippedScheme(raw) {
			return
		}
		abs, ok := scraper.ResolveURL(base, raw)
		if !ok {
			return
		}
		count++
		if len(out) < max {
			out = append(out, abs)
		}
	})
	return out, count
}

func hasSkippedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
