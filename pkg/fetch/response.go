package fetch

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Response is the delivered result of a successful (2xx) fetch.
type Response struct {
	// FinalURL is the request URL after redirects were followed.
	FinalURL *url.URL
	// StatusCode is the delivered status, always in the 2xx range.
	StatusCode int
	// IsText reports whether the Content-Type denotes a textual body
	// (text/*, XML, JSON, JavaScript). Non-text non-200 responses are
	// flagged by the crawler as suspect link targets.
	IsText bool
	// Links holds the absolute, fragment-stripped http(s) URLs found in
	// the body. Populated only when the fetch parsed an HTML body; each
	// URL appears once regardless of how many anchors carry it.
	Links []string
}

// isTextContentType reports whether ct names a textual media type.
func isTextContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/xml", "application/json",
		"application/javascript", "application/x-javascript",
		"application/ecmascript":
		return true
	}
	return strings.HasSuffix(mediaType, "+xml") || strings.HasSuffix(mediaType, "+json")
}

// isHTMLContentType reports whether ct names a body link extraction
// understands.
func isHTMLContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// extractLinks pulls the href targets out of an HTML body. Relative
// URLs resolve against the page URL, or against a <base href> when the
// document declares one. Non-http(s) schemes (mailto:, javascript:,
// tel:) are dropped, fragments are stripped, and duplicates collapse to
// one entry in document order.
func extractLinks(body []byte, pageURL *url.URL, log *logrus.Entry) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warnf("Failed to parse HTML for link extraction: %v", err)
		return nil
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href], area[href]").Each(func(_ int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		linkURL, parseErr := base.Parse(href)
		if parseErr != nil {
			log.Debugf("Skipping unparsable href %q: %v", href, parseErr)
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""

		absolute := linkURL.String()
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}
		links = append(links, absolute)
	})
	return links
}
