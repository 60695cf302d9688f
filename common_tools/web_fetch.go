package common_tools

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// fetchLimit caps how much of a page is read; fetchMaxChars caps the
// extracted text handed back to the model.
const (
	fetchLimit    = 5 * 1024 * 1024
	fetchMaxChars = 20000
)

// WebFetch fetches a URL and extracts its readable text content.
func WebFetch(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}

	resp, err := httpGet(url)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	result := htmlToText(string(body))
	if len(result) > fetchMaxChars {
		result = result[:fetchMaxChars] + "\n...(truncated)"
	}
	return result, nil
}

// httpGet is a package-level var so tests can mock it.
var httpGet = defaultHTTPGet

func defaultHTTPGet(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "genflow/1.0 (Web Fetch Tool)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")
	return http.DefaultClient.Do(req)
}

var (
	reScript   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reTag      = regexp.MustCompile(`<[^>]+>`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// htmlToText strips markup and returns plain text.
func htmlToText(html string) string {
	html = reScript.ReplaceAllString(html, "")
	html = reStyle.ReplaceAllString(html, "")
	text := reTag.ReplaceAllString(html, "")
	text = decodeEntities(text)
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func decodeEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return s
}
