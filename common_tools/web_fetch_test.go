package common_tools

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func mockGet(t *testing.T, status int, body string) func() {
	t.Helper()
	orig := httpGet
	httpGet = func(url string) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
	return func() { httpGet = orig }
}

func TestWebFetchExtractsText(t *testing.T) {
	restore := mockGet(t, 200, `<html><head><style>p{}</style><script>x()</script></head><body><p>Hello &amp; welcome</p></body></html>`)
	defer restore()

	got, err := WebFetch("http://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello & welcome" {
		t.Errorf("unexpected extraction: %q", got)
	}
}

func TestWebFetchRejectsEmptyURL(t *testing.T) {
	if _, err := WebFetch(""); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestWebFetchNon200(t *testing.T) {
	restore := mockGet(t, 404, "not found")
	defer restore()

	if _, err := WebFetch("http://example.com/missing"); err == nil {
		t.Error("expected error for HTTP 404")
	}
}
