package ports

import (
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fetched HTML response.
type Page struct {
	URL    string            // Final URL after redirects
	Status int               // HTTP status code
	Body   string            // Raw response text
	Doc    *goquery.Document // Parsed document, never nil
}

// Transport performs browser-like HTTP requests that keep a cookie jar.
type Transport interface {
	// Do sends a request. A non-nil form is sent url-encoded as the body.
	// headers are applied on top of the transport's default header set.
	Do(ctx context.Context, method, rawURL string, form url.Values, headers map[string]string) (*Page, error)
	// Cookies renders the cookie jar for the upstream origin as "k=v; k=v".
	Cookies() string
	// ResetCookies empties the cookie jar.
	ResetCookies()
	// UserAgent is the client identity sent with every request.
	UserAgent() string
}
