package fetch

import (
	"net/url"
	"strings"
)

// Endpoint names one remote resource.
type Endpoint struct {
	// Route is a stable label used for metrics and the request budget.
	Route string
	// Path is appended to the client's base URL. Segments must already be escaped.
	Path  string
	Query url.Values
}

// URL renders the endpoint against base.
func (e Endpoint) URL(base string) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(e.Path, "/")
	if len(e.Query) > 0 {
		u += "?" + e.Query.Encode()
	}
	return u
}
