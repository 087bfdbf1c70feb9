package agent

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a page URL to scheme, host and path without a
// trailing slash. Query and fragment are ignored. Unparseable input is
// returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

func samePage(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}
