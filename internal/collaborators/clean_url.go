package collaborators

import (
	"regexp"
	"strings"
)

var markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((https?://[^)]+)\)`)

// CleanURL extracts a bare http(s) URL from a search-result string that may
// arrive wrapped in markdown link syntax ("[title](https://...)"), as the
// search collaborator sometimes returns. Returns "" if nothing usable can be
// extracted, signaling the caller to skip the URL rather than scrape it.
func CleanURL(raw string) string {
	if m := markdownLinkPattern.FindStringSubmatch(raw); m != nil {
		return m[2]
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return ""
}
