package upload

import (
	"net/url"
	"strings"
)

// RedactLocation masks credentials embedded in a source location. URL
// userinfo becomes "***"; locations without credentials pass through
// unchanged. Redacted locations are what gets logged and persisted.
func RedactLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	masked := "***"
	if name := u.User.Username(); name != "" {
		if _, hasPass := u.User.Password(); hasPass {
			masked = name + ":***"
		} else {
			masked = name
		}
	}
	return strings.Replace(location, u.User.String()+"@", masked+"@", 1)
}
