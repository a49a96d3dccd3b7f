package enrichment

import (
	"regexp"
	"strings"
)

// Four dot-separated groups of one to three digits. Octet ranges are not checked.
var ipv4Pattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// IsValidIPv4 reports whether candidate looks like a dotted-quad IPv4 address.
// The check is purely lexical: "999.999.1.1" is accepted.
func IsValidIPv4(candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	return ipv4Pattern.MatchString(candidate)
}
