package utils

import (
	"regexp"
	"strings"
)

var vanityPattern = regexp.MustCompile(`^[a-z0-9-]{3,32}$`)

// NormalizeVanityCode lowercases and trims code, reporting whether it is a
// valid invite code of 3 to 32 letters, digits or dashes.
func NormalizeVanityCode(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	return code, vanityPattern.MatchString(code)
}
