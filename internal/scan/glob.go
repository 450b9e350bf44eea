package scan

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether the slash-separated relative name matches an
// Ant-style pattern. A trailing "/" means "/**".
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(antPattern(pattern), name)
	return err == nil && ok
}

// validPattern rejects malformed patterns such as an unclosed "[".
func validPattern(pattern string) bool {
	return doublestar.ValidatePattern(antPattern(pattern))
}

func antPattern(pattern string) string {
	if strings.HasSuffix(pattern, "/") {
		return pattern + "**"
	}
	return pattern
}
