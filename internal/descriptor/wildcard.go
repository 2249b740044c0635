package descriptor

import (
	"regexp"
	"strings"
)

// HasWildcard reports whether p contains * or ?.
func HasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// WildcardToRegex compiles a glob into an anchored regular expression.
// Every character other than * and ? is matched literally; * matches any run
// of characters (including none) and ? matches exactly one.
func WildcardToRegex(p string) *regexp.Regexp {
	var b strings.Builder
	b.Grow(len(p) + 8)
	b.WriteString("^")
	start := 0
	for i, r := range p {
		if r != '*' && r != '?' {
			continue
		}
		b.WriteString(regexp.QuoteMeta(p[start:i]))
		if r == '*' {
			b.WriteString(".*")
		} else {
			b.WriteString(".")
		}
		start = i + 1
	}
	b.WriteString(regexp.QuoteMeta(p[start:]))
	b.WriteString("$")
	// Quoted literals and the two substitutions always form a valid
	// expression, so MustCompile cannot panic here.
	return regexp.MustCompile(b.String())
}
