// Package pattern converts glob-style URL patterns into matching
// predicates. Patterns support "*" (any run of characters) and "?"
// (a single character); everything else matches literally.
package pattern

import (
	"regexp"
	"strings"

	"webmonitor/internal/model"
)

// Compile translates a glob pattern into an anchored regular
// expression. Regex metacharacters other than * and ? are escaped.
func Compile(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Matches reports whether the URL matches the glob pattern. Patterns
// that fail to compile never match.
func Matches(url, glob string) bool {
	re, err := Compile(glob)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}

// MatchesAny reports whether any enabled pattern matches the URL.
func MatchesAny(url string, patterns []model.Pattern) bool {
	for _, p := range patterns {
		if p.Enabled && Matches(url, p.Pattern) {
			return true
		}
	}
	return false
}

// ShouldInclude applies the include/exclude rules:
// an enabled exclude match always wins; an empty include list admits
// everything; otherwise at least one enabled include must match.
func ShouldInclude(url string, include, exclude []model.Pattern) bool {
	if MatchesAny(url, exclude) {
		return false
	}
	if !hasEnabled(include) {
		return true
	}
	return MatchesAny(url, include)
}

func hasEnabled(patterns []model.Pattern) bool {
	for _, p := range patterns {
		if p.Enabled {
			return true
		}
	}
	return false
}
