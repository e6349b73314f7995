// Package ignore decides which filesystem paths a scan must skip.
package ignore

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidPattern is returned (wrapped) by New when an ignore expression
// does not compile.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

// Matcher holds the immutable ignore rules for one run. It is safe for
// concurrent use.
type Matcher struct {
	absPaths map[string]struct{}
	patterns []*regexp.Regexp
}

// New builds a Matcher from exact absolute paths and regular expressions.
// Any expression that fails to compile aborts construction.
func New(absPaths, patterns []string) (*Matcher, error) {
	m := &Matcher{absPaths: make(map[string]struct{}, len(absPaths))}
	for _, p := range absPaths {
		m.absPaths[p] = struct{}{}
	}
	for _, expr := range patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, expr, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// IsIgnored reports whether path is excluded. Paths are compared as given;
// separators are not normalised. A nil Matcher ignores nothing.
func (m *Matcher) IsIgnored(path string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.absPaths[path]; ok {
		return true
	}
	for _, re := range m.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
