package dock

import (
	"fmt"

	"github.com/gobwas/glob"
)

// ReplacedList matches serial numbers of equipment the server reported as
// decommissioned. Entries may be exact serials or glob patterns such as "MX6-12*".
type ReplacedList struct {
	patterns []string
	globs    []glob.Glob
}

// NewReplacedList compiles the given patterns.
func NewReplacedList(patterns []string) (*ReplacedList, error) {
	r := &ReplacedList{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling replaced equipment pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, p)
		r.globs = append(r.globs, g)
	}
	return r, nil
}

// Match reports whether serial matches any entry. Empty serials never match.
func (r *ReplacedList) Match(serial string) bool {
	if r == nil || serial == "" {
		return false
	}
	for _, g := range r.globs {
		if g.Match(serial) {
			return true
		}
	}
	return false
}

// Patterns returns the configured entries.
func (r *ReplacedList) Patterns() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.patterns...)
}
