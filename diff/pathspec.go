package diff

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/vcskit/gitcore/ginternals"
)

// pathspec limits a diff to a set of paths
type pathspec struct {
	ignoreCase bool
	patterns   []string
	globs      []glob.Glob
}

func newPathspec(patterns []string, ignoreCase bool) (*pathspec, error) {
	ps := &pathspec{
		ignoreCase: ignoreCase,
		patterns:   make([]string, 0, len(patterns)),
		globs:      make([]glob.Glob, 0, len(patterns)),
	}
	for _, p := range patterns {
		p = strings.TrimSuffix(strings.TrimPrefix(p, "./"), "/")
		if p == "" || p == "." {
			// matches everything
			return &pathspec{}, nil
		}
		if ignoreCase {
			p = strings.ToLower(p)
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pathspec %q: %s: %w", p, err.Error(), ginternals.ErrInvalidName)
		}
		ps.patterns = append(ps.patterns, p)
		ps.globs = append(ps.globs, g)
	}
	return ps, nil
}

// match returns whether the path is matched by the pathspec.
// An empty pathspec matches everything
func (ps *pathspec) match(p string) bool {
	if len(ps.patterns) == 0 {
		return true
	}
	p = strings.TrimSuffix(p, "/")
	if ps.ignoreCase {
		p = strings.ToLower(p)
	}
	for i, pattern := range ps.patterns {
		if p == pattern || strings.HasPrefix(p, pattern+"/") || ps.globs[i].Match(p) {
			return true
		}
	}
	return false
}
